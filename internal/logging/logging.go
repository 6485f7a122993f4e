// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/LicenseGuard/internal/config"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 20
	logMaxBackups = 5
	logMaxAgeDays = 14
)

// Setup applies level, formatter and output from cfg. The returned func
// closes the rotating file, if any.
func Setup(cfg config.ServerConfig) (func() error, error) {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		log.SetLevel(log.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}

	if !cfg.LoggingToFile {
		log.SetOutput(os.Stdout)
		return func() error { return nil }, nil
	}

	dir := strings.TrimSpace(cfg.LogDir)
	if dir == "" {
		dir = internalsettings.DefaultLogDir
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", errMkdir)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, internalsettings.DefaultLogFileName),
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	gin.DefaultWriter = io.MultiWriter(os.Stdout, rotator)
	return rotator.Close, nil
}
