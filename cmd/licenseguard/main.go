package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/router-for-me/LicenseGuard/internal/app"
	"github.com/router-for-me/LicenseGuard/internal/config"
	"github.com/router-for-me/LicenseGuard/internal/license"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"

	log "github.com/sirupsen/logrus"
)

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if errRun := run(ctx, os.Args[1:], os.Stdout); errRun != nil {
		log.WithError(errRun).Error("command failed")
		os.Exit(1)
	}
}

// run parses flags, then runs a one-shot command or starts the init or main server.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("licenseguard", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", internalsettings.DefaultPort, "server port (used for init server and initial config)")
	reconcileOnce := fs.Bool("reconcile", false, "run the expiry reconciler once, print the result as JSON and exit")
	generateKeys := fs.Int("generate-keys", 0, "print N freshly generated license keys and exit")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	if errValidate := validatePort(*port); errValidate != nil {
		return errValidate
	}

	if *generateKeys > 0 {
		return printKeys(stdout, *generateKeys)
	}
	if *generateKeys < 0 {
		return fmt.Errorf("invalid -generate-keys: %d", *generateKeys)
	}

	appCfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if strings.TrimSpace(*cfgPath) != "" {
		appCfg.ConfigPath = config.ResolveConfigPath(*cfgPath)
	}

	if *reconcileOnce {
		result, errReconcile := app.ReconcileOnce(ctx, appCfg)
		if errReconcile != nil {
			return errReconcile
		}
		return json.NewEncoder(stdout).Encode(result)
	}

	configPath := config.ResolveConfigPath(appCfg.ConfigPath)
	if !app.ConfigExists(configPath) && strings.TrimSpace(os.Getenv(config.EnvDBConnection)) == "" {
		log.Info("config.yaml not found, starting init server...")
		errInit := app.RunInitServer(ctx, appCfg, *port)
		if errors.Is(errInit, app.ErrInitCompleted) {
			log.Info("initialization completed, starting main server...")
			return app.RunServer(ctx, appCfg, *port)
		}
		return errInit
	}

	return app.RunServer(ctx, appCfg, *port)
}

// printKeys writes n generated license keys, one per line.
func printKeys(w io.Writer, n int) error {
	for i := 0; i < n; i++ {
		key, errGenerate := license.GenerateKey(time.Now())
		if errGenerate != nil {
			return errGenerate
		}
		if _, errWrite := fmt.Fprintln(w, key); errWrite != nil {
			return errWrite
		}
	}
	return nil
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}
