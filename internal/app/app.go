package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/router-for-me/LicenseGuard/internal/cache"
	"github.com/router-for-me/LicenseGuard/internal/config"
	"github.com/router-for-me/LicenseGuard/internal/db"
	"github.com/router-for-me/LicenseGuard/internal/http/api/admin"
	"github.com/router-for-me/LicenseGuard/internal/http/api/front"
	"github.com/router-for-me/LicenseGuard/internal/license"
	"github.com/router-for-me/LicenseGuard/internal/logging"
	"github.com/router-for-me/LicenseGuard/internal/metrics"
	"github.com/router-for-me/LicenseGuard/internal/ratelimit"
	"github.com/router-for-me/LicenseGuard/internal/reconcile"
	"github.com/router-for-me/LicenseGuard/internal/redisconn"
	internalsettings "github.com/router-for-me/LicenseGuard/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Service holds the wired components behind one HTTP engine.
type Service struct {
	Engine     *gin.Engine
	Verifier   *license.Verifier
	Reconciler *reconcile.Reconciler
	Limiter    *ratelimit.Guard
	Registry   *prometheus.Registry

	closers []func() error
}

// Close releases the shared Redis connection, if one was opened.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if errClose := s.closers[i](); errClose != nil {
			errs = append(errs, errClose)
		}
	}
	return errors.Join(errs...)
}

// BuildService wires cache, verifier, reconciler, limiter and metrics
// around an open, migrated database and registers every route.
func BuildService(ctx context.Context, conn *gorm.DB, serverCfg config.ServerConfig, jwtCfg config.JWTConfig) (*Service, error) {
	if conn == nil {
		return nil, fmt.Errorf("app: nil database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	svc := &Service{Registry: registry}
	var redisConn *redisconn.Conn
	if serverCfg.Cache.Backend == internalsettings.CacheBackendRedis || serverCfg.RateLimit.Shared {
		conn, errDial := redisconn.Dial(ctx, serverCfg.Cache.RedisURL)
		if errDial != nil {
			return nil, errDial
		}
		redisConn = conn
		svc.closers = append(svc.closers, conn.Close)
	}

	lookupCache, errCache := cache.New(serverCfg.Cache, redisConn)
	if errCache != nil {
		_ = svc.Close()
		return nil, errCache
	}

	opts := []license.VerifierOption{
		license.WithWallClockExpiry(serverCfg.WallClockExpiryEnabled()),
		license.WithStoreTimeout(serverCfg.Verify.StoreTimeout),
		license.WithMetrics(m),
	}
	if lookupCache != nil {
		opts = append(opts, license.WithCache(lookupCache, serverCfg.Cache.TTL))
	}
	svc.Verifier = license.NewVerifier(license.NewGormStore(conn), opts...)
	svc.Reconciler = reconcile.NewReconciler(conn, serverCfg.Reconcile.Interval, m)
	svc.Limiter = ratelimit.NewGuard(serverCfg.RateLimit, redisConn, serverCfg.Cache.Prefix, m)

	engine := gin.New()
	// Client addresses feed the verify rate limit, so forwarding headers
	// count only from configured proxies.
	if errProxies := engine.SetTrustedProxies(serverCfg.TrustedProxies); errProxies != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("app: trusted proxies: %w", errProxies)
	}
	engine.Use(gin.Recovery())
	engine.Use(requestLogger())

	front.RegisterFrontRoutes(engine, front.Deps{
		Verifier:       svc.Verifier,
		Reconciler:     svc.Reconciler,
		Limiter:        svc.Limiter,
		ResponseFormat: serverCfg.Verify.ResponseFormat,
		CronSecret:     serverCfg.CronSecret,
		Gatherer:       registry,
	})
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:         conn,
		JWT:        jwtCfg,
		Cache:      lookupCache,
		Reconciler: svc.Reconciler,
	})
	engine.GET("/v0/init/status", func(c *gin.Context) {
		initialized, errInit := HasAdminInitialized(conn)
		if errInit != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "check admin status failed"})
			return
		}
		c.JSON(http.StatusOK, InitStatusResponse{Initialized: initialized})
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	svc.Engine = engine
	return svc, nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn)
}

// ReconcileOnce opens the database, runs one expiry reconciliation and
// returns the transition counts.
func ReconcileOnce(ctx context.Context, cfg config.AppConfig) (reconcile.Result, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return reconcile.Result{}, err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return reconcile.Result{}, err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return reconcile.Result{}, errMigrate
	}
	return reconcile.NewReconciler(conn, 0, nil).RunOnce(ctx)
}

// RunServer boots the verification and management server.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	closeLogs, err := logging.Setup(serverCfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeLogs() }()

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if jwtConfig.Secret == "" {
		log.Warn("jwt secret is empty; admin login is disabled")
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if summary, errSummary := summarizeDSN(dsn); errSummary == nil {
		log.Infof("database ready: %s", summary)
	}

	if errAdmin := EnsureAdminUser(conn, serverCfg.Admin); errAdmin != nil {
		return errAdmin
	}

	svc, err := BuildService(ctx, conn, serverCfg, jwtConfig)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := svc.Close(); errClose != nil {
			log.WithError(errClose).Warn("service close error")
		}
	}()

	port := serverCfg.Port
	if port <= 0 {
		port = defaultPort
	}
	if port <= 0 {
		port = internalsettings.DefaultPort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", serverCfg.Host, port),
		Handler:           svc.Engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	svc.Reconciler.Start(gctx)
	g.Go(func() error {
		log.Infof("starting %s on %s (config=%s)", internalsettings.DefaultSiteName, srv.Addr, configPath)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			return errListen
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
			return errShutdown
		}
		log.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// requestLogger logs each request at debug level through logrus.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		}).Debug("http request")
	}
}
