package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classattend/internal/attendance"
	"classattend/internal/auth"
	"classattend/internal/catalog"
	"classattend/internal/cloudinary"
	"classattend/internal/config"
	"classattend/internal/faceclient"
	"classattend/internal/handler"
	"classattend/internal/httpmiddleware"
	"classattend/internal/logging"
	"classattend/internal/metrics"
	"classattend/internal/observability"
	"classattend/internal/queue"
	"classattend/internal/scanlog"
	"classattend/internal/store"
)

var version = "dev"

func main() {
	cfg := config.Load()

	log, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(256)
		messages, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go scanlog.NewSink(scanlog.NewRepository(db.Client), log.Named("scanlog")).Run(ctx, messages)
		q = mem
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceSkipName)
	if err := face.Health(ctx); err != nil {
		log.Warn("face service not available", zap.String("url", cfg.FaceServiceURL), zap.Error(err))
	}

	opts := []attendance.Option{attendance.WithPublisher(q)}
	if cfg.RecapCacheTTL > 0 {
		opts = append(opts, attendance.WithRecapCache(attendance.NewRedisRecapCache(redisClient, cfg.RecapCacheTTL)))
	}
	if cfg.CloudinaryEnabled() {
		opts = append(opts, attendance.WithArchiver(
			cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)))
		log.Info("cloudinary archival enabled", zap.String("cloud", cfg.CloudinaryCloudName))
	}
	att := attendance.NewService(attendance.NewRepository(db.Client), face, log.Named("attendance"), opts...)

	settings := auth.Settings{
		Issuer:     cfg.JWTIssuer,
		Key:        cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	h := handler.New(att, catalog.NewService(catalog.NewRepository(db.Client)), log,
		handler.WithDevices(auth.NewDevices(auth.NewRepository(db.Client), settings)),
		handler.WithRegistrationKey(cfg.RegistrationKey),
		handler.WithScanLog(scanlog.NewRepository(db.Client)),
		handler.WithUploads(cfg.UploadDir, int64(cfg.MaxUploadMB)<<20),
		handler.WithLocation(time.Local),
		handler.WithHealthCheck("db", db),
		handler.WithHealthCheck("redis", redisClient),
		handler.WithHealthCheck("face", handler.CheckFunc(func(ctx context.Context) bool {
			return face.Health(ctx) == nil
		})),
	)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(log.Named("http"), "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())
	r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	var markAuth []gin.HandlerFunc
	if cfg.AuthRequired {
		markAuth = append(markAuth, auth.DeviceAuth(settings))
	}
	h.Routes(r, markAuth...)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func init() {
	if v := os.Getenv("APP_VERSION"); v != "" {
		version = v
	}
}
