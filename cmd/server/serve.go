package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bloglytics/internal/config"
	"bloglytics/internal/db"
	"bloglytics/internal/handlers"
	"bloglytics/internal/middleware"
	"bloglytics/internal/router"
	"bloglytics/internal/services"
	"bloglytics/internal/store"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

const (
	cleanupInterval = time.Hour
	shutdownTimeout = 10 * time.Second
)

// buildDeps wires stores and services over one database handle.
func buildDeps(cfg config.Config, g *gorm.DB, logger *slog.Logger) (*handlers.Deps, error) {
	stats, err := store.NewStatsStore(g,
		store.WithLogger(logger),
		store.WithTracer(otel.Tracer("bloglytics/store")),
		store.WithMeter(otel.Meter("bloglytics/store")),
	)
	if err != nil {
		return nil, err
	}

	users := store.NewUserStore(g)
	categories := store.NewCategoryStore(g)
	identity := &services.IdentityService{
		Users:         users,
		Registrations: store.NewRegistrationStore(g),
		ResetTokens:   store.NewResetTokenStore(g),
		Notifier:      services.NewMailService(&cfg, logger),
		Tokens: &services.TokenIssuer{
			Secret:     []byte(cfg.JWTSecret),
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
			TTL:        cfg.TokenTTL,
			RememberMe: cfg.RememberMeTTL,
		},
		Logger:   logger,
		OTPTTL:   cfg.OTPTTL,
		ResetTTL: cfg.ResetTokenTTL,
		SiteURL:  cfg.SiteBase(),
	}

	return &handlers.Deps{
		Config:     cfg,
		Logger:     logger,
		Identity:   identity,
		Users:      users,
		Blogs:      store.NewBlogStore(g).OnChange(categories.Invalidate),
		Categories: categories,
		Comments:   store.NewCommentStore(g),
		Stats:      stats,
		Blobs:      services.NewLocalBlobStore(cfg.UploadDir, cfg.MaxUploadBytes, logger),
		Captcha:    services.NewCaptchaService(),
	}, nil
}

func newEngine(cfg config.Config, deps *handlers.Deps, templatesDir, staticDir string) *gin.Engine {
	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	// 图片本身已压缩
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedExtensions([]string{".png", ".jpg", ".jpeg", ".gif"}),
		gzip.WithExcludedPaths([]string{"/uploads"}),
	))
	r.MaxMultipartMemory = cfg.MaxUploadBytes + 1<<20

	// Setup Sessions
	r.Use(sessions.Sessions(middleware.SessionName, middleware.NewSessionStore([]byte(cfg.SessionSecret), cfg.CookieSecure())))

	r.HTMLRender = loadTemplates(templatesDir)
	r.Static("/static", staticDir)

	router.RegisterRoutes(r, deps)
	return r
}

func serveCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	g, err := db.Init(cfg, logger)
	if err != nil {
		return err
	}
	if err := bootstrapAdmin(cmd.Context(), cfg, g, logger); err != nil {
		return err
	}

	deps, err := buildDeps(cfg, g, logger)
	if err != nil {
		return err
	}
	if !cfg.MailEnabled() {
		logger.Warn("SMTP not configured, verification and reset mails will not be delivered")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 定时清理过期的注册和重置令牌
	services.NewJanitor(cleanupInterval, logger).
		Add("pending_registrations", deps.Identity.Registrations).
		Add("password_reset_tokens", deps.Identity.ResetTokens).
		Start(ctx)

	engine := newEngine(cfg, deps,
		serveFlags[templatesDirFlag].GetString(),
		serveFlags[staticDirFlag].GetString())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Bloglytics server starting", "addr", cfg.Addr, "env", cfg.Env, "site", cfg.SiteBase())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateCommand(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := db.Init(cfg, logger); err != nil {
		return err
	}
	logger.Info("migration finished")
	return nil
}
