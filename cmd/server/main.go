package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"bloglytics/internal/config"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
)

const (
	templatesDirFlag = "templates"
	staticDirFlag    = "static"
	emailFlag        = "email"
	nameFlag         = "name"
	passwordFlag     = "password"
)

var serveFlags = map[string]cobraflags.Flag{
	templatesDirFlag: &cobraflags.StringFlag{
		Name:  templatesDirFlag,
		Value: "./web/templates",
		Usage: "Directory with layouts, includes, components and views",
	},
	staticDirFlag: &cobraflags.StringFlag{
		Name:  staticDirFlag,
		Value: "./web/static",
		Usage: "Directory served under /static",
	},
}

var adminFlags = map[string]cobraflags.Flag{
	emailFlag: &cobraflags.StringFlag{
		Name:  emailFlag,
		Value: "",
		Usage: "Admin email (required)",
	},
	nameFlag: &cobraflags.StringFlag{
		Name:  nameFlag,
		Value: "Administrator",
		Usage: "Display name",
	},
	passwordFlag: &cobraflags.StringFlag{
		Name:  passwordFlag,
		Value: "",
		Usage: "Password; falls back to ADMIN_PASSWORD",
	},
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "bloglytics",
		Short:         "Bloglytics blogging platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serveCommand, // 默认启动 Web 服务
	}
	cobraflags.RegisterMap(root, serveFlags)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  serveCommand,
	}
	cobraflags.RegisterMap(serve, serveFlags)

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables and seed categories",
		RunE:  migrateCommand,
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account or promote an existing one",
		RunE:  createAdminCommand,
	}
	cobraflags.RegisterMap(createAdmin, adminFlags)

	root.AddCommand(serve, migrate, createAdmin)
	return root
}

// newLogger 开发环境文本输出，生产环境 JSON
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("app", "bloglytics")
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
