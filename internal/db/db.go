package db

import (
	"fmt"
	"log/slog"
	"time"

	"bloglytics/internal/config"
	"bloglytics/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the configured database, migrates it and seeds categories.
func Init(cfg config.Config, log *slog.Logger) (*gorm.DB, error) {
	g, err := Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("database connection established", "driver", cfg.DBDriver)

	if err := Migrate(g); err != nil {
		return nil, err
	}
	log.Info("database migration completed")

	if err := SeedCategories(g, log); err != nil {
		return nil, err
	}

	return g, nil
}

// Open connects without migrating. driver is "postgres" or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	g, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if driver == "sqlite" {
		// sqlite 只允许单个写连接
		sqlDB, err := g.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return g, nil
}

func Migrate(g *gorm.DB) error {
	err := g.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.BlogPost{},
		&models.Comment{},
		&models.PostLike{},
		&models.PasswordResetToken{},
		&models.PendingRegistration{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}

func SeedCategories(g *gorm.DB, log *slog.Logger) error {
	// 检查是否已有分类数据
	var count int64
	if err := g.Model(&models.Category{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if count > 0 {
		log.Debug("categories already seeded, skipping")
		return nil
	}

	categories := []models.Category{
		{Name: "Technology", Description: "Software, hardware and the web", IsActive: true},
		{Name: "Lifestyle", Description: "Everyday life, habits and experiences", IsActive: true},
		{Name: "Travel", Description: "Places, journeys and guides", IsActive: true},
		{Name: "Business", Description: "Startups, careers and markets", IsActive: true},
		{Name: "Health", Description: "Fitness, food and wellbeing", IsActive: true},
	}
	for _, c := range categories {
		if err := g.Create(&c).Error; err != nil {
			return fmt.Errorf("create category %s: %w", c.Name, err)
		}
	}
	log.Info("initial categories created", "count", len(categories))
	return nil
}
