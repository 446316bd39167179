package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/model"
)

// Init opens the configured database and runs migrations
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialector)
}

// OpenSQLite opens a sqlite database at path using the pure Go driver.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	return Open(sqliteDialector(path))
}

// Open connects through dialector and runs migrations
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// sqlite serializes writers; a single connection also keeps
		// in-memory databases from splitting across connections.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := runMigrations(db); err != nil {
		return nil, err
	}

	logrus.Info("Database initialized successfully")
	return db, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql":
		return mysql.Open(cfg.GetDSN()), nil
	case "sqlite":
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqliteDialector(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// sqliteDialector routes gorm's sqlite dialect through modernc.org/sqlite,
// which registers itself as "sqlite".
func sqliteDialector(path string) gorm.Dialector {
	return &sqlite.Dialector{DriverName: "sqlite", DSN: path}
}

func runMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")
	if err := db.AutoMigrate(&model.Request{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	logrus.Info("Database migrations completed")
	return nil
}
