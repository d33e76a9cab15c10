package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chat_relay_service/pkg/logger"

	_ "github.com/go-sql-driver/mysql" // mysql driver for database/sql
	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver for database/sql
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabaseConnection create a new postgresSQL connection
func NewDatabaseConnection(d Connection) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	dbConfig, err := pgxpool.ParseConfig(d.ConnectStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for i := 0; i < max(d.RetryCount, 1); i++ {
		pool, err = pgxpool.ConnectConfig(context.Background(), dbConfig)
		if err == nil {
			break
		}
		logger.Log.Warn(
			"Failed to connect to postgreSQL database, retrying...",
			zap.Int("attempt", i+1),
			zap.String("address", fmt.Sprintf("[%s]", d.ConnectStr)),
			zap.Error(err),
		)
		time.Sleep(d.RetryInterval * time.Second)
	}

	return pool, err
}

// NewGormConnection open postgres through gorm with the same retry policy
func NewGormConnection(d Connection) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < max(d.RetryCount, 1); i++ {
		db, err = gorm.Open(postgres.Open(d.ConnectStr), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			return db, nil
		}
		logger.Log.Warn("Failed to open gorm postgres, retrying...", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(d.RetryInterval * time.Second)
	}
	return nil, err
}

// NewSQLConnection open a database/sql pool (driver "mysql" or "sqlite3") and ping it
func NewSQLConnection(driver string, d Connection) (*sql.DB, error) {
	var lastErr error
	for i := 0; i < max(d.RetryCount, 1); i++ {
		db, err := sql.Open(driver, d.ConnectStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logger.Log.Warn("Failed to open sql database, retrying...",
			zap.String("driver", driver), zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(d.RetryInterval * time.Second)
	}
	return nil, fmt.Errorf("open %s: %w", driver, lastErr)
}
