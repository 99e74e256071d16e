package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gimlee/settlement/internal/core/domain"
	"github.com/gimlee/settlement/internal/core/ports"
	badgerdb "github.com/gimlee/settlement/internal/infrastructure/db/badger"
	pgdb "github.com/gimlee/settlement/internal/infrastructure/db/postgres"
	sqlitedb "github.com/gimlee/settlement/internal/infrastructure/db/sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	sqliteDbFile = "settlement.db"
)

var (
	//go:embed sqlite/migration/*
	sqliteMigrations embed.FS
	//go:embed postgres/migration/*
	postgresMigrations embed.FS

	allowedTypes = strings.Join([]string{"badger", "sqlite", "postgres"}, ",")
)

type ServiceConfig struct {
	DbType   string
	DbConfig []any
}

type service struct {
	paymentRepo      domain.PaymentRepository
	exchangeRateRepo domain.ExchangeRateRepository
	locker           ports.Locker
	close            func()
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	var (
		paymentRepo      domain.PaymentRepository
		exchangeRateRepo domain.ExchangeRateRepository
		locker           ports.Locker
		closeFn          func()
		err              error
	)

	switch config.DbType {
	case "badger":
		if len(config.DbConfig) != 2 {
			return nil, fmt.Errorf("badger db config must have 2 elements, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		var logger badger.Logger
		if config.DbConfig[1] != nil {
			logger, ok = config.DbConfig[1].(badger.Logger)
			if !ok {
				return nil, fmt.Errorf("invalid logger")
			}
		}
		paymentRepo, err = badgerdb.NewPaymentRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open payment db: %s", err)
		}
		exchangeRateRepo, err = badgerdb.NewExchangeRateRepository(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open exchange rate db: %s", err)
		}
		badgerLocker, err := badgerdb.NewLocker(baseDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open lock db: %s", err)
		}
		locker = badgerLocker
		closeFn = func() {
			paymentRepo.Close()
			exchangeRateRepo.Close()
			if c, ok := badgerLocker.(interface{ Close() }); ok {
				c.Close()
			}
		}

	case "sqlite":
		if len(config.DbConfig) != 1 {
			return nil, fmt.Errorf("sqlite db config must have 1 element, got %d", len(config.DbConfig))
		}
		baseDir, ok := config.DbConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}
		dbFile := filepath.Join(baseDir, sqliteDbFile)
		db, err := sqlitedb.OpenDb(dbFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}
		if err := runMigrations(sqliteMigrations, "sqlite/migration", "sqlite", driver); err != nil {
			return nil, err
		}

		if paymentRepo, err = sqlitedb.NewPaymentRepository(db); err != nil {
			return nil, fmt.Errorf("failed to open payment db: %s", err)
		}
		if exchangeRateRepo, err = sqlitedb.NewExchangeRateRepository(db); err != nil {
			return nil, fmt.Errorf("failed to open exchange rate db: %s", err)
		}
		if locker, err = sqlitedb.NewLocker(db); err != nil {
			return nil, fmt.Errorf("failed to open locker: %s", err)
		}
		closeFn = func() {
			// nolint:errcheck
			db.Close()
		}

	case "postgres":
		if len(config.DbConfig) != 1 {
			return nil, fmt.Errorf("postgres db config must have 1 element, got %d", len(config.DbConfig))
		}
		dsn, ok := config.DbConfig[0].(string)
		if !ok || dsn == "" {
			return nil, fmt.Errorf("invalid postgres dsn")
		}
		pool, err := pgdb.OpenPool(context.Background(), dsn)
		if err != nil {
			return nil, err
		}

		db := stdlib.OpenDBFromPool(pool)
		driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}
		if err := runMigrations(postgresMigrations, "postgres/migration", "postgres", driver); err != nil {
			pool.Close()
			return nil, err
		}

		if paymentRepo, err = pgdb.NewPaymentRepository(pool); err != nil {
			return nil, fmt.Errorf("failed to open payment db: %s", err)
		}
		if exchangeRateRepo, err = pgdb.NewExchangeRateRepository(pool); err != nil {
			return nil, fmt.Errorf("failed to open exchange rate db: %s", err)
		}
		if locker, err = pgdb.NewLocker(pool); err != nil {
			return nil, fmt.Errorf("failed to open locker: %s", err)
		}
		closeFn = func() {
			// nolint:errcheck
			db.Close()
			pool.Close()
		}

	default:
		return nil, fmt.Errorf("unsopported db type %s, please select one of %s", config.DbType, allowedTypes)
	}

	return &service{
		paymentRepo:      paymentRepo,
		exchangeRateRepo: exchangeRateRepo,
		locker:           locker,
		close:            closeFn,
	}, nil
}

func (s *service) Payments() domain.PaymentRepository {
	return s.paymentRepo
}

func (s *service) ExchangeRates() domain.ExchangeRateRepository {
	return s.exchangeRateRepo
}

func (s *service) Locker() ports.Locker {
	return s.locker
}

func (s *service) Close() {
	s.close()
}

func runMigrations(fs embed.FS, dir, dbName string, driver database.Driver) error {
	source, err := iofs.New(fs, dir)
	if err != nil {
		return fmt.Errorf("failed to embed migrations: %s", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %s", err)
	}

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty migration state; manual intervention required")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %s", err)
	}
	return nil
}
