package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(ctx context.Context, config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := applyMigrations(config.DSN()); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("PostgreSQL identity storage ready",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))

	return &PostgresStorage{db: db, logger: logger}, nil
}

// applyMigrations runs on its own connection because closing a migrate
// instance closes the database handle it was given.
func applyMigrations(dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("error opening migration connection: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("error reading migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("error creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Lookup(ctx context.Context, sessionKey string) (models.UserIdentity, bool, error) {
	query := `
		SELECT user_id, child_user_id
		FROM session_identities
		WHERE session_key = $1`

	var identity models.UserIdentity
	err := s.db.QueryRowContext(ctx, query, sessionKey).Scan(&identity.UserID, &identity.ChildUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserIdentity{}, false, nil
	}
	if err != nil {
		return models.UserIdentity{}, false, fmt.Errorf("error querying session identity: %w", err)
	}

	return identity, true, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
