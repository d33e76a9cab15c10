package repository

import (
	"context"
	"database/sql"
	"errors"

	"chat_relay_service/internal/relay/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ErrUserNotFound identifier matches no user
var ErrUserNotFound = errors.New("user not found")

// UserDirectory read-only lookup in the externally managed users table
type UserDirectory interface {
	// Lookup by email or phone number; the phone number is the relay identity
	Lookup(ctx context.Context, identifier string) (*domain.UserProfile, error)
}

type postgresDirectory struct {
	db *pgxpool.Pool
}

// NewPostgresDirectory UserDirectory on postgres
func NewPostgresDirectory(db *pgxpool.Pool) UserDirectory {
	return &postgresDirectory{db: db}
}

func (d *postgresDirectory) Lookup(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	row := d.db.QueryRow(ctx,
		"SELECT phone_number, name, email FROM users WHERE email = $1 OR phone_number = $1 LIMIT 1", identifier)
	var u domain.UserProfile
	if err := row.Scan(&u.Identity, &u.Name, &u.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

type mysqlDirectory struct {
	db *sql.DB
}

// NewMySQLDirectory UserDirectory on mysql through database/sql
func NewMySQLDirectory(db *sql.DB) UserDirectory {
	return &mysqlDirectory{db: db}
}

func (d *mysqlDirectory) Lookup(ctx context.Context, identifier string) (*domain.UserProfile, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT phone_number, name, email FROM users WHERE email = ? OR phone_number = ? LIMIT 1", identifier, identifier)
	var u domain.UserProfile
	if err := row.Scan(&u.Identity, &u.Name, &u.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
