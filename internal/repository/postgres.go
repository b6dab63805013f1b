package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pneumoscan/pneumoscan/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Pool returns the underlying connection pool.
// Use sparingly - prefer adding methods to Postgres.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

// GetByUser retrieves the prediction document of a user.
func (p *Postgres) GetByUser(ctx context.Context, username string) (*model.PredictionsDocument, error) {
	query := `
		SELECT username, images
		FROM predictions
		WHERE username = $1
	`

	doc, err := scanDocument(p.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get predictions: %w", err)
	}

	return doc, nil
}

// AppendImage prepends a record, creating the row on first upload.
func (p *Postgres) AppendImage(ctx context.Context, username string, record model.PredictionRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid prediction record: %w", err)
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode prediction record: %w", err)
	}

	query := `
		INSERT INTO predictions (username, images, updated_at)
		VALUES ($1, jsonb_build_array($2::jsonb), now())
		ON CONFLICT (username) DO UPDATE
		SET images = jsonb_build_array($2::jsonb) || predictions.images,
		    updated_at = now()
	`

	if _, err := p.pool.Exec(ctx, query, username, string(raw)); err != nil {
		return fmt.Errorf("failed to append prediction: %w", err)
	}

	return nil
}

// ScanAll reads every prediction document.
func (p *Postgres) ScanAll(ctx context.Context) ([]*model.PredictionsDocument, error) {
	query := `
		SELECT username, images
		FROM predictions
		ORDER BY username
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to scan predictions: %w", err)
	}
	defer rows.Close()

	var docs []*model.PredictionsDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read prediction row: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating predictions: %w", err)
	}

	return docs, nil
}

// CreateUser inserts a new account.
func (p *Postgres) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (username, email, password_hash, sub, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := p.pool.Exec(ctx, query,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Sub,
		user.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUser retrieves an account by username.
func (p *Postgres) GetUser(ctx context.Context, username string) (*model.User, error) {
	query := `
		SELECT username, email, password_hash, sub, created_at
		FROM users
		WHERE username = $1
	`

	var user model.User
	err := p.pool.QueryRow(ctx, query, username).Scan(
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Sub,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func scanDocument(row pgx.Row) (*model.PredictionsDocument, error) {
	var (
		doc    model.PredictionsDocument
		images []byte
	)
	if err := row.Scan(&doc.Username, &images); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(images, &doc.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if doc.Images == nil {
		doc.Images = []model.PredictionRecord{}
	}
	return &doc, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
