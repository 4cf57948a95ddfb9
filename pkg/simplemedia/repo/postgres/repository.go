package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can open transactions, such as *pgxpool.Pool
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simplemedia.Repository and simplemedia.SlotStore using PostgreSQL
type Repository struct {
	db DB
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s violates %s", simplemedia.ErrConflict, operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: referenced record not found in %s", simplemedia.ErrMediaNotFound, operation)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Media operations

func (r *Repository) CreateMedia(ctx context.Context, media *simplemedia.Media) error {
	query := `
		INSERT INTO media (id, owner, identifier, type, latest_version_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		media.ID, media.Owner, media.Identifier, string(media.Type),
		media.LatestVersionNumber, media.CreatedAt, media.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create media", err)
	}
	return nil
}

const mediaColumns = `id, owner, identifier, type, latest_version_number, created_at, updated_at`

func scanMedia(row pgx.Row) (*simplemedia.Media, error) {
	var media simplemedia.Media
	var mediaType string
	err := row.Scan(&media.ID, &media.Owner, &media.Identifier, &mediaType,
		&media.LatestVersionNumber, &media.CreatedAt, &media.UpdatedAt)
	if err != nil {
		return nil, err
	}
	media.Type = simplemedia.MediaType(mediaType)
	return &media, nil
}

func (r *Repository) GetMedia(ctx context.Context, owner, identifier string) (*simplemedia.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE owner = $1 AND identifier = $2`

	media, err := scanMedia(r.db.QueryRow(ctx, query, owner, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrMediaNotFound
		}
		return nil, r.handlePostgresError("get media", err)
	}
	return media, nil
}

func (r *Repository) GetMediaByID(ctx context.Context, id uuid.UUID) (*simplemedia.Media, error) {
	query := `SELECT ` + mediaColumns + ` FROM media WHERE id = $1`

	media, err := scanMedia(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrMediaNotFound
		}
		return nil, r.handlePostgresError("get media", err)
	}
	return media, nil
}

func (r *Repository) DeleteMedia(ctx context.Context, id uuid.UUID) error {
	// Versions go with the media row through ON DELETE CASCADE.
	tag, err := r.db.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete media", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrMediaNotFound
	}
	return nil
}

// Version operations

func (r *Repository) CreateNextVersion(ctx context.Context, version *simplemedia.Version) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// The row lock serializes numbering per media.
		var highWater int
		err := tx.QueryRow(ctx,
			`SELECT latest_version_number FROM media WHERE id = $1 FOR UPDATE`, version.MediaID).Scan(&highWater)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return simplemedia.ErrMediaNotFound
			}
			return r.handlePostgresError("lock media", err)
		}

		var maxExisting int
		err = tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(number), 0) FROM media_version WHERE media_id = $1`, version.MediaID).Scan(&maxExisting)
		if err != nil {
			return r.handlePostgresError("max version", err)
		}
		next := max(highWater, maxExisting) + 1

		_, err = tx.Exec(ctx, `
			INSERT INTO media_version (id, media_id, number, filename, hash, processed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			version.ID, version.MediaID, next, version.Filename, version.Hash,
			version.Processed, version.CreatedAt, version.UpdatedAt)
		if err != nil {
			return r.handlePostgresError("create version", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE media SET latest_version_number = $2, updated_at = $3 WHERE id = $1`,
			version.MediaID, next, time.Now().UTC())
		if err != nil {
			return r.handlePostgresError("update media", err)
		}

		version.Number = next
		return nil
	})
}

const versionColumns = `id, media_id, number, filename, hash, processed, created_at, updated_at`

func scanVersion(row pgx.Row) (*simplemedia.Version, error) {
	var v simplemedia.Version
	err := row.Scan(&v.ID, &v.MediaID, &v.Number, &v.Filename, &v.Hash, &v.Processed, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) GetVersion(ctx context.Context, mediaID uuid.UUID, number int) (*simplemedia.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM media_version WHERE media_id = $1 AND number = $2`

	v, err := scanVersion(r.db.QueryRow(ctx, query, mediaID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrVersionNotFound
		}
		return nil, r.handlePostgresError("get version", err)
	}
	return v, nil
}

func (r *Repository) ListVersions(ctx context.Context, mediaID uuid.UUID) ([]*simplemedia.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM media_version WHERE media_id = $1 ORDER BY number`

	rows, err := r.db.Query(ctx, query, mediaID)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	var versions []*simplemedia.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	return versions, nil
}

func (r *Repository) UpdateVersion(ctx context.Context, version *simplemedia.Version) error {
	query := `
		UPDATE media_version SET filename = $2, hash = $3, processed = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		version.ID, version.Filename, version.Hash, version.Processed, version.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update version", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrVersionNotFound
	}
	return nil
}

func (r *Repository) DeleteVersion(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media_version WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete version", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrVersionNotFound
	}
	return nil
}

// Cache revision operations

func (r *Repository) IncrementCacheRevision(ctx context.Context) (int64, error) {
	var revision int64
	err := r.db.QueryRow(ctx,
		`UPDATE cache_revision SET revision = revision + 1 WHERE id RETURNING revision`).Scan(&revision)
	if err != nil {
		return 0, r.handlePostgresError("increment cache revision", err)
	}
	return revision, nil
}

func (r *Repository) GetCacheRevision(ctx context.Context) (int64, error) {
	var revision int64
	err := r.db.QueryRow(ctx, `SELECT revision FROM cache_revision WHERE id`).Scan(&revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, r.handlePostgresError("get cache revision", err)
	}
	return revision, nil
}

var _ simplemedia.Repository = (*Repository)(nil)
