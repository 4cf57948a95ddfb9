package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Upload slot operations

func (r *Repository) PutSlot(ctx context.Context, slot *simplemedia.UploadSlot) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		// Serializes concurrent reservations for one identifier.
		_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slot.Owner+"/"+slot.Identifier)
		if err != nil {
			return r.handlePostgresError("lock slot", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE upload_slot SET replaced_at = $3
			WHERE owner = $1 AND identifier = $2 AND replaced_at IS NULL`,
			slot.Owner, slot.Identifier, slot.CreatedAt)
		if err != nil {
			return r.handlePostgresError("replace slot", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO upload_slot (token, owner, identifier, type, callback_url, valid_until, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			slot.Token, slot.Owner, slot.Identifier, string(slot.Type),
			slot.CallbackURL, slot.ValidUntil, slot.CreatedAt)
		if err != nil {
			return r.handlePostgresError("create slot", err)
		}
		return nil
	})
}

func (r *Repository) GetSlot(ctx context.Context, token string) (*simplemedia.UploadSlot, error) {
	query := `
		SELECT token, owner, identifier, type, callback_url, valid_until, replaced_at, created_at
		FROM upload_slot WHERE token = $1`

	var slot simplemedia.UploadSlot
	var mediaType string
	err := r.db.QueryRow(ctx, query, token).Scan(
		&slot.Token, &slot.Owner, &slot.Identifier, &mediaType,
		&slot.CallbackURL, &slot.ValidUntil, &slot.ReplacedAt, &slot.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simplemedia.ErrSlotNotFound
		}
		return nil, r.handlePostgresError("get slot", err)
	}
	slot.Type = simplemedia.MediaType(mediaType)
	return &slot, nil
}

func (r *Repository) DeleteSlot(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM upload_slot WHERE token = $1`, token)
	if err != nil {
		return r.handlePostgresError("delete slot", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrSlotNotFound
	}
	return nil
}

func (r *Repository) DeleteExpiredSlots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM upload_slot WHERE valid_until < $1`, before)
	if err != nil {
		return 0, r.handlePostgresError("delete expired slots", err)
	}
	return tag.RowsAffected(), nil
}

var _ simplemedia.SlotStore = (*Repository)(nil)
