package simplemedia

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSlotTTL is how long a reserved upload slot stays valid.
const DefaultSlotTTL = 24 * time.Hour

// DefaultValidationRules returns the upload rules applied per media type.
func DefaultValidationRules() map[MediaType]ValidationRules {
	return map[MediaType]ValidationRules{
		MediaTypeImage: {
			MimeTypes: []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			MaxBytes:  50 << 20,
		},
		MediaTypeDocument: {
			MimeTypes: []string{"application/pdf"},
			MaxBytes:  100 << 20,
		},
		MediaTypeVideo: {
			MimeTypes: []string{"video/mp4", "video/quicktime", "video/webm", "video/x-matroska", "video/x-msvideo"},
			MaxBytes:  5 << 30,
		},
	}
}

// SlotManager reserves and consumes upload slots. Reserving a slot for an
// identifier that already has a live slot replaces it; the old token then
// fails with ErrSlotInvalidated.
type SlotManager struct {
	store  SlotStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSlotManager creates a slot manager. A non-positive ttl selects DefaultSlotTTL.
func NewSlotManager(store SlotStore, ttl time.Duration, logger *slog.Logger) *SlotManager {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SlotManager{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Reserve creates a fresh slot for owner and identifier, replacing any live one.
func (m *SlotManager) Reserve(ctx context.Context, owner, identifier string, mediaType MediaType, callbackURL string) (*UploadSlot, error) {
	if err := ValidateIdentifier("owner", owner); err != nil {
		return nil, err
	}
	if err := ValidateIdentifier("identifier", identifier); err != nil {
		return nil, err
	}
	if !mediaType.IsValid() {
		return nil, fmt.Errorf("%w: unknown media type %q", ErrValidation, mediaType)
	}

	token := newSlotToken()
	now := m.now()
	slot := &UploadSlot{
		Token:       token,
		Owner:       owner,
		Identifier:  identifier,
		Type:        mediaType,
		CallbackURL: callbackURL,
		ValidUntil:  now.Add(m.ttl),
		CreatedAt:   now,
	}
	if err := m.store.PutSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("failed to store upload slot: %w", err)
	}
	m.logger.Debug("Upload slot reserved", "owner", owner, "identifier", identifier, "type", mediaType)
	return slot, nil
}

// Validate checks token without consuming it, so it can be repeated across
// chunk attempts until the file is materialized.
func (m *SlotManager) Validate(ctx context.Context, token string) (*UploadSlot, error) {
	slot, err := m.store.GetSlot(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	if slot.ReplacedAt != nil {
		return nil, ErrSlotInvalidated
	}
	if slot.Expired(m.now()) {
		return nil, ErrSlotExpired
	}
	return slot, nil
}

// IsLive reports whether token can still be used for an upload.
func (m *SlotManager) IsLive(ctx context.Context, token string) bool {
	_, err := m.Validate(ctx, token)
	return err == nil
}

// Consume validates token and deletes its slot. A token succeeds at most once.
func (m *SlotManager) Consume(ctx context.Context, token string) (*UploadSlot, error) {
	slot, err := m.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := m.store.DeleteSlot(ctx, token); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			// Consumed concurrently.
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("failed to delete upload slot: %w", err)
	}
	return slot, nil
}

// PurgeExpired removes slots and tombstones that are past their validity.
func (m *SlotManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredSlots(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("Expired upload slots purged", "count", n)
	}
	return n, nil
}

func newSlotToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
