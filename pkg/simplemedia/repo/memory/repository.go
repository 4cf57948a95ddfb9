package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Repository implements simplemedia.Repository and simplemedia.SlotStore
// using in-memory storage
type Repository struct {
	mu            sync.RWMutex
	media         map[uuid.UUID]*simplemedia.Media
	mediaByName   map[string]uuid.UUID                       // "owner/identifier" -> media_id
	versions      map[uuid.UUID]map[int]*simplemedia.Version // media_id -> number -> version
	versionIndex  map[uuid.UUID]uuid.UUID                    // version_id -> media_id
	slots         map[string]*simplemedia.UploadSlot         // token -> slot
	liveSlots     map[string]string                          // "owner/identifier" -> token
	cacheRevision int64
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		media:        make(map[uuid.UUID]*simplemedia.Media),
		mediaByName:  make(map[string]uuid.UUID),
		versions:     make(map[uuid.UUID]map[int]*simplemedia.Version),
		versionIndex: make(map[uuid.UUID]uuid.UUID),
		slots:        make(map[string]*simplemedia.UploadSlot),
		liveSlots:    make(map[string]string),
	}
}

func nameKey(owner, identifier string) string {
	return owner + "/" + identifier
}

// Media operations

func (r *Repository) CreateMedia(ctx context.Context, media *simplemedia.Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(media.Owner, media.Identifier)
	if _, exists := r.mediaByName[key]; exists {
		return simplemedia.ErrConflict
	}

	// Create a copy to avoid external modifications
	mediaCopy := *media
	r.media[media.ID] = &mediaCopy
	r.mediaByName[key] = media.ID
	r.versions[media.ID] = make(map[int]*simplemedia.Version)
	return nil
}

func (r *Repository) GetMedia(ctx context.Context, owner, identifier string) (*simplemedia.Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.mediaByName[nameKey(owner, identifier)]
	if !exists {
		return nil, simplemedia.ErrMediaNotFound
	}
	mediaCopy := *r.media[id]
	return &mediaCopy, nil
}

func (r *Repository) GetMediaByID(ctx context.Context, id uuid.UUID) (*simplemedia.Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	media, exists := r.media[id]
	if !exists {
		return nil, simplemedia.ErrMediaNotFound
	}
	mediaCopy := *media
	return &mediaCopy, nil
}

func (r *Repository) DeleteMedia(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	media, exists := r.media[id]
	if !exists {
		return simplemedia.ErrMediaNotFound
	}
	for _, v := range r.versions[id] {
		delete(r.versionIndex, v.ID)
	}
	delete(r.versions, id)
	delete(r.mediaByName, nameKey(media.Owner, media.Identifier))
	delete(r.media, id)
	return nil
}

// Version operations

func (r *Repository) CreateNextVersion(ctx context.Context, version *simplemedia.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	media, exists := r.media[version.MediaID]
	if !exists {
		return simplemedia.ErrMediaNotFound
	}

	next := media.LatestVersionNumber
	for number := range r.versions[version.MediaID] {
		if number > next {
			next = number
		}
	}
	next++

	version.Number = next
	versionCopy := *version
	r.versions[version.MediaID][next] = &versionCopy
	r.versionIndex[version.ID] = version.MediaID
	media.LatestVersionNumber = next
	media.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) GetVersion(ctx context.Context, mediaID uuid.UUID, number int) (*simplemedia.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, exists := r.versions[mediaID][number]
	if !exists {
		return nil, simplemedia.ErrVersionNotFound
	}
	versionCopy := *version
	return &versionCopy, nil
}

func (r *Repository) ListVersions(ctx context.Context, mediaID uuid.UUID) ([]*simplemedia.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, exists := r.media[mediaID]; !exists {
		return nil, simplemedia.ErrMediaNotFound
	}
	result := make([]*simplemedia.Version, 0, len(r.versions[mediaID]))
	for _, v := range r.versions[mediaID] {
		versionCopy := *v
		result = append(result, &versionCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}

func (r *Repository) UpdateVersion(ctx context.Context, version *simplemedia.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.versions[version.MediaID][version.Number]
	if !exists || existing.ID != version.ID {
		return simplemedia.ErrVersionNotFound
	}
	versionCopy := *version
	r.versions[version.MediaID][version.Number] = &versionCopy
	return nil
}

func (r *Repository) DeleteVersion(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mediaID, exists := r.versionIndex[id]
	if !exists {
		return simplemedia.ErrVersionNotFound
	}
	for number, v := range r.versions[mediaID] {
		if v.ID == id {
			delete(r.versions[mediaID], number)
			break
		}
	}
	delete(r.versionIndex, id)
	return nil
}

// Cache revision operations

func (r *Repository) IncrementCacheRevision(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cacheRevision++
	return r.cacheRevision, nil
}

func (r *Repository) GetCacheRevision(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cacheRevision, nil
}

// Upload slot operations

func (r *Repository) PutSlot(ctx context.Context, slot *simplemedia.UploadSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := nameKey(slot.Owner, slot.Identifier)
	if token, exists := r.liveSlots[key]; exists {
		if old, ok := r.slots[token]; ok {
			// Keep a tombstone so the old token reports the replacement.
			replacedAt := slot.CreatedAt
			old.ReplacedAt = &replacedAt
		}
	}

	slotCopy := *slot
	r.slots[slot.Token] = &slotCopy
	r.liveSlots[key] = slot.Token
	return nil
}

func (r *Repository) GetSlot(ctx context.Context, token string) (*simplemedia.UploadSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, exists := r.slots[token]
	if !exists {
		return nil, simplemedia.ErrSlotNotFound
	}
	slotCopy := *slot
	return &slotCopy, nil
}

func (r *Repository) DeleteSlot(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, exists := r.slots[token]
	if !exists {
		return simplemedia.ErrSlotNotFound
	}
	key := nameKey(slot.Owner, slot.Identifier)
	if r.liveSlots[key] == token {
		delete(r.liveSlots, key)
	}
	delete(r.slots, token)
	return nil
}

func (r *Repository) DeleteExpiredSlots(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, slot := range r.slots {
		if !slot.ValidUntil.Before(before) {
			continue
		}
		key := nameKey(slot.Owner, slot.Identifier)
		if r.liveSlots[key] == token {
			delete(r.liveSlots, key)
		}
		delete(r.slots, token)
		n++
	}
	return n, nil
}

var (
	_ simplemedia.Repository = (*Repository)(nil)
	_ simplemedia.SlotStore  = (*Repository)(nil)
)
