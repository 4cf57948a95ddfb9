package simplemedia

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaType is the kind of media an identifier holds. It is fixed on first upload.
type MediaType string

// Media type constants (typed).
const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
)

// MediaTypes lists every supported media type.
var MediaTypes = []MediaType{MediaTypeImage, MediaTypeVideo, MediaTypeDocument}

// IsValid reports whether t is one of the supported media types.
func (t MediaType) IsValid() bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeDocument:
		return true
	}
	return false
}

// ParseMediaType converts a string into a MediaType.
func ParseMediaType(s string) (MediaType, error) {
	t := MediaType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown media type %q", ErrValidation, s)
	}
	return t, nil
}

// Media is a logical media item, unique per (Owner, Identifier).
type Media struct {
	ID         uuid.UUID `json:"id"`
	Owner      string    `json:"owner"`
	Identifier string    `json:"identifier"`
	Type       MediaType `json:"type"`
	// LatestVersionNumber is the highest number ever assigned, including
	// versions that were rolled back since.
	LatestVersionNumber int       `json:"latest_version_number"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PublicPath is the path the media is served under at the edge.
func (m *Media) PublicPath() string {
	return "/" + m.Owner + "/" + m.Identifier
}

// InvalidationPath is the CDN path covering every response for the media.
func (m *Media) InvalidationPath() string {
	return m.PublicPath() + "/*"
}

// OriginalsPrefix is the blob store directory holding every original of the media.
func (m *Media) OriginalsPrefix() string {
	return fmt.Sprintf("originals/%s/%s/", m.Owner, m.Identifier)
}

// OriginalKey is the blob store key of the original bytes of a version.
func (m *Media) OriginalKey(v *Version) string {
	return m.OriginalsPrefix() + fmt.Sprintf("%d-%s", v.Number, v.Filename)
}

// DerivativesPrefix is the blob store directory holding every derivative of the media.
func (m *Media) DerivativesPrefix() string {
	return fmt.Sprintf("%s%s/%s/", DerivativesTypePrefix(m.Type), m.Owner, m.Identifier)
}

// RenditionsPrefix is the blob store directory holding the transcoded renditions of one version.
func (m *Media) RenditionsPrefix(number int) string {
	return fmt.Sprintf("%s%d/", m.DerivativesPrefix(), number)
}

// DerivativesTypePrefix is the blob store directory holding all derivatives of one media type.
func DerivativesTypePrefix(t MediaType) string {
	return "derivatives/" + string(t) + "/"
}

// Version is one numbered revision of a media item's bytes. Only processed
// versions are visible to delivery.
type Version struct {
	ID        uuid.UUID `json:"id"`
	MediaID   uuid.UUID `json:"media_id"`
	Number    int       `json:"number"`
	Filename  string    `json:"filename"`
	Hash      string    `json:"hash,omitempty"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Extension returns the lowercased file extension of the original, without the dot.
func (v *Version) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(v.Filename)), ".")
}

// UploadSlot is a single-use, time-limited reservation for one upload to an identifier.
type UploadSlot struct {
	Token       string     `json:"token"`
	Owner       string     `json:"owner"`
	Identifier  string     `json:"identifier"`
	Type        MediaType  `json:"type"`
	CallbackURL string     `json:"callback_url,omitempty"`
	ValidUntil  time.Time  `json:"valid_until"`
	ReplacedAt  *time.Time `json:"replaced_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the slot is past its validity at now.
func (s *UploadSlot) Expired(now time.Time) bool {
	return now.After(s.ValidUntil)
}

// ValidationRules describe which uploads a media type accepts.
type ValidationRules struct {
	MimeTypes []string `json:"mime_types"`
	MaxBytes  int64    `json:"max_bytes"`
}

// Allows reports whether mimeType is accepted by the rules.
func (r ValidationRules) Allows(mimeType string) bool {
	for _, m := range r.MimeTypes {
		if m == mimeType {
			return true
		}
	}
	return false
}

// VersionEntry is one element of a version listing.
type VersionEntry struct {
	Number    int       `json:"number"`
	Processed bool      `json:"processed"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionList is the version history of a media item.
type VersionList struct {
	Identifier     string         `json:"identifier"`
	CurrentVersion int            `json:"current_version"`
	Versions       []VersionEntry `json:"versions"`
}

// Derivative is a delivered payload with its detected content type.
type Derivative struct {
	Identifier  string
	Version     int
	Key         string
	ContentType string
	Data        []byte
	CacheHit    bool
}

// PurgeResult is the outcome of purging the derivatives of one media type.
type PurgeResult struct {
	Type    MediaType `json:"type"`
	Deleted int       `json:"deleted"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
}
