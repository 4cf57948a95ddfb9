package simplemedia

import (
	"fmt"
	"strconv"
	"strings"
)

// Output formats accepted by the f transformation.
const (
	FormatJPG  = "jpg"
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWebP = "webp"
)

var supportedFormats = map[string]bool{
	FormatJPG:  true,
	FormatJPEG: true,
	FormatPNG:  true,
	FormatGIF:  true,
	FormatWebP: true,
}

// Transformations is a parsed derivative request. Zero values mean "unset".
type Transformations struct {
	Width   int
	Height  int
	Format  string
	Quality int
	Page    int
}

// IsZero reports whether no transformation was requested.
func (t Transformations) IsZero() bool {
	return t == Transformations{}
}

// ParseTransformations parses a "+"-joined list of key-value segments such as
// "w-800+f-webp+q-90". An empty string yields the zero value.
func ParseTransformations(s string) (Transformations, error) {
	var t Transformations
	s = strings.TrimSpace(s)
	if s == "" {
		return t, nil
	}

	seen := make(map[string]bool)
	for _, segment := range strings.Split(s, "+") {
		key, value, ok := strings.Cut(segment, "-")
		if !ok || key == "" || value == "" {
			return Transformations{}, fmt.Errorf("%w: %q", ErrInvalidTransformationFormat, segment)
		}
		key = strings.ToLower(key)
		if seen[key] {
			return Transformations{}, fmt.Errorf("%w: duplicate key %q", ErrInvalidTransformationFormat, key)
		}
		seen[key] = true

		switch key {
		case "w":
			n, err := positiveInt(key, value)
			if err != nil {
				return Transformations{}, err
			}
			t.Width = n
		case "h":
			n, err := positiveInt(key, value)
			if err != nil {
				return Transformations{}, err
			}
			t.Height = n
		case "p":
			n, err := positiveInt(key, value)
			if err != nil {
				return Transformations{}, err
			}
			t.Page = n
		case "q":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 100 {
				return Transformations{}, fmt.Errorf("%w: q must be 1-100, got %q", ErrInvalidTransformationValue, value)
			}
			t.Quality = n
		case "f":
			f := strings.ToLower(value)
			if !supportedFormats[f] {
				return Transformations{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidTransformationValue, value)
			}
			t.Format = NormalizeFormat(f)
		default:
			return Transformations{}, fmt.Errorf("%w: %q", ErrTransformationNotFound, key)
		}
	}
	return t, nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrInvalidTransformationValue, key, value)
	}
	return n, nil
}

// Canonical renders t with keys in a fixed order, so equivalent requests
// produce the same string regardless of how the client ordered them.
func (t Transformations) Canonical() string {
	var parts []string
	if t.Width > 0 {
		parts = append(parts, "w-"+strconv.Itoa(t.Width))
	}
	if t.Height > 0 {
		parts = append(parts, "h-"+strconv.Itoa(t.Height))
	}
	if t.Format != "" {
		parts = append(parts, "f-"+NormalizeFormat(t.Format))
	}
	if t.Quality > 0 {
		parts = append(parts, "q-"+strconv.Itoa(t.Quality))
	}
	if t.Page > 0 {
		parts = append(parts, "p-"+strconv.Itoa(t.Page))
	}
	return strings.Join(parts, "+")
}

// String implements fmt.Stringer.
func (t Transformations) String() string {
	return t.Canonical()
}

// OutputExtension resolves the extension of the derivative produced for t
// from an original with extension originalExt.
func (t Transformations) OutputExtension(mediaType MediaType, originalExt string) string {
	if t.Format != "" {
		return NormalizeFormat(t.Format)
	}
	if mediaType == MediaTypeDocument {
		return FormatJPG
	}
	ext := NormalizeFormat(strings.ToLower(originalExt))
	if !supportedFormats[ext] {
		return FormatJPG
	}
	return ext
}

// NormalizeFormat folds format aliases into one spelling.
func NormalizeFormat(format string) string {
	if format == FormatJPEG {
		return FormatJPG
	}
	return format
}
