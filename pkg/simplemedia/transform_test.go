package simplemedia_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

func TestParseTransformations(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    simplemedia.Transformations
		wantErr error
	}{
		{name: "empty", input: "", want: simplemedia.Transformations{}},
		{name: "width", input: "w-800", want: simplemedia.Transformations{Width: 800}},
		{name: "all keys", input: "w-800+h-600+f-webp+q-90+p-2",
			want: simplemedia.Transformations{Width: 800, Height: 600, Format: "webp", Quality: 90, Page: 2}},
		{name: "upper case key and format", input: "W-10+F-PNG", want: simplemedia.Transformations{Width: 10, Format: "png"}},
		{name: "jpeg alias", input: "f-jpeg", want: simplemedia.Transformations{Format: "jpg"}},
		{name: "missing value", input: "w-", wantErr: simplemedia.ErrInvalidTransformationFormat},
		{name: "missing separator", input: "w800", wantErr: simplemedia.ErrInvalidTransformationFormat},
		{name: "duplicate key", input: "w-1+w-2", wantErr: simplemedia.ErrInvalidTransformationFormat},
		{name: "unknown key", input: "x-1", wantErr: simplemedia.ErrTransformationNotFound},
		{name: "zero width", input: "w-0", wantErr: simplemedia.ErrInvalidTransformationValue},
		{name: "negative height", input: "h--5", wantErr: simplemedia.ErrInvalidTransformationValue},
		{name: "quality too high", input: "q-101", wantErr: simplemedia.ErrInvalidTransformationValue},
		{name: "unsupported format", input: "f-bmp", wantErr: simplemedia.ErrInvalidTransformationValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := simplemedia.ParseTransformations(tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, simplemedia.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalIsOrderInsensitive(t *testing.T) {
	a, err := simplemedia.ParseTransformations("q-80+f-jpg+w-100")
	require.NoError(t, err)
	b, err := simplemedia.ParseTransformations("w-100+q-80+f-jpg")
	require.NoError(t, err)

	assert.Equal(t, "w-100+f-jpg+q-80", a.Canonical())
	assert.Equal(t, a.Canonical(), b.Canonical())
}

func TestCanonicalFoldsFormatAliases(t *testing.T) {
	jpeg, err := simplemedia.ParseTransformations("w-100+f-jpeg")
	require.NoError(t, err)
	jpg, err := simplemedia.ParseTransformations("f-jpg+w-100")
	require.NoError(t, err)

	assert.Equal(t, "w-100+f-jpg", jpeg.Canonical())
	assert.Equal(t, jpg.Canonical(), jpeg.Canonical())
	assert.Equal(t, "f-jpg", simplemedia.Transformations{Format: "jpeg"}.Canonical())
}

func TestOutputExtension(t *testing.T) {
	assert.Equal(t, "jpg", simplemedia.Transformations{Format: "jpeg"}.OutputExtension(simplemedia.MediaTypeImage, "png"))
	assert.Equal(t, "png", simplemedia.Transformations{Width: 1}.OutputExtension(simplemedia.MediaTypeImage, "PNG"))
	assert.Equal(t, "jpg", simplemedia.Transformations{Width: 1}.OutputExtension(simplemedia.MediaTypeImage, "tiff"))
	assert.Equal(t, "jpg", simplemedia.Transformations{Page: 2}.OutputExtension(simplemedia.MediaTypeDocument, "pdf"))
}
