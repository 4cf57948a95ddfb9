package simplemedia_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
)

func TestSlotReserveAndConsume(t *testing.T) {
	ctx := context.Background()
	slots := simplemedia.NewSlotManager(memory.New(), 0, nil)

	slot, err := slots.Reserve(ctx, "pets", "cat", simplemedia.MediaTypeImage, "https://pets.example.com/hook")
	require.NoError(t, err)
	assert.Len(t, slot.Token, 32)
	assert.WithinDuration(t, time.Now().Add(simplemedia.DefaultSlotTTL), slot.ValidUntil, time.Minute)

	// Validation does not consume.
	assert.True(t, slots.IsLive(ctx, slot.Token))
	assert.True(t, slots.IsLive(ctx, slot.Token))

	consumed, err := slots.Consume(ctx, slot.Token)
	require.NoError(t, err)
	assert.Equal(t, "https://pets.example.com/hook", consumed.CallbackURL)

	_, err = slots.Consume(ctx, slot.Token)
	assert.ErrorIs(t, err, simplemedia.ErrSlotNotFound)
	assert.NotErrorIs(t, err, simplemedia.ErrSlotInvalidated)
}

func TestSlotReplacementInvalidatesOldToken(t *testing.T) {
	ctx := context.Background()
	slots := simplemedia.NewSlotManager(memory.New(), 0, nil)

	first, err := slots.Reserve(ctx, "pets", "cat", simplemedia.MediaTypeImage, "")
	require.NoError(t, err)
	second, err := slots.Reserve(ctx, "pets", "cat", simplemedia.MediaTypeImage, "")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	_, err = slots.Validate(ctx, first.Token)
	assert.ErrorIs(t, err, simplemedia.ErrSlotInvalidated)
	assert.Equal(t, simplemedia.OutcomeSlotInvalidated, simplemedia.OutcomeFromError(err))

	_, err = slots.Validate(ctx, second.Token)
	assert.NoError(t, err)

	// Another identifier is unaffected.
	other, err := slots.Reserve(ctx, "pets", "dog", simplemedia.MediaTypeImage, "")
	require.NoError(t, err)
	assert.True(t, slots.IsLive(ctx, second.Token))
	assert.True(t, slots.IsLive(ctx, other.Token))
}

func TestSlotExpiry(t *testing.T) {
	ctx := context.Background()
	slots := simplemedia.NewSlotManager(memory.New(), time.Millisecond, nil)

	slot, err := slots.Reserve(ctx, "pets", "cat", simplemedia.MediaTypeImage, "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = slots.Consume(ctx, slot.Token)
	assert.ErrorIs(t, err, simplemedia.ErrSlotExpired)

	n, err := slots.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = slots.Validate(ctx, slot.Token)
	assert.ErrorIs(t, err, simplemedia.ErrSlotNotFound)
}

func TestSlotReserveValidation(t *testing.T) {
	ctx := context.Background()
	slots := simplemedia.NewSlotManager(memory.New(), 0, nil)

	tests := []struct {
		name       string
		owner      string
		identifier string
		mediaType  simplemedia.MediaType
	}{
		{"empty owner", "", "cat", simplemedia.MediaTypeImage},
		{"identifier with slash", "pets", "a/b", simplemedia.MediaTypeImage},
		{"identifier with dot", "pets", "cat.jpg", simplemedia.MediaTypeImage},
		{"unknown type", "pets", "cat", simplemedia.MediaType("audio")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := slots.Reserve(ctx, tt.owner, tt.identifier, tt.mediaType, "")
			assert.ErrorIs(t, err, simplemedia.ErrValidation)
		})
	}
}
