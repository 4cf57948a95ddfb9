package prometheus

import (
	"errors"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

func TestObserver_Records(t *testing.T) {
	reg := promclient.NewRegistry()
	o, err := NewObserver("test", reg)
	require.NoError(t, err)

	o.CacheLookup(simplemedia.MediaTypeImage, true)
	o.CacheLookup(simplemedia.MediaTypeImage, false)
	o.CacheLookup(simplemedia.MediaTypeImage, false)
	o.TransformDuration(simplemedia.MediaTypeImage, 20*time.Millisecond, errors.New("boom"))
	o.JobFinished(simplemedia.JobCompleted, time.Minute)
	o.NotificationFinished(simplemedia.NotificationVideoTranscoding, 3, nil)
	o.CDNInvalidation(errors.New("throttled"))

	assert.Equal(t, 1.0, testutil.ToFloat64(o.cacheLookups.WithLabelValues("image", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.cacheLookups.WithLabelValues("image", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.transformErrors.WithLabelValues("image")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.jobs.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.notifications.WithLabelValues("video_transcoding", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.cdnInvalidations.WithLabelValues("error")))
}

func TestObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := promclient.NewRegistry()
	first, err := NewObserver("test", reg)
	require.NoError(t, err)
	second, err := NewObserver("test", reg)
	require.NoError(t, err)

	first.CDNInvalidation(nil)
	second.CDNInvalidation(nil)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.cdnInvalidations.WithLabelValues("success")))
}
