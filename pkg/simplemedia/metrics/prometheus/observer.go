package prometheus

import (
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Observer exports media service metrics to Prometheus.
type Observer struct {
	cacheLookups      *promclient.CounterVec
	transformDuration *promclient.HistogramVec
	transformErrors   *promclient.CounterVec
	jobs              *promclient.CounterVec
	jobDuration       *promclient.HistogramVec
	notifications     *promclient.CounterVec
	notifyAttempts    *promclient.HistogramVec
	cdnInvalidations  *promclient.CounterVec
}

// NewObserver registers the media metrics with reg, reusing collectors that
// are already registered.
func NewObserver(namespace string, reg promclient.Registerer) (*Observer, error) {
	if namespace == "" {
		namespace = "simplemedia"
	}
	if reg == nil {
		reg = promclient.DefaultRegisterer
	}

	o := &Observer{}
	var err error
	if o.cacheLookups, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "derivative_cache_lookups_total",
		Help:      "Derivative cache lookups by media type and result.",
	}, []string{"type", "result"})); err != nil {
		return nil, err
	}
	if o.transformDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "transform_duration_seconds",
		Help:      "Time spent computing derivatives.",
		Buckets:   promclient.DefBuckets,
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if o.transformErrors, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "transform_errors_total",
		Help:      "Failed derivative computations.",
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if o.jobs, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "transcode_jobs_total",
		Help:      "Finished transcode jobs by terminal state.",
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if o.jobDuration, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "transcode_job_duration_seconds",
		Help:      "Transcode job run time.",
		Buckets:   promclient.ExponentialBuckets(1, 2, 14),
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if o.notifications, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Webhook deliveries by notification type and result.",
	}, []string{"type", "result"})); err != nil {
		return nil, err
	}
	if o.notifyAttempts, err = register(reg, promclient.NewHistogramVec(promclient.HistogramOpts{
		Namespace: namespace,
		Name:      "notification_attempts",
		Help:      "Attempts needed per webhook delivery.",
		Buckets:   promclient.LinearBuckets(1, 1, 14),
	}, []string{"type"})); err != nil {
		return nil, err
	}
	if o.cdnInvalidations, err = register(reg, promclient.NewCounterVec(promclient.CounterOpts{
		Namespace: namespace,
		Name:      "cdn_invalidations_total",
		Help:      "CDN invalidation requests by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C promclient.Collector](reg promclient.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are promclient.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) CacheLookup(mediaType simplemedia.MediaType, hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	o.cacheLookups.WithLabelValues(string(mediaType), res).Inc()
}

func (o *Observer) TransformDuration(mediaType simplemedia.MediaType, d time.Duration, err error) {
	o.transformDuration.WithLabelValues(string(mediaType)).Observe(d.Seconds())
	if err != nil {
		o.transformErrors.WithLabelValues(string(mediaType)).Inc()
	}
}

func (o *Observer) JobFinished(state simplemedia.JobState, d time.Duration) {
	o.jobs.WithLabelValues(string(state)).Inc()
	o.jobDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

func (o *Observer) NotificationFinished(notificationType simplemedia.NotificationType, attempts int, err error) {
	o.notifications.WithLabelValues(string(notificationType), result(err)).Inc()
	o.notifyAttempts.WithLabelValues(string(notificationType)).Observe(float64(attempts))
}

func (o *Observer) CDNInvalidation(err error) {
	o.cdnInvalidations.WithLabelValues(result(err)).Inc()
}

var _ simplemedia.Observer = (*Observer)(nil)
