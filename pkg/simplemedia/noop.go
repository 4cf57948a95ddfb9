package simplemedia

import (
	"context"
	"time"
)

// NoopInvalidator is a CDN invalidator for deployments without a CDN.
// IsConfigured reports false so publishing skips the invalidation step.
type NoopInvalidator struct{}

// NewNoopInvalidator creates a new no-operation CDN invalidator
func NewNoopInvalidator() CDNInvalidator {
	return &NoopInvalidator{}
}

// Invalidate does nothing and returns nil
func (n *NoopInvalidator) Invalidate(ctx context.Context, paths ...string) error {
	return nil
}

// IsConfigured always returns false
func (n *NoopInvalidator) IsConfigured() bool {
	return false
}

// NoopObserver discards all measurements
type NoopObserver struct{}

// NewNoopObserver creates a new no-operation observer
func NewNoopObserver() Observer {
	return &NoopObserver{}
}

func (n *NoopObserver) CacheLookup(MediaType, bool)                        {}
func (n *NoopObserver) TransformDuration(MediaType, time.Duration, error)  {}
func (n *NoopObserver) JobFinished(JobState, time.Duration)                {}
func (n *NoopObserver) NotificationFinished(NotificationType, int, error) {}
func (n *NoopObserver) CDNInvalidation(error)                              {}

// NoopNotifier drops every notification
type NoopNotifier struct{}

// NewNoopNotifier creates a new no-operation notifier
func NewNoopNotifier() Notifier {
	return &NoopNotifier{}
}

func (n *NoopNotifier) Notify(string, string, Notification) {}
func (n *NoopNotifier) Broadcast(Notification)              {}
func (n *NoopNotifier) Close(context.Context) error         { return nil }
