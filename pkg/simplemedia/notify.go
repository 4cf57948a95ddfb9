package simplemedia

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// NotificationType identifies the payload of an outbound webhook.
type NotificationType string

const (
	NotificationVideoTranscoding  NotificationType = "video_transcoding"
	NotificationCacheInvalidation NotificationType = "cache_invalidation"
)

// Notification is a payload that can be sealed into a signed envelope.
type Notification interface {
	Kind() NotificationType
}

// TranscodingNotification reports the end of an asynchronous transcode.
type TranscodingNotification struct {
	NotificationType NotificationType `json:"notification_type"`
	State            WireState        `json:"state"`
	Message          string           `json:"message"`
	Identifier       string           `json:"identifier"`
	Version          int              `json:"version"`
	UploadToken      string           `json:"upload_token,omitempty"`
	PublicPath       string           `json:"public_path,omitempty"`
	Success          bool             `json:"success"`
}

func (n *TranscodingNotification) Kind() NotificationType { return NotificationVideoTranscoding }

// CacheInvalidationNotification tells clients to drop their local caches.
type CacheInvalidationNotification struct {
	NotificationType          NotificationType `json:"notification_type"`
	CacheInvalidationRevision int64            `json:"cache_invalidation_revision"`
}

func (n *CacheInvalidationNotification) Kind() NotificationType { return NotificationCacheInvalidation }

// NewTranscodingNotification builds the notification sent when a job reaches outcome.
func NewTranscodingNotification(outcome Outcome, identifier string, version int, uploadToken, publicPath string) *TranscodingNotification {
	state, message := outcome.Response()
	return &TranscodingNotification{
		NotificationType: NotificationVideoTranscoding,
		State:            state,
		Message:          message,
		Identifier:       identifier,
		Version:          version,
		UploadToken:      uploadToken,
		PublicPath:       publicPath,
		Success:          outcome == OutcomeTranscodingCompleted,
	}
}

// NewCacheInvalidationNotification builds the broadcast sent after a purge.
func NewCacheInvalidationNotification(revision int64) *CacheInvalidationNotification {
	return &CacheInvalidationNotification{
		NotificationType:          NotificationCacheInvalidation,
		CacheInvalidationRevision: revision,
	}
}

// SignedEnvelope is the webhook request body.
type SignedEnvelope struct {
	// SignedNotification is hex(signature || json payload).
	SignedNotification string `json:"signed_notification"`
}

// Seal serializes n and signs it into an envelope.
func Seal(signer Signer, n Notification) (*SignedEnvelope, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign notification: %w", err)
	}
	signed := make([]byte, 0, len(sig)+len(payload))
	signed = append(signed, sig...)
	signed = append(signed, payload...)
	return &SignedEnvelope{SignedNotification: hex.EncodeToString(signed)}, nil
}

// DispatcherConfig tunes webhook delivery.
type DispatcherConfig struct {
	// Clients maps an owner to the URL its notifications go to.
	Clients map[string]string
	// MaxAttempts bounds delivery attempts per notification.
	MaxAttempts int
	// AttemptTimeout bounds one HTTP attempt.
	AttemptTimeout time.Duration
	// Backoff builds the retry schedule for one notification.
	Backoff func() backoff.BackOff
}

// DefaultDispatcherConfig returns the production delivery schedule:
// exponential backoff capped at a day, 14 attempts, 10s per attempt.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Clients:        map[string]string{},
		MaxAttempts:    14,
		AttemptTimeout: 10 * time.Second,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Second
			b.MaxInterval = 24 * time.Hour
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Dispatcher delivers signed notifications. Each delivery runs on its own
// goroutine and retries on its own schedule; terminal failures are logged.
type Dispatcher struct {
	signer   Signer
	client   *http.Client
	config   DispatcherConfig
	observer Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher. A nil client selects http.DefaultClient.
func NewDispatcher(signer Signer, client *http.Client, config DispatcherConfig, observer Observer, logger *slog.Logger) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	if config.Backoff == nil {
		config.Backoff = defaults.Backoff
	}
	if client == nil {
		client = http.DefaultClient
	}
	if observer == nil {
		observer = NewNoopObserver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		signer:   signer,
		client:   client,
		config:   config,
		observer: observer,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Notify sends n to callbackURL, or to the URL configured for owner when
// callbackURL is empty. Owners with no target are skipped.
func (d *Dispatcher) Notify(owner, callbackURL string, n Notification) {
	target := callbackURL
	if target == "" {
		target = d.config.Clients[owner]
	}
	if target == "" {
		d.logger.Debug("No notification target", "owner", owner, "notification_type", n.Kind())
		return
	}
	d.deliver(target, n)
}

// Broadcast sends n to every configured client.
func (d *Dispatcher) Broadcast(n Notification) {
	for _, target := range d.config.Clients {
		d.deliver(target, n)
	}
}

func (d *Dispatcher) deliver(target string, n Notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("Notification dropped after shutdown", "target", target, "notification_type", n.Kind())
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		attempts, err := d.Send(d.ctx, target, n)
		d.observer.NotificationFinished(n.Kind(), attempts, err)
		if err != nil {
			d.logger.Error("Failed to deliver notification", "target", target,
				"notification_type", n.Kind(), "attempts", attempts, "error", err)
		}
	}()
}

// Send delivers n to target synchronously, retrying per the configured
// schedule. It returns the number of attempts made.
func (d *Dispatcher) Send(ctx context.Context, target string, n Notification) (int, error) {
	envelope, err := Seal(d.signer, n)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return 0, fmt.Errorf("failed to encode envelope: %w", err)
	}

	attempts := 0
	op := func() error {
		attempts++
		return d.post(ctx, target, body)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(d.config.Backoff(), uint64(d.config.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return attempts, fmt.Errorf("%w: %v", ErrNotificationDeliveryFailed, err)
	}
	return attempts, nil
}

func (d *Dispatcher) post(ctx context.Context, target string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}
	return nil
}

// Close stops accepting notifications and waits for in-flight deliveries.
// When ctx ends first, pending retries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("notifications still pending at shutdown: %w", ctx.Err())
		}
		return ctx.Err()
	}
}
