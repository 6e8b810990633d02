// Package notify implements the outbound notification side-channel: a small
// bounded queue drained by a background worker that hands notifications to a
// pluggable Sender (email in production). Submission never blocks the caller
// and delivery failures are logged and discarded; a state transition must not
// fail or roll back because a notification could not be sent.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Kind selects the outbound template.
type Kind string

const (
	KindDealCreated   Kind = "DEAL_CREATED"
	KindDealCompleted Kind = "DEAL_COMPLETED"
)

// Notification is one queued outbound message. Data carries template fields
// (property title, agreed rent, fee, counterpart name) untyped; rendering
// belongs to the Sender.
type Notification struct {
	Kind           Kind
	RecipientEmail string
	RecipientName  string
	Data           map[string]any
	UserID         string // for logging only
}

// Sender delivers a single notification. Implementations may render and send
// email, push, or anything else; errors are reported back for logging only.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, n Notification) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSender is the default delivery backend: it logs the notification and
// succeeds. Outbound email rendering/transport is an external collaborator.
func LogSender() Sender {
	return SenderFunc(func(_ context.Context, n Notification) error {
		log.Info().
			Str("kind", string(n.Kind)).
			Str("recipient", n.RecipientEmail).
			Str("user_id", n.UserID).
			Msg("notification dispatched")
		return nil
	})
}

// Notifier is the submission capability consumed by the services.
type Notifier interface {
	// Submit enqueues the notification and returns immediately. When the
	// queue is full the notification is dropped with a warning log.
	Submit(n Notification)
}

// Queue is a bounded fire-and-forget notifier backed by one worker goroutine.
type Queue struct {
	ch     chan Notification
	sender Sender
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	caser  cases.Caser
}

// NewQueue constructs a Queue with the given capacity (defaults to 64) and
// starts its worker. Call Close to drain and stop.
func NewQueue(sender Sender, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	q := &Queue{
		ch:     make(chan Notification, capacity),
		sender: sender,
		caser:  cases.Title(language.English),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Submit enqueues n without blocking. A full or closed queue drops the
// notification; losing a courtesy email is preferable to stalling a payment
// write. Safe to call concurrently with Close.
func (q *Queue) Submit(n Notification) {
	n.RecipientName = q.caser.String(n.RecipientName)
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		log.Warn().
			Str("kind", string(n.Kind)).
			Str("user_id", n.UserID).
			Msg("notification queue closed, dropping")
		return
	}
	select {
	case q.ch <- n:
	default:
		log.Warn().
			Str("kind", string(n.Kind)).
			Str("user_id", n.UserID).
			Msg("notification queue full, dropping")
	}
}

// Close stops accepting notifications, drains the queue, and waits for the
// worker to exit. Subsequent Close calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for n := range q.ch {
		if err := q.sender.Send(context.Background(), n); err != nil {
			log.Error().
				Err(err).
				Str("kind", string(n.Kind)).
				Str("recipient", n.RecipientEmail).
				Str("user_id", n.UserID).
				Msg("notification delivery failed")
		}
	}
}
