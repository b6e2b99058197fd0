// Package notify delivers claimant notifications through a persistent
// outbox. The notification stage only enqueues; delivery happens
// asynchronously with retries, so a flaky messaging channel never blocks the
// claim lifecycle.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/davidahmann/claimflow/internal/ledger"
)

// Messenger posts one message to the claimant's channel (email, SMS, portal).
type Messenger interface {
	Send(recipient string, msg Message) (deliveryID string, err error)
}

// Message is the outbox payload.
type Message struct {
	ClaimID   string `json:"claimId"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Outcome   string `json:"outcome,omitempty"`
}

// Outbox enqueues notifications for later delivery.
type Outbox struct {
	store ledger.Store
	now   func() time.Time
}

func NewOutbox(store ledger.Store) *Outbox {
	return &Outbox{store: store, now: time.Now}
}

// SetClock overrides the outbox's time source. Test hook.
func (o *Outbox) SetClock(now func() time.Time) {
	o.now = now
}

// Enqueue stores a pending notification due immediately.
func (o *Outbox) Enqueue(claimID, recipient, message, outcome string) (string, error) {
	body, err := json.Marshal(Message{
		ClaimID:   claimID,
		Recipient: recipient,
		Body:      message,
		Outcome:   outcome,
	})
	if err != nil {
		return "", err
	}
	now := o.now().UTC().Format(time.RFC3339)
	rec := ledger.OutboxRecord{
		NotificationID: uuid.NewString(),
		ClaimID:        claimID,
		Recipient:      recipient,
		MessageJSON:    body,
		Status:         ledger.OutboxPending,
		AttemptCount:   0,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.PutOutbox(rec); err != nil {
		return "", err
	}
	return rec.NotificationID, nil
}

// Dispatcher drains due outbox entries. Failed sends back off exponentially;
// a rate limiter keeps bursts within what the downstream channel tolerates.
type Dispatcher struct {
	store     ledger.Store
	messenger Messenger
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func NewDispatcher(store ledger.Store, messenger Messenger, perSecond float64, log zerolog.Logger) *Dispatcher {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &Dispatcher{
		store:     store,
		messenger: messenger,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		log:       log,
	}
}

// ProcessDue sends due pending notifications, applying exponential backoff on
// failure. Returns the number of records it touched.
func (d *Dispatcher) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if d.messenger == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}

	due, err := d.store.ListOutboxDue(now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != ledger.OutboxPending {
			continue
		}

		var msg Message
		if err := json.Unmarshal(rec.MessageJSON, &msg); err != nil {
			// Bad payload; mark as sent to prevent infinite retries.
			errText := "invalid message_json: " + err.Error()
			rec.LastError = &errText
			markSent(&rec, now)
			if err := d.store.PutOutbox(rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return processed, err
		}

		deliveryID, err := d.messenger.Send(rec.Recipient, msg)
		if err != nil {
			next := nextAttempt(rec.AttemptCount)
			rec.AttemptCount++
			rec.NextAttemptAt = now.UTC().Add(next).Format(time.RFC3339)
			errText := err.Error()
			rec.LastError = &errText
			rec.UpdatedAt = now.UTC().Format(time.RFC3339)
			if err := d.store.PutOutbox(rec); err != nil {
				return processed, err
			}
			d.log.Warn().Err(err).
				Str("notification_id", rec.NotificationID).
				Str("claim_id", rec.ClaimID).
				Int("attempts", rec.AttemptCount).
				Msg("notification send failed")
			processed++
			continue
		}

		markSent(&rec, now)
		if err := d.store.PutOutbox(rec); err != nil {
			return processed, err
		}
		d.log.Info().
			Str("notification_id", rec.NotificationID).
			Str("claim_id", rec.ClaimID).
			Str("delivery_id", deliveryID).
			Msg("notification sent")
		processed++
	}

	return processed, nil
}

func markSent(rec *ledger.OutboxRecord, now time.Time) {
	rec.Status = ledger.OutboxSent
	sentAt := now.UTC().Format(time.RFC3339)
	rec.SentAt = &sentAt
	rec.UpdatedAt = sentAt
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, 80s, 160s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	d := base << attemptCount
	max := 5 * time.Minute
	if d > max {
		return max
	}
	return d
}

// RunWorker polls and processes due outbox entries until ctx is cancelled.
func (d *Dispatcher) RunWorker(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := d.ProcessDue(ctx, now, 25); err != nil && ctx.Err() == nil {
				d.log.Warn().Err(err).Msg("outbox pass failed")
			}
		}
	}
}

// LogMessenger is the dev-mode channel: it logs instead of delivering.
type LogMessenger struct {
	Log zerolog.Logger
}

func (m LogMessenger) Send(recipient string, msg Message) (string, error) {
	m.Log.Info().
		Str("recipient", recipient).
		Str("claim_id", msg.ClaimID).
		Str("outcome", msg.Outcome).
		Msg("notification delivered (log channel)")
	return fmt.Sprintf("log-%d", time.Now().UnixNano()), nil
}
