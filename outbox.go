package orgchart

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// EventMembershipChanged is the outbox event type for department moves.
const EventMembershipChanged = "department.membership_changed"

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Minute

	// claimTimeout is how long a claimed event may stay processing before
	// another dispatcher takes it over.
	claimTimeout = 5 * time.Minute
)

// enqueueMembership stores a membership event on db, which should be the
// transaction that moved the employees.
func (s *Service) enqueueMembership(db *gorm.DB, toDept uint, moves []MembershipMove) (*OutboxEvent, error) {
	if len(moves) == 0 {
		return nil, nil
	}
	change := MembershipChange{
		EventID:        uuid.NewString(),
		ToDepartmentID: toDept,
		Moves:          moves,
	}
	if toDept > 0 {
		var dept Department
		if err := db.Select("id", "role_id").First(&dept, toDept).Error; err == nil {
			change.ToRoleID = dept.RoleID
		}
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("encode membership change: %w", err)
	}
	event := &OutboxEvent{
		ID:         change.EventID,
		EventType:  EventMembershipChanged,
		Payload:    string(payload),
		Status:     OutboxPending,
		MaxRetries: s.maxRetries,
	}
	if err := db.Create(event).Error; err != nil {
		return nil, mapDatabaseError(err, "enqueue membership change")
	}
	return event, nil
}

// ListOutbox returns events with the given status, oldest first.
func (s *Service) ListOutbox(ctx context.Context, status OutboxStatus) ([]OutboxEvent, error) {
	var events []OutboxEvent
	if err := s.conn(ctx).Where("status = ?", status).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, mapDatabaseError(err, "list outbox")
	}
	return events, nil
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	BatchSize   int
	Concurrency int
	Logger      *zap.Logger
}

// Dispatcher delivers outbox events to a Notifier at least once.
type Dispatcher struct {
	db          *gorm.DB
	notifier    Notifier
	store       IdempotencyStore
	log         *zap.SugaredLogger
	batchSize   int
	concurrency int
	now         func() time.Time
}

// NewDispatcher builds a dispatcher over the service's database. A nil store
// falls back to the in-memory one.
func (s *Service) NewDispatcher(notifier Notifier, store IdempotencyStore, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if store == nil {
		store = s.NewIdempotencyStore(0)
	}
	log := s.log
	if cfg.Logger != nil {
		log = cfg.Logger.Sugar()
	}
	return &Dispatcher{
		db:          s.db,
		notifier:    notifier,
		store:       store,
		log:         log,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		now:         s.now,
	}
}

// DispatchReport counts the outcome of one RunOnce pass.
type DispatchReport struct {
	Sent       int
	Duplicates int
	Failed     int
	Dead       int
}

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	outcomeDuplicate
	outcomeFailed
	outcomeDead
)

// RunOnce claims pending and due failed events and delivers them.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchReport, error) {
	var report DispatchReport
	events, err := d.claim(ctx)
	if err != nil {
		return report, err
	}
	if len(events) == 0 {
		return report, nil
	}

	outcomes := make([]deliveryOutcome, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i := range events {
		i := i // per-iteration copy (go directive lowered to 1.21)
		g.Go(func() error {
			outcome, err := d.deliver(gctx, &events[i])
			outcomes[i] = outcome
			recordDelivery(outcome)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	for _, o := range outcomes {
		switch o {
		case outcomeSent:
			report.Sent++
		case outcomeDuplicate:
			report.Duplicates++
		case outcomeFailed:
			report.Failed++
		case outcomeDead:
			report.Dead++
		}
	}
	return report, nil
}

// Run calls RunOnce every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if report, err := d.RunOnce(ctx); err != nil {
			d.log.Errorw("outbox dispatch failed", "error", err)
		} else if report.Sent+report.Failed+report.Dead+report.Duplicates > 0 {
			d.log.Infow("outbox dispatched", "sent", report.Sent, "duplicates", report.Duplicates,
				"failed", report.Failed, "dead", report.Dead)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) claim(ctx context.Context) ([]OutboxEvent, error) {
	var events []OutboxEvent
	now := d.now()
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ? OR (status = ? AND next_retry_at <= ?) OR (status = ? AND updated_at <= ?)",
				OutboxPending, OutboxFailed, now, OutboxProcessing, now.Add(-claimTimeout)).
			Order("created_at ASC").
			Limit(d.batchSize).
			Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		return tx.Model(&OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"status": OutboxProcessing, "updated_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	return events, nil
}

// deliver returns an error only when the event row itself could not be
// updated; delivery failures are recorded on the row.
func (d *Dispatcher) deliver(ctx context.Context, event *OutboxEvent) (deliveryOutcome, error) {
	seen, err := d.store.Seen(ctx, event.ID)
	if err != nil {
		d.log.Warnw("idempotency lookup failed", "event", event.ID, "error", err)
	}
	if seen {
		return outcomeDuplicate, d.markSent(ctx, event)
	}

	var change MembershipChange
	if err := json.Unmarshal([]byte(event.Payload), &change); err != nil {
		d.log.Errorw("outbox payload unreadable, moving to dead letters", "event", event.ID, "error", err)
		return outcomeDead, d.markDead(ctx, event, err)
	}

	if err := d.notifier.NotifyMembership(ctx, change); err != nil {
		return d.markFailed(ctx, event, err)
	}
	if err := d.store.MarkProcessed(ctx, event.ID); err != nil {
		d.log.Warnw("failed to record processed event", "event", event.ID, "error", err)
	}
	return outcomeSent, d.markSent(ctx, event)
}

func (d *Dispatcher) markSent(ctx context.Context, event *OutboxEvent) error {
	now := d.now()
	return d.db.WithContext(ctx).Model(&OutboxEvent{}).Where("id = ?", event.ID).Updates(map[string]any{
		"status":       OutboxSent,
		"processed_at": now,
		"updated_at":   now,
		"last_error":   "",
	}).Error
}

func (d *Dispatcher) markDead(ctx context.Context, event *OutboxEvent, cause error) error {
	return d.db.WithContext(ctx).Model(&OutboxEvent{}).Where("id = ?", event.ID).Updates(map[string]any{
		"status":     OutboxDead,
		"last_error": cause.Error(),
		"updated_at": d.now(),
	}).Error
}

func (d *Dispatcher) markFailed(ctx context.Context, event *OutboxEvent, cause error) (deliveryOutcome, error) {
	event.RetryCount++
	if event.RetryCount >= event.MaxRetries {
		d.log.Errorw("outbox event exhausted retries", "event", event.ID, "type", event.EventType,
			"retries", event.RetryCount, "error", cause)
		return outcomeDead, d.db.WithContext(ctx).Model(&OutboxEvent{}).Where("id = ?", event.ID).Updates(map[string]any{
			"status":      OutboxDead,
			"retry_count": event.RetryCount,
			"last_error":  cause.Error(),
			"updated_at":  d.now(),
		}).Error
	}

	next := d.now().Add(retryDelay(event.RetryCount))
	d.log.Warnw("outbox delivery failed", "event", event.ID, "retry", event.RetryCount, "next_retry_at", next, "error", cause)
	return outcomeFailed, d.db.WithContext(ctx).Model(&OutboxEvent{}).Where("id = ?", event.ID).Updates(map[string]any{
		"status":        OutboxFailed,
		"retry_count":   event.RetryCount,
		"last_error":    cause.Error(),
		"next_retry_at": next,
		"updated_at":    d.now(),
	}).Error
}

// retryDelay doubles from baseRetryDelay up to maxRetryDelay.
func retryDelay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := time.Duration(float64(baseRetryDelay) * math.Pow(2, float64(retry-1)))
	if delay > maxRetryDelay || delay <= 0 {
		return maxRetryDelay
	}
	return delay
}

// RequeueDead moves a dead event back to pending with a fresh retry budget.
func (s *Service) RequeueDead(ctx context.Context, id string) error {
	res := s.conn(ctx).Model(&OutboxEvent{}).Where("id = ? AND status = ?", id, OutboxDead).Updates(map[string]any{
		"status":        OutboxPending,
		"retry_count":   0,
		"next_retry_at": nil,
		"updated_at":    s.now(),
	})
	if res.Error != nil {
		return mapDatabaseError(res.Error, "requeue outbox event")
	}
	if res.RowsAffected == 0 {
		return newError(ErrNotFound, "id", "dead outbox event "+id)
	}
	return nil
}
