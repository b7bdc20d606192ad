// Package reliability implements AS4 reception awareness: pushed user
// messages that have not been acknowledged with a receipt are resent on a
// fixed interval until the retry budget runs out, after which the message
// is dead lettered and the producer is notified through the exception
// store.
//
// The poller runs as a background worker. Retry records are claimed by
// advancing NextRetryTime before the resend happens, so a second poller
// instance working the same store will not double-send a due message.
package reliability

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/message"
	"github.com/openas4/msh/pkg/mime"
)

// Resender pushes a stored message to its recipient again. The msh
// orchestrator implements this with the outbound send pipeline.
type Resender interface {
	Resend(ctx context.Context, stored *storage.OutMessage, msg *message.AS4Message) error
}

// RetryableError marks a resend failure as transient. Errors that do not
// implement it, or whose Retryable() is false, exhaust the message
// immediately.
type RetryableError interface {
	Retryable() bool
}

// Config holds retry poller configuration.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
	}
}

// RetryPoller resends unacknowledged messages on their configured interval.
type RetryPoller struct {
	repo     storage.Repository
	bodies   storage.BodyStore
	resender Resender
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetryPoller creates a retry poller. A nil config gets defaults.
func NewRetryPoller(repo storage.Repository, bodies storage.BodyStore, resender Resender, cfg *Config, logger *slog.Logger) *RetryPoller {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPoller{
		repo:         repo,
		bodies:       bodies,
		resender:     resender,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		now:          time.Now,
	}
}

// Start begins background retry processing.
func (p *RetryPoller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run()
	p.logger.Info("retry poller started", "poll_interval", p.pollInterval)
}

// Stop gracefully stops the poller.
func (p *RetryPoller) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("retry poller stopped")
}

func (p *RetryPoller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.ProcessDue(p.ctx)
		}
	}
}

// ProcessDue resends every message whose retry is due. Each record is
// handled independently; a failure on one does not stop the batch.
func (p *RetryPoller) ProcessDue(ctx context.Context) {
	records, err := p.repo.DueRetries(ctx, p.now(), p.batchSize)
	if err != nil {
		p.logger.Error("failed to list due retries", "error", err)
		return
	}

	for _, record := range records {
		if err := p.retry(ctx, record); err != nil {
			p.logger.Error("retry failed",
				"message_id", record.EbmsMessageID,
				"retry_count", record.CurrentRetryCount,
				"error", err,
			)
		}
	}
}

func (p *RetryPoller) retry(ctx context.Context, record *storage.RetryRecord) error {
	log := p.logger.With("message_id", record.EbmsMessageID)

	if record.CurrentRetryCount >= record.MaxRetryCount {
		return p.exhaust(ctx, record, "retry budget exhausted")
	}

	// Claim the attempt before sending so a concurrent poller skips it.
	now := p.now()
	record.CurrentRetryCount++
	record.LastRetryTime = now
	record.NextRetryTime = now.Add(record.RetryInterval)
	if err := p.repo.UpdateRetryRecord(ctx, record); err != nil {
		return fmt.Errorf("claiming retry %s: %w", record.EbmsMessageID, err)
	}

	stored, err := p.repo.GetOutMessage(ctx, record.EbmsMessageID)
	if err != nil {
		return p.exhaust(ctx, record, "stored message missing: "+err.Error())
	}

	body, contentType, err := p.bodies.LoadBody(ctx, stored.BodyID)
	if err != nil {
		return p.exhaust(ctx, record, "stored body missing: "+err.Error())
	}
	msg, err := mime.Parse(pickContentType(stored.ContentType, contentType), bytes.NewReader(body))
	if err != nil {
		return p.exhaust(ctx, record, "stored body unreadable: "+err.Error())
	}
	defer msg.Close()

	log.Info("resending unacknowledged message",
		"retry_count", record.CurrentRetryCount,
		"max_retries", record.MaxRetryCount,
	)

	if err := p.resender.Resend(ctx, stored, msg); err != nil {
		var transient RetryableError
		if errors.As(err, &transient) && !transient.Retryable() {
			return p.exhaust(ctx, record, "permanent send failure: "+err.Error())
		}
		if record.CurrentRetryCount >= record.MaxRetryCount {
			return p.exhaust(ctx, record, "retry budget exhausted: "+err.Error())
		}
		log.Warn("resend failed, will retry",
			"retry_count", record.CurrentRetryCount,
			"next_retry", record.NextRetryTime,
			"error", err,
		)
		return nil
	}
	return nil
}

// OnReceipt completes the retry record acknowledged by a receipt. Unknown
// references are ignored so that receipts for unretried messages pass
// through cleanly.
func (p *RetryPoller) OnReceipt(ctx context.Context, refToMessageID string) error {
	record, err := p.repo.GetRetryRecord(ctx, refToMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		return nil
	}

	record.Status = storage.RetryStatusCompleted
	if err := p.repo.UpdateRetryRecord(ctx, record); err != nil {
		return fmt.Errorf("completing retry %s: %w", refToMessageID, err)
	}
	if err := p.repo.UpdateOutMessageOperation(ctx, refToMessageID, storage.OperationSent); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	p.logger.Info("message acknowledged", "message_id", refToMessageID)
	return nil
}

// exhaust dead letters the message and records an exception the notify
// flow will hand to the producer.
func (p *RetryPoller) exhaust(ctx context.Context, record *storage.RetryRecord, reason string) error {
	record.Status = storage.RetryStatusExhausted
	if err := p.repo.UpdateRetryRecord(ctx, record); err != nil {
		return fmt.Errorf("exhausting retry %s: %w", record.EbmsMessageID, err)
	}
	if err := p.repo.UpdateOutMessageOperation(ctx, record.EbmsMessageID, storage.OperationDeadLettered); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	exc := &storage.Exception{
		Direction:      storage.ExceptionOut,
		RefToMessageID: record.EbmsMessageID,
		Detail:         reason,
		Operation:      storage.OperationToBeNotified,
	}
	if err := p.repo.InsertException(ctx, exc); err != nil {
		return fmt.Errorf("recording exhaustion of %s: %w", record.EbmsMessageID, err)
	}

	p.logger.Warn("message dead lettered",
		"message_id", record.EbmsMessageID,
		"reason", reason,
	)
	return nil
}

func pickContentType(stored, body string) string {
	if stored != "" {
		return stored
	}
	return body
}
