package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opencrafts-io/interventoria/internal/guard"
	"github.com/opencrafts-io/interventoria/internal/middleware"
)

const (
	recordTimeout = 3 * time.Second
	queueSize     = 256
)

// Recorder writes every guard decision to the access log. Authorized
// decisions are queued and written by a background worker so the request
// does not wait on the insert; every other decision is written inline.
type Recorder struct {
	queries *Queries
	logger  *slog.Logger

	queue  chan RecordEntryParams
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewRecorder(db DBTX, logger *slog.Logger) *Recorder {
	r := &Recorder{
		queries: New(db),
		logger:  logger,
		queue:   make(chan RecordEntryParams, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for params := range r.queue {
		r.record(context.Background(), params)
	}
}

func (r *Recorder) ObserveDecision(ctx context.Context, d guard.Decision) {
	params := RecordEntryParams{
		SubjectID:   d.SubjectID,
		RoleClaim:   d.RoleClaim,
		Resource:    string(d.Resource),
		State:       string(d.State),
		Destination: d.Destination,
		RequestID:   middleware.GetRequestID(ctx),
	}
	if d.Err != nil {
		msg := d.Err.Error()
		params.Error = &msg
	}

	if d.State != guard.StateAuthorized || !r.enqueue(params) {
		r.record(ctx, params)
	}
}

// enqueue hands params to the worker. It reports false once the recorder is
// closed. A full queue drops the entry.
func (r *Recorder) enqueue(params RecordEntryParams) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- params:
	default:
		r.logger.Warn("Access log queue is full, dropping decision",
			slog.String("resource", params.Resource),
			slog.String("subject", params.SubjectID),
		)
	}
	return true
}

func (r *Recorder) record(ctx context.Context, params RecordEntryParams) {
	// The decision is logged even when the client has already gone away.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if _, err := r.queries.RecordEntry(recCtx, params); err != nil {
		r.logger.Error("Failed to record access decision",
			slog.String("resource", params.Resource),
			slog.String("state", params.State),
			slog.Any("error", err),
		)
	}
}

// Close stops accepting queued decisions and waits for the queued ones to
// be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
