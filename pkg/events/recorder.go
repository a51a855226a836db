package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"clearpath-hq/gatekeeper/pkg/authz"
	"clearpath-hq/gatekeeper/pkg/rule"
)

// RecorderConfig configures the async decision recorder.
type RecorderConfig struct {
	// Enabled enables recording.
	Enabled bool

	// RecordAllDecisions records allows as well as denies. Denies are
	// always recorded.
	RecordAllDecisions bool

	// AsyncBuffer is the size of the async write channel. A full buffer
	// drops events rather than blocking the authorization path.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout is the per-event storage write timeout.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		Enabled:            true,
		RecordAllDecisions: false,
		AsyncBuffer:        1000,
		WriteTimeout:       5 * time.Second,
	}
}

// Recorder turns decisions into stored events asynchronously. It
// implements the controller's Recorder interface; Record never blocks.
type Recorder struct {
	store   *Store
	config  *RecorderConfig
	eventCh chan *DecisionEvent
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(store *Store, config *RecorderConfig) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}
	if config.AsyncBuffer <= 0 {
		config.AsyncBuffer = 1000
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	r := &Recorder{
		store:   store,
		config:  config,
		eventCh: make(chan *DecisionEvent, config.AsyncBuffer),
		done:    make(chan struct{}),
		logger:  slog.Default().With("component", "events.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues a decision for storage. Allows are skipped unless
// RecordAllDecisions is set; fallback (ephemeral) allows are skipped
// always, since they carry no durable information.
func (r *Recorder) Record(req *authz.Request, d authz.Decision, mode rule.ClientMode) {
	if !r.config.Enabled {
		return
	}
	if d.Verdict.Allows() && !r.config.RecordAllDecisions {
		return
	}
	if d.Verdict.Allows() && d.Ephemeral {
		return
	}

	ev := &DecisionEvent{
		ID:              uuid.NewString(),
		RequestID:       req.ID,
		OccurredAt:      time.Now(),
		PID:             req.PID,
		Path:            req.Identity.Path,
		ContentHash:     req.Identity.ContentHash,
		CDHash:          req.Identity.CodeDirectoryHash,
		SigningID:       req.Identity.SigningID,
		TeamID:          req.Identity.TeamID,
		CertificateHash: req.Identity.CertificateHash,
		Verdict:         d.Verdict.String(),
		Reason:          string(d.Reason),
		Mode:            mode,
		Notify:          d.Notify,
		Message:         d.Message,
	}

	select {
	case r.eventCh <- ev:
	default:
		// Dropping beats blocking an execution verdict.
		if n := r.dropped.Add(1); n%100 == 1 {
			r.logger.Warn("event buffer full, dropping events", "dropped_total", n)
		}
	}
}

// worker drains the event channel into the store.
func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			for {
				select {
				case ev := <-r.eventCh:
					r.write(ev)
				default:
					return
				}
			}
		case ev := <-r.eventCh:
			r.write(ev)
		}
	}
}

func (r *Recorder) write(ev *DecisionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()
	if err := r.store.Insert(ctx, ev); err != nil {
		r.logger.Error("failed to store decision event",
			"event_id", ev.ID,
			"error", err,
		)
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops the recorder, draining buffered events first.
func (r *Recorder) Close() {
	close(r.done)
	r.wg.Wait()
}
