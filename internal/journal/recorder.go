package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
)

const (
	defaultQueueSize   = 64
	defaultSaveTimeout = 5 * time.Second
)

// Recorder saves completed turns in the background so a slow store never
// holds up the event listener that feeds it.
type Recorder struct {
	store       Store
	saveTimeout time.Duration
	queue       chan Record

	closeOnce sync.Once
	done      chan struct{}
}

type RecorderOption func(*Recorder)

func WithSaveTimeout(timeout time.Duration) RecorderOption {
	return func(r *Recorder) {
		if timeout > 0 {
			r.saveTimeout = timeout
		}
	}
}

func WithQueueSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.queue = make(chan Record, size)
		}
	}
}

func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:       store,
		saveTimeout: defaultSaveTimeout,
		queue:       make(chan Record, defaultQueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Observe is an orchestration event listener. Records are dropped when the
// queue is full.
func (r *Recorder) Observe(event events.Event) {
	completed, ok := event.(events.TurnCompleted)
	if !ok {
		return
	}

	select {
	case r.queue <- RecordFromEvent(completed):
	default:
		logger.Warn("journal queue full, dropping turn", slog.String("turn_id", completed.TurnID))
	}
}

// Close stops accepting records and waits for the queued ones to be saved.
// It must not be called concurrently with Observe.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for record := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
		if err := r.store.SaveTurn(ctx, record); err != nil {
			logger.Error("failed to save turn",
				slog.String("turn_id", record.TurnID),
				slog.Any("error", err))
		}
		cancel()
	}
}
