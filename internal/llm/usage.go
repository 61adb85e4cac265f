package llm

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"content-router/internal/common/logging"
	"content-router/internal/storage"
)

// UsageStore is the slice of storage the recorder needs.
type UsageStore interface {
	CreateUsageLog(log *storage.UsageLog) error
}

// UsageRecorder persists usage entries off the caller's goroutine. When
// the buffer is full entries are dropped with a warning; accounting must
// never slow down or fail a chat call.
type UsageRecorder struct {
	store   UsageStore
	logger  logging.Logger
	entries chan *storage.UsageLog
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewUsageRecorder(store UsageStore, bufferSize int, logger logging.Logger) *UsageRecorder {
	if bufferSize < 1 {
		bufferSize = 100
	}
	r := &UsageRecorder{
		store:   store,
		logger:  logger,
		entries: make(chan *storage.UsageLog, bufferSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an entry without blocking. Drops the entry when the
// buffer is full or the recorder has been closed.
func (r *UsageRecorder) Record(entry *storage.UsageLog) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("usage recorder closed, dropping entry",
			logging.String("provider", entry.Provider),
			logging.String("model", entry.Model))
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.logger.Warn("usage log buffer full, dropping entry",
			logging.String("provider", entry.Provider),
			logging.String("model", entry.Model))
	}
}

// Close drains queued entries and stops the worker. Entries recorded
// after Close are dropped.
func (r *UsageRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.entries)
	r.mu.Unlock()
	<-r.done
}

func (r *UsageRecorder) run() {
	defer close(r.done)
	for entry := range r.entries {
		if err := r.store.CreateUsageLog(entry); err != nil {
			r.logger.Warn("failed to persist usage log entry", logging.Err(err))
		}
	}
}
