package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/ahmetcoskunkizilkaya/paygate-portal/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const dbBatchSize = 50

var stderr = os.Stderr

// DBHandler is an slog.Handler that batches ERROR+ records into system_logs.
type DBHandler struct {
	db    *gorm.DB
	core  *dbCore
	attrs []slog.Attr
}

type dbCore struct {
	mu       sync.Mutex
	buffer   []models.SystemLog
	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

func NewDBHandler(db *gorm.DB, interval time.Duration) *DBHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &DBHandler{
		db: db,
		core: &dbCore{
			buffer: make([]models.SystemLog, 0, dbBatchSize),
			ticker: time.NewTicker(interval),
			done:   make(chan struct{}),
		},
	}
	go h.flushLoop()
	return h
}

func (h *DBHandler) flushLoop() {
	for {
		select {
		case <-h.core.ticker.C:
			h.Flush()
		case <-h.core.done:
			h.Flush()
			return
		}
	}
}

// Flush writes the pending batch synchronously.
func (h *DBHandler) Flush() {
	c := h.core
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]models.SystemLog, 0, dbBatchSize)
	c.mu.Unlock()

	if err := h.db.CreateInBatches(batch, dbBatchSize).Error; err != nil {
		// Plain stderr JSON; going through slog would recurse into this handler.
		slog.New(slog.NewJSONHandler(stderr, nil)).Error("failed to flush system logs", "error", err, "count", len(batch))
	}
}

// Stop flushes what is pending and ends the background loop.
func (h *DBHandler) Stop() {
	h.core.stopOnce.Do(func() {
		h.core.ticker.Stop()
		close(h.core.done)
	})
}

// Enabled only handles ERROR and above.
func (h *DBHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *DBHandler) Handle(_ context.Context, record slog.Record) error {
	entry := models.SystemLog{
		ID:        uuid.New(),
		Timestamp: record.Time,
		Level:     LevelName(record.Level),
		Message:   record.Message,
	}

	extra := make(map[string]interface{})
	apply := func(a slog.Attr) bool {
		a = Redact(a)
		switch a.Key {
		case KeyCategory:
			entry.Category = a.Value.String()
		case KeyCorrelationID:
			entry.CorrelationID = a.Value.String()
		case KeySubjectID:
			s := a.Value.String()
			entry.SubjectID = &s
		case "action":
			entry.Action = a.Value.String()
		case "error":
			entry.Error = a.Value.String()
		case "latency_ms":
			switch v := a.Value.Any().(type) {
			case float64:
				entry.LatencyMs = int(math.Round(v))
			case int64:
				entry.LatencyMs = int(v)
			}
		default:
			extra[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		apply(a)
	}
	record.Attrs(apply)

	if len(extra) > 0 {
		if b, err := json.Marshal(extra); err == nil {
			entry.Extra = datatypes.JSON(b)
		}
	}

	c := h.core
	c.mu.Lock()
	c.buffer = append(c.buffer, entry)
	needFlush := len(c.buffer) >= dbBatchSize
	c.mu.Unlock()

	if needFlush {
		go h.Flush()
	}
	return nil
}

func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup is flattened: system_logs has no notion of nesting.
func (h *DBHandler) WithGroup(string) slog.Handler {
	return h
}
