package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Attribute keys lifted out of metadata into dedicated Entry fields.
const (
	KeyCategory      = "category"
	KeySubjectID     = "subject_id"
	KeyCorrelationID = "correlation_id"
)

// CategoryAuth tags every event emitted by the auth orchestrator.
const CategoryAuth = "AUTH"

const levelAll = slog.Level(-1 << 16)

// DefaultSinkSize is the number of entries a Sink keeps when none is given.
const DefaultSinkSize = 1000

// Entry is one diagnostic event as recorded by a Sink.
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         slog.Level     `json:"-"`
	LevelName     string         `json:"level"`
	Message       string         `json:"message"`
	Category      string         `json:"category,omitempty"`
	SubjectID     string         `json:"subject_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Filter narrows Entries. Zero-valued fields match everything except
// MinLevel, whose zero value is INFO.
type Filter struct {
	MinLevel  slog.Level
	Category  string
	SubjectID string
	Since     time.Time
	Until     time.Time
}

func (f Filter) match(e Entry) bool {
	if e.Level < f.MinLevel {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

type sinkBuffer struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	level   slog.Leveler
}

// Sink is an append-only, bounded, in-memory slog.Handler. Once full, the
// oldest entry is dropped for each new one. Handlers derived through WithAttrs
// and WithGroup share the same buffer.
type Sink struct {
	buf    *sinkBuffer
	attrs  []slog.Attr
	groups []string
}

// NewSink keeps at most size entries at or above level.
func NewSink(size int, level slog.Leveler) *Sink {
	if size <= 0 {
		size = DefaultSinkSize
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &Sink{buf: &sinkBuffer{
		entries: make([]Entry, 0, min(size, 64)),
		max:     size,
		level:   level,
	}}
}

func (s *Sink) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.buf.level.Level()
}

func (s *Sink) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Timestamp: r.Time,
		Level:     r.Level,
		LevelName: LevelName(r.Level),
		Message:   r.Message,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	for _, a := range s.attrs {
		s.collect(&e, nil, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		s.collect(&e, s.groups, a)
		return true
	})

	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.max {
		n := copy(b.entries, b.entries[len(b.entries)-b.max+1:])
		b.entries = b.entries[:n]
	}
	b.entries = append(b.entries, e)
	return nil
}

func (s *Sink) collect(e *Entry, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	a = Redact(a)

	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if a.Key != "" {
			inner = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			s.collect(e, inner, ga)
		}
		return
	}

	if len(groups) == 0 {
		switch a.Key {
		case KeyCategory:
			e.Category = a.Value.String()
			return
		case KeySubjectID:
			e.SubjectID = a.Value.String()
			return
		case KeyCorrelationID:
			e.CorrelationID = a.Value.String()
			return
		}
	}

	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + a.Key
	}
	e.Metadata[key] = a.Value.Any()
}

func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	next := *s
	next.attrs = append(append([]slog.Attr(nil), s.attrs...), nest(s.groups, attrs)...)
	return &next
}

// nest wraps attrs in the currently open groups so they keep their position
// when more groups are opened later.
func nest(groups []string, attrs []slog.Attr) []slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		attrs = []slog.Attr{{Key: groups[i], Value: slog.GroupValue(attrs...)}}
	}
	return attrs
}

func (s *Sink) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	next := *s
	next.groups = append(append([]string(nil), s.groups...), name)
	return &next
}

// Entries returns a copy of the buffered entries that match f, oldest first.
func (s *Sink) Entries(f Filter) []Entry {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	out := make([]Entry, 0, len(s.buf.entries))
	for _, e := range s.buf.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many entries are buffered.
func (s *Sink) Len() int {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	return len(s.buf.entries)
}

// Clear drops every buffered entry.
func (s *Sink) Clear() {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	s.buf.entries = s.buf.entries[:0]
}

// Import appends previously exported entries, oldest first, keeping the size
// bound. Level is restored from LevelName.
func (s *Sink) Import(entries []Entry) {
	b := s.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		if lvl, err := ParseLevel(e.LevelName); err == nil {
			e.Level = lvl
		}
		b.entries = append(b.entries, e)
	}
	if over := len(b.entries) - b.max; over > 0 {
		n := copy(b.entries, b.entries[over:])
		b.entries = b.entries[:n]
	}
}

// Export renders all buffered entries as indented JSON.
func (s *Sink) Export() ([]byte, error) {
	return json.MarshalIndent(s.Entries(Filter{MinLevel: levelAll}), "", "  ")
}
