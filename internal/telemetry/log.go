package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Store keys.
const (
	LogsKey      = "game_logs"
	SubjectIDKey = "subject_id"
	TrialIDKey   = "trial_id"
)

// MaxEntries bounds the history.
const MaxEntries = 100

// KV is the persistence the log lives in.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

// Log is the newest-first history of readings plus the subject and trial
// identifiers that label an export. Add writes through; Record leaves the
// write to a background flusher so the caller never waits on the disk.
type Log struct {
	kv KV

	// saveMu serializes history writes and is taken before mu.
	saveMu sync.Mutex

	mu      sync.Mutex
	entries []Reading
	subject string
	trial   string
	pending bool // entries changed since the last successful save
	wake    chan struct{}
	done    chan struct{}
	closed  bool
}

// OpenLog loads the history from kv. A corrupt history is logged and
// started afresh.
func OpenLog(kv KV) (*Log, error) {
	l := &Log{kv: kv, wake: make(chan struct{}, 1)}

	raw, ok, err := kv.Get(LogsKey)
	if err != nil {
		return nil, fmt.Errorf("telemetry: load history: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &l.entries); err != nil {
			slog.Warn("[STORE] discarding unreadable history", "error", err)
			l.entries = nil
		}
		if len(l.entries) > MaxEntries {
			l.entries = l.entries[:MaxEntries]
		}
	}

	if l.subject, _, err = kv.Get(SubjectIDKey); err != nil {
		return nil, fmt.Errorf("telemetry: load subject id: %w", err)
	}
	if l.trial, _, err = kv.Get(TrialIDKey); err != nil {
		return nil, fmt.Errorf("telemetry: load trial id: %w", err)
	}
	return l, nil
}

// Add prepends r, dropping the oldest entry beyond MaxEntries, and saves
// the history before returning.
func (l *Log) Add(r Reading) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	next := prepend(l.entries, r)
	if err := l.save(next); err != nil {
		return err
	}
	l.entries = next
	l.pending = false
	return nil
}

// Record prepends r in memory at once and queues the save. Saves queued
// while one is running are coalesced into a single write of the latest
// history.
func (l *Log) Record(r Reading) {
	l.mu.Lock()
	l.entries = prepend(l.entries, r)
	l.pending = true
	if !l.closed {
		if l.done == nil {
			l.done = make(chan struct{})
			go l.flushLoop(l.done)
		}
		// wake is only closed after closed is set, so this send is safe.
		select {
		case l.wake <- struct{}{}:
		default:
		}
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := l.Flush(); err != nil {
		slog.Warn("[STORE] failed to record reading", "error", err)
	}
}

func (l *Log) flushLoop(done chan struct{}) {
	defer close(done)
	for range l.wake {
		if err := l.Flush(); err != nil {
			slog.Warn("[STORE] failed to record reading", "error", err)
		}
	}
}

// Flush saves the history if it changed since the last save.
func (l *Log) Flush() error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if !l.pending {
		l.mu.Unlock()
		return nil
	}
	snapshot := l.entries
	l.pending = false
	l.mu.Unlock()

	if err := l.save(snapshot); err != nil {
		l.mu.Lock()
		l.pending = true
		l.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the background flusher and saves anything still queued.
// Record keeps working afterwards, saving synchronously.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.Flush()
	}
	l.closed = true
	done := l.done
	l.mu.Unlock()

	close(l.wake)
	if done != nil {
		<-done
	}
	return l.Flush()
}

func prepend(entries []Reading, r Reading) []Reading {
	next := make([]Reading, 0, min(len(entries)+1, MaxEntries))
	next = append(next, r)
	next = append(next, entries...)
	if len(next) > MaxEntries {
		next = next[:MaxEntries]
	}
	return next
}

func (l *Log) save(entries []Reading) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("telemetry: encode history: %w", err)
	}
	if err := l.kv.Set(LogsKey, string(raw)); err != nil {
		return fmt.Errorf("telemetry: save history: %w", err)
	}
	return nil
}

// Entries returns a copy of the history, newest first.
func (l *Log) Entries() []Reading {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Reading, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of stored readings.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Clear drops the whole history.
func (l *Log) Clear() error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Remove(LogsKey); err != nil {
		return fmt.Errorf("telemetry: clear history: %w", err)
	}
	l.entries = nil
	l.pending = false
	return nil
}

// IDs returns the subject and trial identifiers.
func (l *Log) IDs() (subject, trial string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subject, l.trial
}

// SetIDs stores the subject and trial identifiers.
func (l *Log) SetIDs(subject, trial string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Set(SubjectIDKey, subject); err != nil {
		return fmt.Errorf("telemetry: save subject id: %w", err)
	}
	if err := l.kv.Set(TrialIDKey, trial); err != nil {
		return fmt.Errorf("telemetry: save trial id: %w", err)
	}
	l.subject, l.trial = subject, trial
	return nil
}
