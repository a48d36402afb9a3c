package reconcile

import (
	"regexp"
	"sync"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
)

// Entry is one line of the local timeline.
type Entry struct {
	ID        int64              `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Message   string             `json:"message"`
	Severity  constants.Severity `json:"severity"`
}

var leadingClock = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\]\s*`)

// StripTimestamp removes a leading "[HH:MM:SS] " token if present.
func StripTimestamp(line string) string {
	return leadingClock.ReplaceAllString(line, "")
}

// Timeline is the append-only, per-job log shown to the user. IDs keep increasing
// across Reset so an entry id is never handed out twice by the same Timeline.
type Timeline struct {
	mu         sync.Mutex
	entries    []Entry
	nextID     int64
	consumed   int
	classifier *Classifier
	now        func() time.Time
}

type Option func(*Timeline)

// WithClock overrides the receipt timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Timeline) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRules swaps the severity table.
func WithRules(rules []Rule) Option {
	return func(t *Timeline) {
		t.classifier = NewClassifier(rules)
	}
}

func NewTimeline(opts ...Option) *Timeline {
	t := &Timeline{
		nextID:     1,
		classifier: NewClassifier(nil),
		now:        time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Reconcile absorbs the part of a cumulative server log that has not been seen yet.
// Lines are keyed by position: if the server resends the same list, or a shorter one,
// nothing is emitted and the consumed count stays put.
func (t *Timeline) Reconcile(previousConsumed int, cumulative []string) ([]Entry, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reconcileLocked(previousConsumed, cumulative)
}

// Absorb is Reconcile keyed by the timeline's own consumed count.
func (t *Timeline) Absorb(cumulative []string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	added, consumed := t.reconcileLocked(t.consumed, cumulative)
	t.consumed = consumed
	return added
}

func (t *Timeline) reconcileLocked(previousConsumed int, cumulative []string) ([]Entry, int) {
	if previousConsumed < 0 {
		previousConsumed = 0
	}
	if len(cumulative) <= previousConsumed {
		return nil, previousConsumed
	}

	suffix := cumulative[previousConsumed:]
	added := make([]Entry, 0, len(suffix))
	for _, raw := range suffix {
		msg := StripTimestamp(raw)
		added = append(added, t.appendLocked(msg, t.classifier.Classify(msg)))
	}
	return added, previousConsumed + len(suffix)
}

// Append adds a locally synthesized entry (submission errors, summaries, manual stop).
func (t *Timeline) Append(message string, severity constants.Severity) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(message, severity)
}

func (t *Timeline) appendLocked(message string, severity constants.Severity) Entry {
	e := Entry{
		ID:        t.nextID,
		Timestamp: t.now(),
		Message:   message,
		Severity:  severity,
	}
	t.nextID++
	t.entries = append(t.entries, e)
	return e
}

// Entries returns a copy of the timeline.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Consumed is the number of raw server lines absorbed so far.
func (t *Timeline) Consumed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consumed
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset clears entries and the consumed count for a new job.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.consumed = 0
}
