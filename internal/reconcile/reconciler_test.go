package reconcile

import (
	"testing"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
)

func fixedClock() func() time.Time {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestStripTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"[10:00:01] Iniciando", "Iniciando"},
		{"[10:00:01]Iniciando", "Iniciando"},
		{"Iniciando [10:00:01]", "Iniciando [10:00:01]"},
		{"[1:00:01] corto", "[1:00:01] corto"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripTimestamp(tt.in); got != tt.want {
			t.Errorf("StripTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	c := NewClassifier(nil)
	tests := []struct {
		msg  string
		want constants.Severity
	}{
		{"✅ registro 4 procesado", constants.SeveritySuccess},
		{"ÉXITO en fila 3", constants.SeveritySuccess},
		{"❌ fila 9 rechazada", constants.SeverityError},
		{"ERROR de conexión", constants.SeverityError},
		{"⚠️ campo vacío", constants.SeverityWarning},
		{"WARNING: duplicado", constants.SeverityWarning},
		{"✅ ÉXITO tras ERROR", constants.SeveritySuccess},
		{"ERROR y WARNING", constants.SeverityError},
		{"Iniciando", constants.SeverityInfo},
		{"error en minúsculas", constants.SeverityInfo},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.msg); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
}

func TestClassifyLevel(t *testing.T) {
	c := NewClassifier(nil)
	if got := c.ClassifyLevel("WARN", "all good ✅"); got != constants.SeverityWarning {
		t.Errorf("Expected level field to win, got %s", got)
	}
	if got := c.ClassifyLevel("info", "❌ boom"); got != constants.SeverityInfo {
		t.Errorf("Expected explicit info, got %s", got)
	}
	if got := c.ClassifyLevel("", "❌ boom"); got != constants.SeverityError {
		t.Errorf("Expected heuristic fallback, got %s", got)
	}
	if got := c.ClassifyLevel("trace", "ÉXITO"); got != constants.SeveritySuccess {
		t.Errorf("Expected heuristic fallback for unknown level, got %s", got)
	}
}

func TestCustomRules(t *testing.T) {
	tl := NewTimeline(WithRules([]Rule{
		{Severity: constants.SeverityWarning, Markers: []string{"SKIP"}},
	}))
	added := tl.Absorb([]string{"SKIP row 2", "✅ fine"})
	if added[0].Severity != constants.SeverityWarning {
		t.Errorf("Expected custom marker, got %s", added[0].Severity)
	}
	if added[1].Severity != constants.SeverityInfo {
		t.Errorf("Expected default table replaced, got %s", added[1].Severity)
	}
}

func TestReconcileSuffix(t *testing.T) {
	tl := NewTimeline(WithClock(fixedClock()))

	added, consumed := tl.Reconcile(0, []string{"[10:00:01] Iniciando"})
	if len(added) != 1 || consumed != 1 {
		t.Fatalf("Expected 1 entry / consumed 1, got %d / %d", len(added), consumed)
	}
	if added[0].Message != "Iniciando" || added[0].Severity != constants.SeverityInfo {
		t.Errorf("Unexpected entry %+v", added[0])
	}

	added, consumed = tl.Reconcile(consumed, []string{"[10:00:01] Iniciando", "[10:00:02] ✅ fila 1", "fila 2 sin marca"})
	if len(added) != 2 || consumed != 3 {
		t.Fatalf("Expected 2 new / consumed 3, got %d / %d", len(added), consumed)
	}
	if added[0].ID != 2 || added[1].ID != 3 {
		t.Errorf("Expected ids 2,3 got %d,%d", added[0].ID, added[1].ID)
	}
	if added[1].Severity != constants.SeverityInfo {
		t.Errorf("Expected unmarked line kept as info, got %s", added[1].Severity)
	}
}

func TestReconcileIgnoresResentAndShrunkLogs(t *testing.T) {
	tl := NewTimeline()
	logs := []string{"a", "b", "c"}
	_, consumed := tl.Reconcile(0, logs)

	added, next := tl.Reconcile(consumed, logs)
	if len(added) != 0 || next != 3 {
		t.Errorf("Expected no-op on resend, got %d new, consumed %d", len(added), next)
	}
	added, next = tl.Reconcile(consumed, logs[:1])
	if len(added) != 0 || next != 3 {
		t.Errorf("Expected no-op on shrink, got %d new, consumed %d", len(added), next)
	}
	added, next = tl.Reconcile(-4, nil)
	if len(added) != 0 || next != 0 {
		t.Errorf("Expected negative count clamped, got %d new, consumed %d", len(added), next)
	}
}

func TestAbsorbTracksLongestLog(t *testing.T) {
	tl := NewTimeline()
	polls := [][]string{
		{"1"},
		{"1", "2", "3"},
		{"1", "2"},
		{},
		{"1", "2", "3", "4"},
		{"1", "2", "3", "4"},
	}
	longest := 0
	for i, p := range polls {
		tl.Absorb(p)
		if len(p) > longest {
			longest = len(p)
		}
		if tl.Consumed() != longest {
			t.Errorf("poll %d: consumed %d, want %d", i, tl.Consumed(), longest)
		}
	}
	if tl.Len() != 4 {
		t.Errorf("Expected 4 entries without duplicates, got %d", tl.Len())
	}
}

func TestAppendAndResetKeepIDsIncreasing(t *testing.T) {
	tl := NewTimeline(WithClock(fixedClock()))
	tl.Absorb([]string{"x"})
	stop := tl.Append("stopped", constants.SeverityWarning)
	if stop.ID != 2 {
		t.Errorf("Expected id 2, got %d", stop.ID)
	}

	tl.Reset()
	if tl.Len() != 0 || tl.Consumed() != 0 {
		t.Fatalf("Expected empty timeline after reset")
	}
	added := tl.Absorb([]string{"y"})
	if added[0].ID <= stop.ID {
		t.Errorf("Expected id to keep increasing after reset, got %d", added[0].ID)
	}

	entries := tl.Entries()
	entries[0].Message = "mutated"
	if tl.Entries()[0].Message != "y" {
		t.Error("Expected Entries to return a copy")
	}
}
