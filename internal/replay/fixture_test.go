package replay

import (
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/flowtrace/internal/automaton"
)

// #region fixture-tests

// TestFixture_TwoState replays the two_state fixture and compares each
// trace's final state and miss count with the recorded expectation.
func TestFixture_TwoState(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "two_state.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, m, err := f.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != len(f.Expected) {
		t.Fatalf("expected %d results, got %d", len(f.Expected), len(results))
	}
	for i, want := range f.Expected {
		got := results[i]
		if got.Trace != want.Trace || got.Final != want.Final || got.Unmatched != want.Unmatched {
			t.Errorf("trace %d: expected final=%s unmatched=%d, got final=%s unmatched=%d",
				i, want.Final, want.Unmatched, got.Final, got.Unmatched)
		}
	}

	zero, _ := m.Node("0")
	if n := zero.Visits(automaton.KindTrain); n != 5 {
		t.Errorf("expected 5 visits at state 0, got %d", n)
	}
}

func TestFixture_ExportRoundTrip(t *testing.T) {
	src, err := LoadFixture(filepath.Join("testdata", "two_state.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	f, err := NewFixture("exported", src.Model, src.Traces, src.Indices, Config{})
	if err != nil {
		t.Fatalf("NewFixture: %v", err)
	}
	path := filepath.Join(t.TempDir(), "out.json")
	if err := WriteFixture(path, f); err != nil {
		t.Fatalf("WriteFixture: %v", err)
	}
	back, err := LoadFixture(path)
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	if len(back.Expected) != len(src.Expected) {
		t.Fatalf("expected %d results, got %d", len(src.Expected), len(back.Expected))
	}
	for i := range src.Expected {
		if back.Expected[i] != src.Expected[i] {
			t.Errorf("trace %d: expected %+v, got %+v", i, src.Expected[i], back.Expected[i])
		}
	}
	if back.Config.Unmatched != PolicyStay {
		t.Errorf("expected default policy, got %q", back.Config.Unmatched)
	}
}

func TestLoadFixture_Missing(t *testing.T) {
	if _, err := LoadFixture(filepath.Join("testdata", "nope.json")); err == nil {
		t.Error("expected error for missing fixture")
	}
}

// #endregion fixture-tests
