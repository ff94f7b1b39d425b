package scheduler

import (
	"testing"

	"go.uber.org/zap"

	"github.com/pokeloop/pokeagent/internal/anomaly"
	"github.com/pokeloop/pokeagent/internal/emulator"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ActionHistoryLen = 4
	return New(nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, zap.NewNop(), cfg)
}

func TestPause_SetsStatusPaused(t *testing.T) {
	s := newTestScheduler(t)
	s.Pause()
	if !s.Status().Paused {
		t.Error("expected Status().Paused to be true after Pause")
	}
}

func TestResume_ClearsStatusPaused(t *testing.T) {
	s := newTestScheduler(t)
	s.Pause()
	s.Resume()
	if s.Status().Paused {
		t.Error("expected Status().Paused to be false after Resume")
	}
}

func TestRequestStop_IsIdempotent(t *testing.T) {
	s := newTestScheduler(t)
	s.RequestStop()
	s.RequestStop() // must not panic on a second call
	select {
	case <-s.stopCh:
	default:
		t.Error("expected stopCh to be closed after RequestStop")
	}
}

func TestRecordButtons_AppendsToHistory(t *testing.T) {
	s := newTestScheduler(t)
	s.recordButtons([]emulator.Button{emulator.ButtonA, emulator.ButtonB})
	if len(s.buttonHistory) != 2 {
		t.Fatalf("expected 2 entries in buttonHistory, got %d", len(s.buttonHistory))
	}
	if s.buttonHistory[0] != "A" || s.buttonHistory[1] != "B" {
		t.Errorf("unexpected button history: %v", s.buttonHistory)
	}
}

func TestRecordButtons_TrimsToFourTimesActionHistoryLen(t *testing.T) {
	s := newTestScheduler(t) // ActionHistoryLen=4, so the cap is 16
	for i := 0; i < 20; i++ {
		s.recordButtons([]emulator.Button{emulator.ButtonA})
	}
	if len(s.buttonHistory) != 16 {
		t.Errorf("expected buttonHistory trimmed to 16, got %d", len(s.buttonHistory))
	}
}

func TestRecentButtonCounts_OnlyCountsWithinActionHistoryWindow(t *testing.T) {
	s := newTestScheduler(t) // ActionHistoryLen=4
	s.recordButtons([]emulator.Button{"A", "A", "A", "A", "A", "B", "B", "B"})
	// window = last 4 entries: A, B, B, B
	if sum := sumCounts(s.recentButtonCounts()); sum != 4 {
		t.Errorf("expected recentButtonCounts to tally exactly 4 presses (the window), got %d", sum)
	}
}

func TestRecentButtonCounts_UsesFullHistoryWhenShorterThanWindow(t *testing.T) {
	s := newTestScheduler(t)
	s.recordButtons([]emulator.Button{"A", "B"})
	if sum := sumCounts(s.recentButtonCounts()); sum != 2 {
		t.Errorf("expected recentButtonCounts to tally all 2 presses when history is shorter than the window, got %d", sum)
	}
}

func sumCounts(c anomaly.ButtonCounts) uint64 {
	var total uint64
	for _, n := range c {
		total += n
	}
	return total
}
