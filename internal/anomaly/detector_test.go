package anomaly

import (
	"testing"

	"github.com/pokeloop/pokeagent/internal/duration"
)

func warmProfile(mean, variance float64, samples uint64) *duration.DurationProfile {
	return &duration.DurationProfile{Mean: mean, Var: variance, P95: mean * 1.2, Samples: samples}
}

func TestDetector_Check_ColdProfileNeverAlarms(t *testing.T) {
	d, err := NewDetector("zratio", DefaultThresholds(), 30)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	cold := warmProfile(1000, 100, 5) // below nMin=30
	if alarm := d.Check(50000, cold); alarm != AlarmNone {
		t.Errorf("expected AlarmNone for a cold profile regardless of dwell, got %s", alarm)
	}
}

func TestDetector_Check_NilProfileNeverAlarms(t *testing.T) {
	d, err := NewDetector("zratio", DefaultThresholds(), 30)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	if alarm := d.Check(999999, nil); alarm != AlarmNone {
		t.Errorf("expected AlarmNone for a nil profile, got %s", alarm)
	}
}

func TestDetector_Check_WarmProfileGradesAlarms(t *testing.T) {
	d, err := NewDetector("zratio", DefaultThresholds(), 30)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	prof := warmProfile(1000, 100, 50) // sd = 10

	if alarm := d.Check(1005, prof); alarm != AlarmNone {
		t.Errorf("expected AlarmNone near the mean, got %s", alarm)
	}
	if alarm := d.Check(1025, prof); alarm != AlarmWarn {
		t.Errorf("expected AlarmWarn at z~2.5, got %s", alarm)
	}
	if alarm := d.Check(1035, prof); alarm != AlarmCritical {
		t.Errorf("expected AlarmCritical at z~3.5, got %s", alarm)
	}
}

func TestNewDetector_UnknownScorerErrors(t *testing.T) {
	if _, err := NewDetector("does-not-exist", DefaultThresholds(), 30); err == nil {
		t.Error("expected an error constructing a detector with an unregistered scorer")
	}
}

func TestZRatioScorer_Score_ZeroVarianceYieldsZeroZ(t *testing.T) {
	s := ZRatioScorer{}
	prof := &duration.DurationProfile{Mean: 500, Var: 0, P95: 600}
	z, ratio := s.Score(500, prof)
	if z != 0 {
		t.Errorf("expected z=0 when variance is 0, got %f", z)
	}
	if ratio <= 0 {
		t.Errorf("expected a positive ratio, got %f", ratio)
	}
}

func TestRegisterScorer_DuplicateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected RegisterScorer to panic on a duplicate name")
		}
	}()
	RegisterScorer(&ZRatioScorer{})
}
