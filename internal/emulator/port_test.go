package emulator

import (
	"context"
	"testing"
)

func TestStubPort_Tick_MutatesScreenHash(t *testing.T) {
	p := NewStubPort()
	before := p.Screen().Hash()
	if err := p.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	after := p.Screen().Hash()
	if before == after {
		t.Error("expected the screen hash to change after a tick")
	}
}

func TestStubPort_Tick_RespectsCancelledContext(t *testing.T) {
	p := NewStubPort()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Tick(ctx); err == nil {
		t.Error("expected Tick to return an error for an already-cancelled context")
	}
}

func TestStubPort_ReadWindow_DerivesPositionFromTick(t *testing.T) {
	p := NewStubPort()
	for i := 0; i < 21; i++ {
		if err := p.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	win, err := p.ReadWindow()
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if win.PlayerX != 21%20 {
		t.Errorf("expected PlayerX=%d, got %d", 21%20, win.PlayerX)
	}
}

func TestStubPort_Press_RejectsNonPositiveHoldDuration(t *testing.T) {
	p := NewStubPort()
	if err := p.Press(ButtonA, 0); err == nil {
		t.Error("expected Press to reject a non-positive hold duration")
	}
}

func TestStubPort_Press_AcceptsValidHoldDuration(t *testing.T) {
	p := NewStubPort()
	if err := p.Press(ButtonA, 50); err != nil {
		t.Errorf("Press: %v", err)
	}
}

func TestStubPort_SaveLoadState_RoundTrips(t *testing.T) {
	p := NewStubPort()
	for i := 0; i < 5; i++ {
		_ = p.Tick(context.Background())
	}
	blob, err := p.SaveState()
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	p2 := NewStubPort()
	if err := p2.LoadState(blob); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if p2.Screen().Hash() != p.Screen().Hash() {
		t.Error("expected the restored screen to match the saved screen")
	}
}

func TestStubPort_LoadState_RejectsTruncatedBlob(t *testing.T) {
	p := NewStubPort()
	if err := p.LoadState([]byte{1, 2, 3}); err == nil {
		t.Error("expected LoadState to reject a blob shorter than the tick header")
	}
}

func TestStubPort_LoadState_RejectsMismatchedPixelLength(t *testing.T) {
	p := NewStubPort()
	blob := make([]byte, 8+4) // far shorter than the expected pixel buffer
	if err := p.LoadState(blob); err == nil {
		t.Error("expected LoadState to reject a blob with a mismatched pixel buffer length")
	}
}

func TestScreenBuffer_Hash_IsDeterministic(t *testing.T) {
	a := ScreenBuffer{Pixels: []byte{1, 2, 3, 4}}
	b := ScreenBuffer{Pixels: []byte{1, 2, 3, 4}}
	if a.Hash() != b.Hash() {
		t.Error("expected identical pixel buffers to hash identically")
	}
}
