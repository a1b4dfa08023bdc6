package interrupt

import "testing"

func TestRequestNowSetsIFImmediately(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.RequestNow(Timer)
	if got := c.IF(); got != 0xE0|(1<<Timer) {
		t.Fatalf("IF = %02X, want %02X", got, 0xE0|(1<<Timer))
	}
	if !c.Any() {
		t.Fatalf("expected pending interrupt")
	}
}

func TestRequestIsDelayedUntilLatch(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.Request(VBlank)
	if c.Any() {
		t.Fatalf("interrupt should not be visible before Latch")
	}
	c.Latch()
	if !c.Any() {
		t.Fatalf("interrupt should be visible after Latch")
	}
}

func TestPendingRespectsIEMask(t *testing.T) {
	c := New()
	c.RequestNow(Serial)
	if c.Any() {
		t.Fatalf("IE=0 should mask all pending interrupts")
	}
	c.SetIE(1 << Serial)
	if !c.Any() {
		t.Fatalf("expected Serial interrupt pending once enabled")
	}
}

func TestHighestPriorityIsVBlankFirst(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.RequestNow(Joypad)
	c.RequestNow(VBlank)
	c.RequestNow(Timer)
	bit, ok := c.Highest()
	if !ok || bit != VBlank {
		t.Fatalf("Highest() = %d,%v want %d,true", bit, ok, VBlank)
	}
}

func TestClearRemovesBitFromBothRegisters(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.RequestNow(STAT)
	c.Clear(STAT)
	if c.Any() {
		t.Fatalf("expected no pending interrupts after Clear")
	}
	// A subsequent Latch should not resurrect the cleared bit.
	c.Latch()
	if c.Any() {
		t.Fatalf("Latch resurrected a cleared interrupt")
	}
}

func TestSetIFWritesBothLiveAndShadow(t *testing.T) {
	c := New()
	c.SetIE(0x1F)
	c.Request(Timer) // only touches shadow
	c.SetIF(0x00)    // CPU write clears IF directly
	c.Latch()
	if c.Any() {
		t.Fatalf("SetIF should have cleared the pending shadow too")
	}
}
