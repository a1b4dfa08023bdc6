package apu

import "testing"

func TestTick_AppendsTwoStereoFramesPerMCycle(t *testing.T) {
	a := New()
	if got := a.StereoAvailable(); got != 0 {
		t.Fatalf("fresh APU has %d frames buffered, want 0", got)
	}
	a.Tick(4) // one M-cycle
	if got := a.StereoAvailable(); got != 2 {
		t.Fatalf("after one M-cycle got %d frames, want 2", got)
	}
	a.Tick(4 * 10)
	if got := a.StereoAvailable(); got != 2+20 {
		t.Fatalf("after 11 M-cycles got %d frames, want 22", got)
	}
}

func TestPullStereo_ReturnsInterleaved8BitPCM(t *testing.T) {
	a := New()
	a.Tick(4)
	frames := a.PullStereo(100)
	if len(frames) != 4 { // 2 frames * 2 bytes
		t.Fatalf("got %d bytes, want 4", len(frames))
	}
	if a.StereoAvailable() != 0 {
		t.Fatalf("expected buffer drained after pull")
	}
}

func TestSilentAPU_OutputsCenteredSilence(t *testing.T) {
	a := New()
	a.Tick(4)
	frames := a.PullStereo(10)
	for i, b := range frames {
		if b != 128 {
			t.Fatalf("byte %d = %d, want 128 (silence) with all channels off", i, b)
		}
	}
}

func TestNR12_DACOffDisablesChannelOnTrigger(t *testing.T) {
	a := New()
	a.CPUWrite(0xFF12, 0x00) // vol=0, envelope decreasing => DAC off
	a.CPUWrite(0xFF14, 0x80) // trigger
	if a.ch1.enabled {
		t.Fatalf("channel 1 should stay disabled when its DAC is off")
	}
}

func TestNR52_PowerOffClearsRegistersButKeepsWaveRAM(t *testing.T) {
	a := New()
	a.CPUWrite(0xFF30, 0xAB)
	a.CPUWrite(0xFF11, 0xFF) // duty/length
	a.CPUWrite(0xFF26, 0x00) // power off
	if a.CPURead(0xFF11) == 0xFF {
		t.Fatalf("NR11 should reset on power-off")
	}
	if got := a.CPURead(0xFF30); got != 0xAB {
		t.Fatalf("wave RAM should survive power-off, got %02X", got)
	}
	a.CPUWrite(0xFF26, 0x80) // power back on
	if !a.enabled {
		t.Fatalf("expected APU re-enabled after NR52 power-on write")
	}
}

func TestStereoRouting_NR51SplitsChannelsLeftRight(t *testing.T) {
	a := New()
	a.CPUWrite(0xFF24, 0x77)  // max volume both sides
	a.CPUWrite(0xFF25, 0x10)  // ch1 -> left only
	a.CPUWrite(0xFF12, 0xF0)  // max volume, DAC on
	a.CPUWrite(0xFF11, 0x80)  // 50% duty
	a.CPUWrite(0xFF14, 0x80)  // trigger
	a.Tick(4)
	frames := a.PullStereo(2)
	l, r := frames[0], frames[1]
	if l == 128 && r == 128 {
		t.Fatalf("expected some channel output, got pure silence")
	}
	if r != 128 {
		t.Fatalf("right channel should be silent with ch1 routed left-only, got %d", r)
	}
}
