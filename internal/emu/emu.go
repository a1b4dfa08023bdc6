// Package emu ties the CPU, Bus (and everything the Bus owns: PPU, APU,
// cartridge, interrupt controller, DMA) into a single Machine, and drives
// them with a scheduler that steps instructions in batches until a frame
// completes, an audio consumer's request is satisfied, or a deadline passes.
package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oyama-silicon/pockethw/internal/apu"
	"github.com/oyama-silicon/pockethw/internal/bus"
	"github.com/oyama-silicon/pockethw/internal/cart"
	"github.com/oyama-silicon/pockethw/internal/cpu"
)

// Buttons is the joypad state sampled once per Update by the UI layer.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= bus.JoypRight
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	return m
}

// Event is the reason RunUntil returned control to its caller.
type Event int

const (
	EventNone Event = iota
	EventNewFrame
	EventAudioBufferFull
	EventTimeout
)

// instrQuantum bounds how many instructions RunUntil executes between
// deadline checks, so a wall-clock overrun is caught promptly without
// paying for a time.Now() call on every single instruction.
const instrQuantum = 2000

// APUNativeSampleRate is the stereo frame rate APUPullStereo's output runs
// at; sinks decimate or resample down to their own playback rate from this.
const APUNativeSampleRate = apu.NativeSampleRate

// Machine owns one Game Boy's worth of CPU, Bus, and the peripherals the
// Bus wires up. It is not safe for concurrent use.
type Machine struct {
	cfg Config

	cpu *cpu.CPU
	bus *bus.Bus

	rom      []byte
	bootROM  []byte
	romPath  string
	header   *cart.Header
	buttons  Buttons
	lastTick time.Time // for LimitFPS pacing

	frameBaseline int // PPU.FrameCount() value NEW_FRAME was last reported at
}

// New creates a Machine with no cartridge loaded. Call LoadCartridge or
// LoadROMFromFile before stepping it.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// LoadCartridge wires a fresh Bus and CPU around rom, optionally running the
// given boot ROM from 0x0000 instead of starting at the DMG post-boot
// state. An empty boot falls back to one previously given to SetBootROM.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, hErr := cart.ParseHeader(rom)
	c, cartErr := cart.NewCartridgeChecked(rom)

	b := bus.NewWithCartridge(c)
	if len(boot) == 0 {
		boot = m.bootROM
	}
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
	}

	cp := cpu.New(b)
	if len(boot) >= 0x100 {
		cp.SetPC(0x0000)
	} else {
		cp.ResetNoBoot()
		initPostBootIO(b)
	}

	m.rom = rom
	m.bus = b
	m.cpu = cp
	m.header = h
	m.frameBaseline = 0

	// cartErr reports an unsupported cartridge type that fell back to
	// ROM-only banking (see cart.NewCartridgeChecked); the ROM still runs,
	// just without its real MBC, so callers that treat any error as fatal
	// shouldn't see it. hErr means the header itself didn't parse, which is
	// the only case worth failing the load over.
	_ = cartErr
	return hErr
}

// initPostBootIO pokes the IO registers the DMG boot ROM would have left
// behind, for carts started without one. Mirrors the values cmd/cpurunner
// uses for its no-bootrom path.
func initPostBootIO(b *bus.Bus) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// LoadROMFromFile reads path and loads it as the active cartridge, recording
// path so SaveBattery/ROMPath/save-state slots can derive sibling file
// names.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(data, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM stashes a DMG boot ROM image for a later LoadCartridge/
// ResetWithBoot call that doesn't supply its own.
func (m *Machine) SetBootROM(data []byte) { m.bootROM = data }

// ROMPath returns the path LoadROMFromFile was last called with, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header's title, or "" if none is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// LoadBattery restores external cartridge RAM from a .sav blob. It reports
// false if the loaded cartridge has no battery-backed RAM to restore.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns the loaded cartridge's external RAM for persisting to
// a .sav file. ok is false if the cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, isBattery := m.bus.Cart().(cart.BatteryBacked)
	if !isBattery {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// SetSerialWriter routes serial-port (link cable) output to w, e.g. to
// capture blargg test-ROM pass/fail banners.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// SetButtons records joypad state that's applied on the next step.
func (m *Machine) SetButtons(b Buttons) { m.buttons = b }

// ResetPostBoot power-cycles the current cartridge straight to the DMG
// post-boot register/IO state, skipping the boot ROM animation.
func (m *Machine) ResetPostBoot() {
	if m.rom == nil {
		return
	}
	// Hide the stashed boot ROM so LoadCartridge doesn't fall back to it.
	saved := m.bootROM
	m.bootROM = nil
	_ = m.LoadCartridge(m.rom, []byte{})
	m.bootROM = saved
}

// ResetWithBoot power-cycles the current cartridge and runs it from a
// loaded boot ROM (see SetBootROM) starting at 0x0000. With no boot ROM
// available it falls back to ResetPostBoot.
func (m *Machine) ResetWithBoot() {
	if m.rom == nil {
		return
	}
	if len(m.bootROM) < 0x100 {
		m.ResetPostBoot()
		return
	}
	_ = m.LoadCartridge(m.rom, m.bootROM)
}

// RunUntil drains instructions until the display produces a new settled
// frame, the APU's stereo ring buffer reaches requestedSamples frames (when
// > 0), or deadline passes (when non-zero). lastEvent tells RunUntil what
// edge the caller just consumed: a NEW_FRAME result means the frame has
// been handled, so the next call's frame-edge baseline moves forward before
// stepping; any other lastEvent leaves the baseline alone. Instructions run
// in batches of instrQuantum between deadline checks.
func (m *Machine) RunUntil(lastEvent Event, requestedSamples int, deadline time.Time) Event {
	if m.cpu == nil || m.bus == nil {
		return EventTimeout
	}
	if lastEvent == EventNewFrame {
		m.frameBaseline = m.bus.PPU().FrameCount()
	}
	for {
		for i := 0; i < instrQuantum; i++ {
			if m.cfg.Trace {
				fmt.Fprintf(os.Stderr, "PC=%04X\n", m.cpu.PC)
			}
			m.cpu.Step()
			if m.bus.PPU().FrameCount() != m.frameBaseline && m.bus.PPU().Stable() {
				m.frameBaseline = m.bus.PPU().FrameCount()
				return EventNewFrame
			}
			if requestedSamples > 0 && m.bus.APU().StereoAvailable() >= requestedSamples {
				return EventAudioBufferFull
			}
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return EventTimeout
		}
	}
}

// stepFrame runs the machine for one frame, applying buttons first.
func (m *Machine) stepFrame() {
	if m.bus == nil {
		return
	}
	m.bus.SetJoypadState(m.buttons.mask())
	if m.cfg.LimitFPS {
		const frameDur = time.Second * 70224 / 4194304
		now := time.Now()
		if !m.lastTick.IsZero() {
			if sleep := frameDur - now.Sub(m.lastTick); sleep > 0 {
				time.Sleep(sleep)
			}
		}
		m.lastTick = time.Now()
	}
	m.RunUntil(EventNewFrame, 0, time.Time{})
}

// StepFrame runs one frame and leaves a freshly rendered image in
// Framebuffer.
func (m *Machine) StepFrame() { m.stepFrame() }

// StepFrameNoRender runs one frame the same way StepFrame does. The PPU
// always renders into its own framebuffer regardless of whether a caller
// looks at it; this exists for callers (fast-forward, frame-skip) that
// want to say up front they don't care about the resulting image.
func (m *Machine) StepFrameNoRender() { m.stepFrame() }

// Framebuffer returns the current RGBA8888 frame (160x144x4, row-major).
// The backing array is reused across frames.
func (m *Machine) Framebuffer() []byte {
	if m.bus == nil {
		return make([]byte, 160*144*4)
	}
	return m.bus.PPU().Frame()
}

// APUPullStereo returns up to max stereo frames of interleaved 8-bit
// unsigned PCM at the APU's native rate (APUNativeSampleRate).
func (m *Machine) APUPullStereo(max int) []byte {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(max)
}

// APUBufferedStereo returns the number of stereo frames currently buffered.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUCapBufferedStereo drops the oldest buffered audio until at most
// maxFrames stereo frames remain.
func (m *Machine) APUCapBufferedStereo(maxFrames int) {
	if m.bus == nil {
		return
	}
	m.bus.APU().CapBuffered(maxFrames)
}

// APUClearAudioLatency discards all buffered audio, used when (un)muting or
// leaving fast-forward so playback doesn't resume from stale samples.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	m.bus.APU().ClearBuffer()
}

// machineState is the gob envelope SaveStateToFile/LoadStateFromFile use to
// bundle the CPU and Bus snapshots (the Bus snapshot in turn bundles
// PPU/cart/APU).
type machineState struct {
	CPU []byte
	Bus []byte
}

// SaveStateToFile writes a snapshot of the CPU and Bus (and everything it
// owns) to path.
func (m *Machine) SaveStateToFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(machineState{
		CPU: m.cpu.SaveState(),
		Bus: m.bus.SaveState(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// LoadStateFromFile restores a snapshot written by SaveStateToFile. The
// currently loaded cartridge's ROM is kept; only CPU/Bus/PPU/APU/cart
// runtime state is replaced.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.cpu == nil || m.bus == nil {
		return fmt.Errorf("emu: no cartridge loaded")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&s); err != nil {
		return err
	}
	m.cpu.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
	return nil
}
