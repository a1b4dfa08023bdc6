package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
// - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
// - 2000-3FFF: ROM bank low 7 bits (0 maps to 1)
// - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
// - 6000-7FFF: Latch clock on a 0->1 write
// - A000-BFFF: external RAM, or the latched RTC register selected above
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank (1..127)
//
// The RTC is driven off the host wall clock rather than emulated T-cycles:
// advanceRTC folds in elapsed real seconds on every access, which is the
// same approach real MBC3 cartridges' battery-backed clock takes between
// power-ons.

// nowUnix is a package variable so tests can substitute a deterministic
// clock; production code leaves it as time.Now().
var nowUnix = func() int64 { return time.Now().Unix() }

type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte // 7 bits (1..127)
	regSelect  byte // 0..3: RAM bank. 0x08..0x0C: RTC register.

	rtcSec, rtcMin, rtcHour byte
	rtcDay                  int // 0..511, 9 bits
	rtcHalt, rtcCarry       bool

	latchedSec, latchedMin, latchedHour byte
	latchedDay                          int
	latchedHalt, latchedCarry           bool
	latchPrev                           byte

	lastRTCWallSec int64
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.lastRTCWallSec = nowUnix()
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	m.advanceRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.regSelect <= 0x03 {
			if len(m.ram) == 0 {
				return 0xFF
			}
			off := int(m.regSelect)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				return m.ram[off]
			}
			return 0xFF
		}
		switch m.regSelect {
		case 0x08:
			return m.latchedSec
		case 0x09:
			return m.latchedMin
		case 0x0A:
			return m.latchedHour
		case 0x0B:
			return byte(m.latchedDay & 0xFF)
		case 0x0C:
			v := byte((m.latchedDay >> 8) & 0x01)
			if m.latchedHalt {
				v |= 0x40
			}
			if m.latchedCarry {
				v |= 0x80
			}
			return v
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.regSelect = value
	case addr < 0x8000:
		if value == 0x01 && m.latchPrev == 0x00 {
			m.advanceRTC()
			m.latchedSec, m.latchedMin, m.latchedHour = m.rtcSec, m.rtcMin, m.rtcHour
			m.latchedDay = m.rtcDay
			m.latchedHalt, m.latchedCarry = m.rtcHalt, m.rtcCarry
		}
		m.latchPrev = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.regSelect <= 0x03 {
			if len(m.ram) == 0 {
				return
			}
			off := int(m.regSelect)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				m.ram[off] = value
			}
			return
		}
		switch m.regSelect {
		case 0x08:
			m.rtcSec = value
		case 0x09:
			m.rtcMin = value
		case 0x0A:
			m.rtcHour = value
		case 0x0B:
			m.rtcDay = (m.rtcDay &^ 0xFF) | int(value)
		case 0x0C:
			m.rtcDay = (m.rtcDay & 0xFF) | (int(value&0x01) << 8)
			m.rtcHalt = value&0x40 != 0
			m.rtcCarry = value&0x80 != 0
		}
	}
}

// advanceRTC folds elapsed wall-clock seconds into the live RTC registers.
// It is a no-op while halted other than resyncing the wall-clock baseline,
// so resuming doesn't replay the time spent halted.
func (m *MBC3) advanceRTC() {
	now := nowUnix()
	if m.rtcHalt {
		m.lastRTCWallSec = now
		return
	}
	delta := now - m.lastRTCWallSec
	if delta <= 0 {
		return
	}
	m.lastRTCWallSec = now
	total := int64(m.rtcSec) + int64(m.rtcMin)*60 + int64(m.rtcHour)*3600 + int64(m.rtcDay)*86400 + delta
	days := total / 86400
	rem := total % 86400
	m.rtcHour = byte(rem / 3600)
	rem %= 3600
	m.rtcMin = byte(rem / 60)
	m.rtcSec = byte(rem % 60)
	if days > 511 {
		m.rtcCarry = true
		days %= 512
	}
	m.rtcDay = int(days)
}

type mbc3BatteryState struct {
	RAM []byte

	RtcSec, RtcMin, RtcHour byte
	RtcDay                  int
	RtcHalt, RtcCarry       bool

	LatchedSec, LatchedMin, LatchedHour byte
	LatchedDay                          int
	LatchedHalt, LatchedCarry           bool

	LastRTCWallSec int64
}

func (m *MBC3) SaveRAM() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3BatteryState{
		RAM:            m.ram,
		RtcSec:         m.rtcSec,
		RtcMin:         m.rtcMin,
		RtcHour:        m.rtcHour,
		RtcDay:         m.rtcDay,
		RtcHalt:        m.rtcHalt,
		RtcCarry:       m.rtcCarry,
		LatchedSec:     m.latchedSec,
		LatchedMin:     m.latchedMin,
		LatchedHour:    m.latchedHour,
		LatchedDay:     m.latchedDay,
		LatchedHalt:    m.latchedHalt,
		LatchedCarry:   m.latchedCarry,
		LastRTCWallSec: m.lastRTCWallSec,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	var st mbc3BatteryState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return
	}
	if len(st.RAM) > 0 {
		copy(m.ram, st.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour = st.RtcSec, st.RtcMin, st.RtcHour
	m.rtcDay = st.RtcDay
	m.rtcHalt, m.rtcCarry = st.RtcHalt, st.RtcCarry
	m.latchedSec, m.latchedMin, m.latchedHour = st.LatchedSec, st.LatchedMin, st.LatchedHour
	m.latchedDay = st.LatchedDay
	m.latchedHalt, m.latchedCarry = st.LatchedHalt, st.LatchedCarry
	m.lastRTCWallSec = st.LastRTCWallSec
}

type mbc3State struct {
	RAM        []byte
	RamEnabled bool
	RomBank    byte
	RegSelect  byte
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank, RegSelect: m.regSelect,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var st mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return
	}
	if len(st.RAM) > 0 {
		copy(m.ram, st.RAM)
	}
	m.ramEnabled = st.RamEnabled
	m.romBank = st.RomBank
	m.regSelect = st.RegSelect
}
