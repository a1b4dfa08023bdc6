package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 implements ROM banking (up to 256KB, 16 banks) plus the 512x4-bit
// RAM built into the MBC2 chip itself (not separate cartridge RAM). Bank
// select and RAM enable are disambiguated by address bit 8, not by which
// 0x2000 region is written.
type MBC2 struct {
	rom []byte
	ram [512]byte // only the low nibble of each byte is wired

	ramEnabled bool
	romBank    byte // 4 bits, 1..15
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	m.romBank = 1
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x0F)
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
		// RAM is 512 nibbles, mirrored across the whole A000-BFFF window.
		idx := int(addr-0xA000) & 0x1FF
		return m.ram[idx] & 0x0F
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address selects enable vs. bank-select behavior.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		idx := int(addr-0xA000) & 0x1FF
		m.ram[idx] = value & 0x0F
	}
}

func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	copy(out, m.ram[:])
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	RamEnabled bool
	RomBank    byte
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc2State{RAM: m.ram, RamEnabled: m.ramEnabled, RomBank: m.romBank})
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var st mbc2State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return
	}
	m.ram = st.RAM
	m.ramEnabled = st.RamEnabled
	m.romBank = st.RomBank
}
