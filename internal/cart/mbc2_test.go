package cart

import "testing"

func TestMBC2_ROMBanking(t *testing.T) {
	rom := make([]byte, 256*1024)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)

	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default bank1 read got %02X want 01", got)
	}

	// Bit 8 of the address set -> bank select
	m.Write(0x2100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Writing 0 maps to 1
	m.Write(0x2100, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC2_BuiltinRAM(t *testing.T) {
	rom := make([]byte, 256*1024)
	m := NewMBC2(rom)

	// RAM disabled by default
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	// Bit 8 of address clear -> RAM enable
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0xF3)
	// Only the low nibble is wired; high nibble reads back as 0s.
	if got := m.Read(0xA000); got != 0x03 {
		t.Fatalf("nibble RAM read got %02X want 03 (upper nibble reads as 0)", got)
	}
	m.Write(0xA000, 0x03)
	if got := m.Read(0xA000); got != 0x03 {
		t.Fatalf("nibble RAM read got %02X want 03", got)
	}

	// RAM mirrors every 0x200 bytes across A000-BFFF
	if got := m.Read(0xA200); got != 0x03 {
		t.Fatalf("RAM mirror read got %02X want 03", got)
	}
}

func TestMBC1_ROMBankMaskWraps(t *testing.T) {
	// 4-bank (64KB) ROM: selecting bank 5 should wrap via the mask to bank 1.
	rom := make([]byte, 64*1024)
	for bank := 0; bank < 4; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC1(rom, 0)
	m.Write(0x2000, 0x05)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank5 on 4-bank ROM got %02X want 01 (wrapped)", got)
	}
}
