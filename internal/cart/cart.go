package cart

import (
	"errors"
	"fmt"
)

// ErrUnsupportedCartridge is returned when a ROM's header names a cartridge
// type this module has no banking implementation for.
var ErrUnsupportedCartridge = errors.New("cart: unsupported cartridge type")

// Cartridge defines the minimal interface the Bus needs for ROM/RAM banking.
// Implementations can be ROM-only or MBC variants. Addresses are CPU addresses.
type Cartridge interface {
	// Read returns a byte for ROM (0x0000–0x7FFF) and external RAM (0xA000–0xBFFF).
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000–0x7FFF) and external RAM writes (0xA000–0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize internal banking registers and external RAM for save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is an optional interface for cartridges with external RAM to be persisted.
// Implementations should return a copy of RAM bytes (may be empty if no RAM), and accept data to load.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks an implementation based on the ROM header, falling
// back to ROM-only for anything this module can't bank. Use
// NewCartridgeChecked to be told about that fallback.
func NewCartridge(rom []byte) Cartridge {
	c, _ := NewCartridgeChecked(rom)
	return c
}

// NewCartridgeChecked is like NewCartridge but also reports why ROM-only
// banking was substituted: ErrInvalidROM (wrapping the header parse error)
// when the header cannot be parsed, or ErrUnsupportedCartridge when the
// ROM's cartridge type has no dedicated implementation.
func NewCartridgeChecked(rom []byte) (Cartridge, error) {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewROMOnly(rom), fmt.Errorf("%w: %v", ErrInvalidROM, err)
	}
	switch h.CartType {
	case 0x00:
		return NewROMOnly(rom), nil
	case 0x01, 0x02, 0x03: // MBC1 variants (RAM, RAM+BAT are transparent here)
		return NewMBC1(rom, h.RAMSizeBytes), nil
	case 0x05, 0x06: // MBC2 variants (battery is transparent here)
		return NewMBC2(rom), nil
	case 0x0F, 0x10, 0x11, 0x12, 0x13: // MBC3 variants, including the RTC
		return NewMBC3(rom, h.RAMSizeBytes), nil
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E: // MBC5 variants
		return NewMBC5(rom, h.RAMSizeBytes), nil
	default:
		// Fall back to ROM-only so callers that don't check the error can
		// still run what they can of the ROM.
		return NewROMOnly(rom), fmt.Errorf("%w: cart type 0x%02X", ErrUnsupportedCartridge, h.CartType)
	}
}
