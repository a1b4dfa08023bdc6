package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	req InterruptRequester

	frame [160 * 144 * 4]byte // RGBA8888 output, row-major

	windowLineCounter byte
	lineCaptures      [154]LineCapture

	frameCount     int // total VBlank entries seen, monotonic
	blankCountdown int // VBlanks left before the display is considered settled
}

// LineCapture freezes the registers that affect rendering for one scanline,
// taken at the moment mode 3 (pixel transfer) begins for that line.
type LineCapture struct {
	SCX, SCY, WY, WX, LCDC byte
	WinLine                byte
	WindowVisible          bool
}

func New(req InterruptRequester) *PPU { return &PPU{req: req} }

// Frame returns the current RGBA8888 framebuffer (160x144, row-major, 4
// bytes per pixel). The backing array is reused across frames; callers that
// need to retain a frame must copy it.
func (p *PPU) Frame() []byte { return p.frame[:] }

// LineRegs returns the registers captured for scanline ly at the start of
// its pixel-transfer phase.
func (p *PPU) LineRegs(ly int) LineCapture {
	if ly < 0 || ly >= len(p.lineCaptures) {
		return LineCapture{}
	}
	return p.lineCaptures[ly]
}

type ppuState struct {
	VRAM, OAM                              []byte
	LCDC, STAT, SCY, SCX, LY, LYC          byte
	BGP, OBP0, OBP1, WY, WX                byte
	Dot                                     int
	WindowLineCounter                      byte
}

// SaveState serializes registers and memory; it does not persist the
// rendered framebuffer or per-line capture history, which are rebuilt as
// frames render again.
func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(ppuState{
		VRAM: p.vram[:], OAM: p.oam[:],
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, WindowLineCounter: p.windowLineCounter,
	})
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	if len(data) == 0 {
		return
	}
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(s.VRAM) == len(p.vram) {
		copy(p.vram[:], s.VRAM)
	}
	if len(s.OAM) == len(p.oam) {
		copy(p.oam[:], s.OAM)
	}
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot = s.Dot
	p.windowLineCounter = s.WindowLineCounter
}

type internalVRAM struct{ p *PPU }

func (v internalVRAM) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[addr-0x8000]
}

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
	if (p.stat & 0x03) == 3 { return 0xFF }
	return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
	// OAM is inaccessible during modes 2 and 3
	m := p.stat & 0x03
	if m == 2 || m == 3 { return 0xFF }
	return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
	// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
	return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
	if (p.stat & 0x03) == 3 { return }
	p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
	m := p.stat & 0x03
	if m == 2 || m == 3 { return }
	p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM). The image takes a
			// few VBlanks to settle, so hold off announcing new frames until
			// blankCountdown reaches zero.
			p.ly = 0
			p.dot = 0
			p.setMode(2)
			p.updateLYC()
			p.blankCountdown = 4
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < 80+172:
				mode = 3
			default:
				mode = 0
			}
		}
		p.setMode(mode)

		if p.dot >= 456 {
			p.dot = 0
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				p.frameCount++
				if p.blankCountdown > 0 {
					p.blankCountdown--
				}
				if p.req != nil {
					p.req(0)
				} // VBlank IF
				if (p.stat & (1 << 4)) != 0 {
					if p.req != nil {
						p.req(1)
					}
				} // STAT VBlank
			} else if p.ly > 153 {
				p.ly = 0
				p.windowLineCounter = 0
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	switch mode {
	case 0: // HBlank
		if (p.stat & (1 << 3)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 2: // OAM
		if (p.stat & (1 << 5)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	case 3:
		p.captureAndRenderLine()
	}
}

// captureAndRenderLine freezes the registers relevant to scanline rendering
// at the start of pixel transfer and composites the BG/window/sprite layers
// into the framebuffer. Real hardware streams pixels out during mode 3;
// this emulator renders the whole line at once, a scanline-granularity
// simplification the resulting image is indistinguishable from as long as
// SCX/SCY/WX/WY/LCDC don't change mid-line.
func (p *PPU) captureAndRenderLine() {
	if p.ly >= 144 {
		return
	}
	windowVisible := (p.lcdc&0x20) != 0 && (p.lcdc&0x01) != 0 &&
		int(p.ly) >= int(p.wy) && int(p.wx)-7 < 160
	winLine := byte(0)
	if windowVisible {
		winLine = p.windowLineCounter
		p.windowLineCounter++
	}
	p.lineCaptures[p.ly] = LineCapture{
		SCX: p.scx, SCY: p.scy, WY: p.wy, WX: p.wx, LCDC: p.lcdc,
		WinLine: winLine, WindowVisible: windowVisible,
	}
	p.renderScanline(int(p.ly), winLine, windowVisible)
}

func (p *PPU) renderScanline(ly int, winLine byte, windowVisible bool) {
	mem := internalVRAM{p}
	var bgci [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := p.lcdc&0x10 != 0
		bgci = RenderBGScanlineUsingFetcher(mem, mapBase, tileData8000, p.scx, p.scy, byte(ly))
	}
	if windowVisible {
		mapBase := uint16(0x9800)
		if p.lcdc&0x40 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := p.lcdc&0x10 != 0
		winXStart := int(p.wx) - 7
		wci := RenderWindowScanlineUsingFetcher(mem, mapBase, tileData8000, winXStart, winLine)
		for x := winXStart; x < 160; x++ {
			if x < 0 {
				continue
			}
			bgci[x] = wci[x]
		}
	}
	var spriteCI [160]byte
	var useOBP1 [160]bool
	var opaque [160]bool
	if p.lcdc&0x02 != 0 {
		sprites := p.scanSpritesForLine(ly)
		spriteCI, useOBP1, opaque = composeSpriteLineDetailed(mem, sprites, byte(ly), bgci, false)
	}
	row := ly * 160 * 4
	for x := 0; x < 160; x++ {
		shade := applyDMGPalette(p.bgp, bgci[x])
		if opaque[x] {
			pal := p.obp0
			if useOBP1[x] {
				pal = p.obp1
			}
			shade = applyDMGPalette(pal, spriteCI[x])
		}
		idx := row + x*4
		p.frame[idx] = shade
		p.frame[idx+1] = shade
		p.frame[idx+2] = shade
		p.frame[idx+3] = 0xFF
	}
}

var dmgShades = [4]byte{0xFF, 0xAA, 0x55, 0x00}

func applyDMGPalette(pal byte, ci byte) byte {
	shade := (pal >> (ci * 2)) & 0x03
	return dmgShades[shade]
}

// scanSpritesForLine returns up to 10 OAM entries visible on scanline ly,
// 8x16 sprites pre-split into their top/bottom 8px tiles so the compositor
// always works with an 8-row band.
func (p *PPU) scanSpritesForLine(ly int) []Sprite {
	tall := p.lcdc&0x04 != 0
	height := 8
	if tall {
		height = 16
	}
	var out []Sprite
	for i := 0; i < 40 && len(out) < 10; i++ {
		base := i * 4
		y := int(p.oam[base]) - 16
		x := int(p.oam[base+1]) - 8
		tile := p.oam[base+2]
		attr := p.oam[base+3]
		if ly < y || ly >= y+height {
			continue
		}
		if !tall {
			out = append(out, Sprite{X: x, Y: y, Tile: tile, Attr: attr, OAMIndex: i})
			continue
		}
		subTile := tile &^ 0x01
		subY := y
		bottom := ly >= y+8
		if bottom {
			subY = y + 8
		}
		if attr&0x40 != 0 { // Y-flip swaps which tile shows in each half
			bottom = !bottom
		}
		if bottom {
			subTile |= 0x01
		}
		out = append(out, Sprite{X: x, Y: subY, Tile: subTile, Attr: attr, OAMIndex: i})
	}
	return out
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
		if (p.stat & (1 << 6)) != 0 {
			if p.req != nil {
				p.req(1)
			}
		}
	} else {
		p.stat &^= 1 << 2
	}
}

// Expose palettes and scroll for renderer convenience (optional helpers)
// FrameCount returns the number of VBlank entries seen since power-on,
// monotonic across resets. A scheduler can diff this to detect a new frame.
func (p *PPU) FrameCount() int { return p.frameCount }

// Stable reports whether the display has settled since the LCD was last
// turned on (4 VBlanks have elapsed). Frames produced while unstable should
// not be presented.
func (p *PPU) Stable() bool { return p.blankCountdown == 0 }

func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
