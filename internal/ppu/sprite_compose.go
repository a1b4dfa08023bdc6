package ppu

import "sort"

// Sprite is a decoded OAM entry already matched to a scanline by the caller.
// X and Y are screen-space (X already offset by -8, Y by -16).
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// ComposeSpriteLine returns the 2-bit color index for each of the 160
// sprite-layer pixels on scanline ly, honoring BG-over-OBJ priority and
// transparency (color index 0). cgb selects CGB's OAM-index priority order;
// DMG uses X-coordinate priority with OAM index as the tiebreaker.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) [160]byte {
	ci, _, _ := composeSpriteLineDetailed(mem, sprites, ly, bgci, cgb)
	return ci
}

func composeSpriteLineDetailed(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, cgb bool) (ci [160]byte, useOBP1 [160]bool, opaque [160]bool) {
	ordered := make([]Sprite, len(sprites))
	copy(ordered, sprites)
	// Lowest priority drawn first so the highest-priority sprite's pixels
	// are written last and win the overwrite.
	sort.SliceStable(ordered, func(i, j int) bool {
		if cgb {
			return ordered[i].OAMIndex > ordered[j].OAMIndex
		}
		if ordered[i].X != ordered[j].X {
			return ordered[i].X > ordered[j].X
		}
		return ordered[i].OAMIndex > ordered[j].OAMIndex
	})

	for _, s := range ordered {
		yFlip := s.Attr&0x40 != 0
		xFlip := s.Attr&0x20 != 0
		behindBG := s.Attr&0x80 != 0
		palSel := s.Attr&0x10 != 0

		row := int(ly) - s.Y
		if row < 0 {
			continue
		}
		if yFlip {
			// Tall (8x16) sprites are pre-split into two 8px tiles by the
			// caller's OAM scan, which swaps the halves for Y-flipped
			// sprites, so an 8-row flip is always correct here.
			row = 7 - row
		}
		addr := 0x8000 + uint16(s.Tile)*16 + uint16(row)*2
		lo := mem.Read(addr)
		hi := mem.Read(addr + 1)
		for col := 0; col < 8; col++ {
			px := s.X + col
			if px < 0 || px >= 160 {
				continue
			}
			bitCol := col
			if xFlip {
				bitCol = 7 - col
			}
			b := 7 - byte(bitCol)
			cidx := ((hi>>b)&1)<<1 | ((lo >> b) & 1)
			if cidx == 0 {
				continue
			}
			if behindBG && bgci[px] != 0 {
				continue
			}
			ci[px] = cidx
			useOBP1[px] = palSel
			opaque[px] = true
		}
	}
	return
}
