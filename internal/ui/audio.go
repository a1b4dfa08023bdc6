package ui

import (
	"encoding/binary"
	"time"

	"github.com/oyama-silicon/pockethw/internal/emu"
)

// hostSampleRate is the rate ebiten's audio.Context plays back at (see
// NewApp's audio.NewContext(48000) call).
const hostSampleRate = 48000

// decimationRatio is how many native APU stereo frames (apu.NativeSampleRate)
// collapse into one host frame. The APU runs at ~2.097MHz; simple nearest-
// frame decimation down to 48kHz is good enough here, a full bandlimited
// resampler is out of scope.
const decimationRatio = emu.APUNativeSampleRate / hostSampleRate

// applyPlayerBufferSize sets the audio player's internal buffer to a small size for low latency.
// Ebiten exposes Player.SetBufferSize; we pick:
// - ~20ms in low-latency (or during fast-forward)
// - ~40ms otherwise
func (a *App) applyPlayerBufferSize() {
	if a.audioPlayer == nil {
		return
	}
	bufMs := 40
	if a.cfg.AudioLowLatency || a.fast {
		bufMs = 20
	}
	a.audioPlayer.SetBufferSize(time.Duration(bufMs) * time.Millisecond)
}

// apuStream implements io.Reader by pulling native-rate 8-bit unsigned PCM
// stereo frames from the emulator APU, decimating them down to
// hostSampleRate, and converting them to 16-bit little-endian stereo frames
// for ebiten's audio.Player.
type apuStream struct {
	m          *emu.Machine
	mono       bool
	muted      *bool
	lowLatency bool
	// stats
	underruns  int
	lastWant   int
	lastPulled int
}

// pcm8ToPCM16 converts an 8-bit unsigned sample centered on 128 to a signed
// 16-bit sample centered on 0.
func pcm8ToPCM16(b byte) int16 {
	return int16((int32(b) - 128) * 256)
}

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) == 0 || s == nil || s.m == nil {
		return 0, nil
	}
	// If buffer is smaller than a full stereo frame (4 bytes), fill with silence to avoid returning 0 bytes.
	if len(p) < 4 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	if s.muted != nil && *s.muted {
		for i := range p {
			p[i] = 0
		}
		time.Sleep(5 * time.Millisecond)
		return len(p), nil
	}
	// Each output frame is 4 bytes (stereo int16) and consumes decimationRatio
	// native frames. Limit per-read to a small cap to avoid over-buffering.
	maxReq := len(p) / 4
	capFrames := 2048 // ~42.7ms at 48kHz
	if s.lowLatency {
		capFrames = 1024 // ~21.3ms
	}
	if maxReq > capFrames {
		maxReq = capFrames
	}

	// Prefer to read only what's currently buffered to avoid padding, with a short wait.
	waitDur := 15 * time.Millisecond
	if s.lowLatency {
		waitDur = 8 * time.Millisecond
	}
	deadline := time.Now().Add(waitDur)
	wantNative := maxReq * decimationRatio
	want := maxReq
	if buf := s.m.APUBufferedStereo(); buf > 0 {
		if buf < wantNative {
			want = buf / decimationRatio
		}
	} else {
		// No data buffered yet: wait briefly for some to arrive
		for time.Now().Before(deadline) {
			if b := s.m.APUBufferedStereo(); b > 0 {
				want = b / decimationRatio
				if want > maxReq {
					want = maxReq
				}
				break
			}
			time.Sleep(1 * time.Millisecond)
		}
	}
	if want <= 0 { // still nothing: return a minimal silence chunk (counts as underrun)
		silenceFrames := 256
		if silenceFrames > maxReq {
			silenceFrames = maxReq
		}
		for i := 0; i < silenceFrames*4 && i+3 < len(p); i += 4 {
			binary.LittleEndian.PutUint16(p[i:], 0)
			binary.LittleEndian.PutUint16(p[i+2:], 0)
		}
		s.underruns++
		s.lastWant = silenceFrames
		s.lastPulled = silenceFrames
		return silenceFrames * 4, nil
	}

	// Pull want*decimationRatio native frames and keep every decimationRatio-th
	// one, converting from 8-bit unsigned to 16-bit signed along the way.
	pulled := 0
	i := 0
	needNative := want * decimationRatio
	gotNative := 0
	for gotNative < needNative {
		frames := s.m.APUPullStereo(needNative - gotNative)
		if len(frames) == 0 {
			break
		}
		for j := 0; j+1 < len(frames) && i+3 < len(p); j += 2 {
			if gotNative%decimationRatio == 0 {
				l := pcm8ToPCM16(frames[j])
				r := pcm8ToPCM16(frames[j+1])
				if s.mono {
					mono := int16((int32(l) + int32(r)) / 2)
					binary.LittleEndian.PutUint16(p[i:], uint16(mono))
					binary.LittleEndian.PutUint16(p[i+2:], uint16(mono))
				} else {
					binary.LittleEndian.PutUint16(p[i:], uint16(l))
					binary.LittleEndian.PutUint16(p[i+2:], uint16(r))
				}
				i += 4
				pulled++
			}
			gotNative++
		}
	}
	if pulled == 0 {
		// Fallback: return a tiny silence chunk to avoid stalling and count underrun
		silenceFrames := 128
		if silenceFrames > maxReq {
			silenceFrames = maxReq
		}
		for k := 0; k < silenceFrames*4 && k+3 < len(p); k += 4 {
			binary.LittleEndian.PutUint16(p[k:], 0)
			binary.LittleEndian.PutUint16(p[k+2:], 0)
		}
		s.underruns++
		s.lastWant = silenceFrames
		s.lastPulled = silenceFrames
		return silenceFrames * 4, nil
	}
	s.lastWant = pulled
	s.lastPulled = pulled
	return pulled * 4, nil
}
