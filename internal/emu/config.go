package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace    bool // log CPU instructions to stderr
	LimitFPS bool // throttle StepFrame to ~59.73 Hz, real-time pace (cmd/gbemu's headless mode leaves it off)
}
