//go:build rp2040 || rp2350

package main

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Set to true to run in standalone mode
	// Set to false to run in Klipper protocol mode
	Standalone bool
}

// GetMode returns the current mode configuration, a constant fixed in
// this source file
func GetMode() ModeConfig {
	// Default: Klipper mode for backward compatibility
	// To enable standalone mode, change this to true
	return ModeConfig{
		Standalone: false,
	}
}

// To enable standalone mode, change the Standalone value above to true.
// GetMode reads no build tag, config file or GPIO pin state.
