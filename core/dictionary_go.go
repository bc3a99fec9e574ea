//go:build !tinygo

package core

// ledBlink is a no-op on the host build; there is no LED to blink.
func ledBlink(count int) {}
