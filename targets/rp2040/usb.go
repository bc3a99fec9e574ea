//go:build rp2040

package main

import (
	"machine"
)

// InitUSB initializes USB serial communication.
// TinyGo automatically sets up USB CDC-ACM on RP2040.
func InitUSB() {
	// Note: on RP2040, machine.Serial is actually USB CDC, not UART. The
	// USB descriptors are set by TinyGo's runtime.
	err := machine.Serial.Configure(machine.UARTConfig{})
	if err != nil {
		return
	}
}

// USBAvailable returns the number of bytes available to read from USB.
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads a single byte from USB.
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// USBWrite writes a byte to USB.
func USBWrite(b byte) error {
	return machine.Serial.WriteByte(b)
}

// USBWriteBytes writes multiple bytes to USB.
func USBWriteBytes(data []byte) (int, error) {
	return machine.Serial.Write(data)
}

// USBConnected returns true if USB is connected to host.
func USBConnected() bool {
	return true
}
