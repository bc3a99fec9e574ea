package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepTickerAddMotorArmsBaseMatchOnFirstMotor(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1000, 1000, 1)
	m.Move(true, 3)

	ticker.AddMotor(0, m)

	assert.Equal(t, uint32(1), ticker.ActiveMotorBitmap())
	assert.Equal(t, hal.now+10, hal.baseMatch)
}

func TestStepTickerBaseTickISRPulsesAndArmsPulseLow(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1000, 1000, 1) // one base tick per step
	m.Move(true, 1)
	ticker.AddMotor(0, m)

	hal.baseHandler()

	assert.True(t, hal.pulseLowArmed)
	assert.Equal(t, hal.now+2, hal.pulseLowMatch)
}

func TestStepTickerPulseLowUnsteps(t *testing.T) {
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1000, 1000, 1)
	m.Move(true, 1)
	ticker.AddMotor(0, m)

	hal.baseHandler()
	assert.True(t, gpio.pins[GPIOPin(1)])

	hal.pulseLowHandler()
	assert.False(t, gpio.pins[GPIOPin(1)])
	assert.False(t, hal.pulseLowArmed)
}

func TestStepTickerMovesFinishedParksBaseMatch(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1000, 1000, 1)
	m.Move(true, 1)
	ticker.AddMotor(0, m)

	var finishedMotor *StepperMotor
	ticker.OnMovesFinished = func(mm *StepperMotor) { finishedMotor = mm }

	hal.baseHandler()

	assert.Equal(t, m, finishedMotor)
	// Re-armed at Period since Now() (0) did not exceed it; ParkBaseMatch's
	// far-future value is only observable mid-handler, not after return.
	assert.Equal(t, ticker.Period, hal.baseMatch)
}

func TestStepTickerRemoveMotorStopsTimerWhenLastMotorLeaves(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	ticker.AddMotor(0, m)
	assert.False(t, hal.stopped)

	ticker.RemoveMotor(0)
	assert.Equal(t, uint32(0), ticker.ActiveMotorBitmap())
	assert.True(t, hal.stopped)
}

func TestStepTickerCatchUpAdvancesPhantomTicksWithinMotorCapacity(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	// 4 base ticks per step, so this motor can absorb at most 4 phantom
	// ticks before it would have to emit a pulse.
	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1000, 250, 1)
	m.Move(true, 100)
	ticker.AddMotor(0, m)

	before := m.FxCounterRemainingTicks()
	assert.Equal(t, uint64(4), before)

	hal.now = 55 // well past one period (10), forces catch-up path
	ticker.catchUp(hal.now)

	assert.Equal(t, uint32(1), ticker.OverrunCount())
	// The motor must never be advanced past the point where it would
	// have had to emit an un-ticked pulse.
	assert.True(t, m.FxCounterRemainingTicks() <= before)
	assert.True(t, hal.baseMatch > hal.now || hal.baseMatch == 0)
}

func TestStepTickerSignalMovesFinishedHandlesCallbackRemoval(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	hal := newFakeBaseTimer()
	ticker := NewStepTicker(hal, 10, 2)
	ticker.BaseFrequency = 1000

	m0 := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m0.SetSpeed(1000, 1000, 1)
	m0.Move(true, 1)
	ticker.AddMotor(0, m0)

	m1 := NewStepperMotor(1, GPIOPin(3), GPIOPin(4))
	m1.SetSpeed(1000, 1, 1) // never finishes within this tick
	m1.Move(true, 1000)
	ticker.AddMotor(1, m1)

	var seen []uint8
	ticker.OnMovesFinished = func(mm *StepperMotor) {
		seen = append(seen, mm.OID)
		ticker.RemoveMotor(0)
	}

	hal.baseHandler()

	assert.Equal(t, []uint8{0}, seen)
	assert.Equal(t, uint32(2), ticker.ActiveMotorBitmap(), "motor 1 must remain active")
}
