package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStepperMotorMoveArmsAccumulator(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1_000_000, 1000, 1)

	m.Move(true, 5)

	assert.True(t, m.Moving)
	assert.Equal(t, uint32(5), m.StepsToMove)
	assert.Equal(t, uint32(0), m.Stepped)
	assert.False(t, m.IsMoveFinished)
}

func TestStepperMotorMoveZeroStepsIsNoop(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.Move(true, 0)

	assert.False(t, m.Moving)
}

func TestStepperMotorTickEmitsPulseAtThreshold(t *testing.T) {
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	// One base tick equals fxOneBaseTick; drive ticksPerStep to exactly
	// two base ticks per step so the first tick never pulses and the
	// second always does.
	m.SetSpeed(2, 1, 1) // baseFrequency/stepsPerSecond == 2 base ticks/step
	m.Move(true, 3)

	pulsed, finished := m.Tick()
	assert.False(t, pulsed)
	assert.False(t, finished)
	assert.Equal(t, uint32(0), m.Stepped)

	pulsed, finished = m.Tick()
	assert.True(t, pulsed)
	assert.False(t, finished)
	assert.Equal(t, uint32(1), m.Stepped)
	assert.True(t, gpio.pins[GPIOPin(1)])
}

func TestStepperMotorTickFinishesOnLastStep(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1, 1, 1) // one base tick per step
	m.Move(true, 2)

	_, finished := m.Tick()
	assert.False(t, finished)
	assert.True(t, m.Moving)

	_, finished = m.Tick()
	assert.True(t, finished)
	assert.False(t, m.Moving)
	assert.True(t, m.IsMoveFinished)
	assert.Equal(t, uint32(2), m.Stepped)
}

func TestStepperMotorTickIdleOrPausedIsNoop(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	pulsed, finished := m.Tick()
	assert.False(t, pulsed)
	assert.False(t, finished)

	m.SetSpeed(1, 1, 1)
	m.Move(true, 5)
	m.Pause()
	pulsed, finished = m.Tick()
	assert.False(t, pulsed)
	assert.False(t, finished)
	assert.True(t, m.Paused())

	m.Unpause()
	pulsed, _ = m.Tick()
	assert.True(t, pulsed)
}

func TestStepperMotorForceStopEndsMoveEarly(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1, 1, 1)
	m.Move(true, 100)

	m.Tick()
	assert.Equal(t, uint32(1), m.Stepped)

	m.ForceStop()
	assert.False(t, m.Moving)
	assert.True(t, m.IsMoveFinished)

	// A finished motor no longer ticks even if re-entered accidentally.
	pulsed, finished := m.Tick()
	assert.False(t, pulsed)
	assert.False(t, finished)
}

func TestStepperMotorForceStopOnIdleMotorIsNoop(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.ForceStop()
	assert.False(t, m.IsMoveFinished)
}

func TestStepperMotorAttachSignalStepFiresOnce(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1, 1, 1)
	m.Move(true, 5)

	var fired int
	m.AttachSignalStep(2, func(*StepperMotor) { fired++ })

	m.Tick()
	assert.Equal(t, 0, fired)
	m.Tick()
	assert.Equal(t, 1, fired)
	m.Tick()
	assert.Equal(t, 1, fired, "signal must fire only once per arm")
}

func TestStepperMotorSetSpeedSaturatesAtMinimum(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1_000_000, 0, 50)
	withMinimum := m.fxTicksPerStep

	m.SetSpeed(1_000_000, -10, 50)
	assert.Equal(t, withMinimum, m.fxTicksPerStep)
}

func TestStepperMotorFxCounterRemainingTicks(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(4, 1, 1) // 4 base ticks per step
	m.Move(true, 10)

	assert.Equal(t, uint64(4), m.FxCounterRemainingTicks())
	m.Tick()
	assert.Equal(t, uint64(3), m.FxCounterRemainingTicks())
}

func TestStepperMotorAdvancePhantomTicksDoesNotPulse(t *testing.T) {
	gpio := newFakeGPIO()
	SetGPIODriver(gpio)

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(4, 1, 1)
	m.Move(true, 10)

	m.AdvancePhantomTicks(3)
	assert.Equal(t, uint64(1), m.FxCounterRemainingTicks())
	assert.Equal(t, uint32(0), m.Stepped)

	pulsed, _ := m.Tick()
	assert.True(t, pulsed, "the 4th accumulated tick must still emit exactly one pulse")
	assert.Equal(t, uint32(1), m.Stepped)
}

func TestStepperMotorTotalStepCountAccumulatesAcrossMoves(t *testing.T) {
	SetGPIODriver(newFakeGPIO())

	m := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	m.SetSpeed(1, 1, 1)

	m.Move(true, 2)
	m.Tick()
	m.Tick()
	assert.Equal(t, uint64(2), m.TotalStepCount())

	m.Move(false, 3)
	m.Tick()
	m.Tick()
	m.Tick()
	assert.Equal(t, uint64(5), m.TotalStepCount())
}
