package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestMotionSystem() (*fakeBaseTimer, *fakeAccelTimer, *[NMotors]*StepperMotor, *StepTicker) {
	SetGPIODriver(newFakeGPIO())
	base := newFakeBaseTimer()
	accel := newFakeAccelTimer()
	SetAccelTimerHAL(accel)

	ticker := NewStepTicker(base, 10, 2)
	ticker.BaseFrequency = 1000

	var motors [NMotors]*StepperMotor
	m0 := NewStepperMotor(0, GPIOPin(1), GPIOPin(2))
	motors[0] = m0

	return base, accel, &motors, ticker
}

func TestTrapezoidControllerOnBlockBeginArmsLeadMotor(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	b := &Block{
		Millimeters:     10,
		StepsEventCount: 100,
		InitialRate:     50,
		NominalRate:     200,
		FinalRate:       50,
		RateDelta:       10,
		AccelerateUntil: 20,
		DecelerateAfter: 80,
	}
	b.Steps[0] = 100

	tc.OnBlockBegin(b)

	assert.Equal(t, b, tc.CurrentBlock())
	assert.Equal(t, motors[0], tc.MainStepper())
	assert.Equal(t, float32(50), tc.AdjustedRate())
	assert.True(t, motors[0].Moving)
	assert.Equal(t, uint32(1), ticker.ActiveMotorBitmap())
}

func TestTrapezoidControllerOnBlockBeginIgnoresZeroDistanceBlock(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	tc.OnBlockBegin(&Block{Millimeters: 0, StepsEventCount: 100})
	assert.Nil(t, tc.CurrentBlock())

	tc.OnBlockBegin(&Block{Millimeters: 10, StepsEventCount: 0})
	assert.Nil(t, tc.CurrentBlock())
}

func TestTrapezoidControllerAccelerationPhaseIncreasesRate(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	b := &Block{
		Millimeters:     10,
		StepsEventCount: 100,
		InitialRate:     50,
		NominalRate:     200,
		FinalRate:       50,
		RateDelta:       10,
		AccelerateUntil: 50,
		DecelerateAfter: 90,
	}
	b.Steps[0] = 100
	tc.OnBlockBegin(b)

	rateAfterBegin := tc.AdjustedRate()
	assert.Equal(t, float32(50), rateAfterBegin)

	tc.trapezoidGeneratorTick()
	assert.Equal(t, rateAfterBegin+b.RateDelta, tc.AdjustedRate())
}

func TestTrapezoidControllerAccelerationClampsAtNominalRate(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	b := &Block{
		Millimeters:     10,
		StepsEventCount: 100,
		InitialRate:     190,
		NominalRate:     200,
		FinalRate:       50,
		RateDelta:       50,
		AccelerateUntil: 50,
		DecelerateAfter: 90,
	}
	b.Steps[0] = 100
	tc.OnBlockBegin(b)
	tc.trapezoidGeneratorTick() // 190 + 50 would overshoot, clamps to 200
	tc.trapezoidGeneratorTick() // stays clamped on a second tick

	assert.Equal(t, b.NominalRate, tc.AdjustedRate())
}

func TestTrapezoidControllerDecelerationPhaseDecreasesRate(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	b := &Block{
		Millimeters:     10,
		StepsEventCount: 100,
		InitialRate:     200,
		NominalRate:     200,
		FinalRate:       50,
		RateDelta:       10,
		AccelerateUntil: 5,
		DecelerateAfter: 80,
	}
	b.Steps[0] = 100
	tc.OnBlockBegin(b)

	// Fast-forward the lead axis past the deceleration boundary without
	// running the full block, the way a real move would by the time it
	// gets there.
	motors[0].Stepped = 90

	rate := tc.AdjustedRate()
	tc.trapezoidGeneratorTick()
	assert.True(t, tc.AdjustedRate() < rate)
}

func TestTrapezoidControllerFlushingDecelEndsBlockAtFloor(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	conv := &fakeConveyor{}
	tc := NewTrapezoidController(ticker, motors, conv)

	b := &Block{
		Millimeters:     10,
		StepsEventCount: 100,
		InitialRate:     120,
		NominalRate:     200,
		FinalRate:       50,
		RateDelta:       100, // floor = 50; 120 sits strictly between floor and 1.5*delta (150),
		AccelerateUntil: 0,   // so the first flush tick must snap to the floor rather than
		DecelerateAfter: 0,   // landing on it by subtraction alone.
	}
	b.Steps[0] = 100
	conv.blocks = []*Block{b}
	b.pool = NewBlockPool(1)
	b.index = 0
	b.refcount = 1

	tc.OnBlockBegin(b) // internal tick only consumes forceSpeedUpdate; rate stays at InitialRate

	conv.flushing = true
	tc.trapezoidGeneratorTick()

	assert.NotNil(t, tc.CurrentBlock(), "the tick that first reaches the floor must not finish the block yet")
	assert.Equal(t, b.RateDelta*0.5, tc.AdjustedRate())
	assert.True(t, conv.flushing)

	tc.trapezoidGeneratorTick()

	assert.Nil(t, tc.CurrentBlock(), "a tick that finds the rate already at the floor finishes the block")
	assert.False(t, conv.flushing, "ClearFlush must run once the stop completes")
}

func TestTrapezoidControllerStepperMotorFinishedMoveAdvancesConveyor(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	conv := &fakeConveyor{}
	tc := NewTrapezoidController(ticker, motors, conv)

	b1 := &Block{Millimeters: 1, StepsEventCount: 1, InitialRate: 50, NominalRate: 50, FinalRate: 50, RateDelta: 10}
	b1.Steps[0] = 1
	b2 := &Block{Millimeters: 1, StepsEventCount: 1, InitialRate: 50, NominalRate: 50, FinalRate: 50, RateDelta: 10}
	b2.Steps[0] = 1
	conv.blocks = []*Block{b1, b2}

	tc.OnBlockBegin(b1)
	assert.Equal(t, b1, tc.CurrentBlock())

	motors[0].SetSpeed(1, 1, 1) // one base tick per step, deterministic finish
	motors[0].Move(true, 1)
	motors[0].Tick() // emits the one step and finishes the motor's move

	tc.stepperMotorFinishedMove(motors[0])

	assert.Equal(t, b2, tc.CurrentBlock(), "the next queued block must begin once the first finishes")
}

func TestTrapezoidControllerOnPauseStopsAllMotorsWithoutLosingState(t *testing.T) {
	_, _, motors, ticker := newTestMotionSystem()
	tc := NewTrapezoidController(ticker, motors, nil)

	motors[0].SetSpeed(1000, 500, 1)
	motors[0].Move(true, 10)

	tc.OnPause()
	assert.True(t, motors[0].Paused())

	tc.OnPlay()
	assert.False(t, motors[0].Paused())
}
