package core

// MotionSystem is the process-wide motion core: one StepTicker, one
// TrapezoidController, and the fixed NMotors array they both share. There
// is exactly one instance, reached through globalMotionSystem, per the
// design note that this core models a single physical machine rather than
// a library meant to be instantiated per-caller.
type MotionSystem struct {
	motors   [NMotors]*StepperMotor
	ticker   *StepTicker
	trap     *TrapezoidController
	conveyor Conveyor
}

var globalMotionSystem = &MotionSystem{}

// InitMotionSystem wires the ticker, the trapezoid controller, and the
// conveyor together with plain function references, per the design note
// collapsing event/observer coupling into explicit callbacks rather than a
// pub/sub bus. Target-specific startup code calls this once, after
// registering the BaseTimerHAL/AccelTimerHAL/GPIODriver backends.
func InitMotionSystem(hal BaseTimerHAL, baseFrequency, period, resetDelay uint32, conveyor Conveyor) *MotionSystem {
	ms := globalMotionSystem
	ms.conveyor = conveyor

	ms.ticker = NewStepTicker(hal, period, resetDelay)
	ms.ticker.BaseFrequency = baseFrequency

	ms.trap = NewTrapezoidController(ms.ticker, &ms.motors, conveyor)
	ms.trap.OnRateChange = sendTrapezoidRate
	ms.trap.OnMoveFinishedNotify = sendStepperMoveFinished

	RegisterConstant("STEP_BASE_FREQUENCY", baseFrequency)
	RegisterConstant("ACCEL_TICKS_PER_SECOND", ms.trap.AccelerationTicksPerSecond)

	at := MustAccelTimer()
	at.SetHandler(ms.trap.TrapezoidGeneratorTick)
	at.SetPeriod(baseFrequency / ms.trap.AccelerationTicksPerSecond)

	return ms
}

// AddMotor registers a motor in the fixed slot array. Called once per
// configured axis at startup, before the first block arrives.
func (ms *MotionSystem) AddMotor(slot uint8, m *StepperMotor) {
	ms.motors[slot] = m
}

// Motor returns the motor bound to a slot, or nil.
func (ms *MotionSystem) Motor(slot uint8) *StepperMotor {
	if slot >= NMotors {
		return nil
	}
	return ms.motors[slot]
}

// Ticker exposes the step ticker, for target startup code and tests.
func (ms *MotionSystem) Ticker() *StepTicker { return ms.ticker }

// Trapezoid exposes the trapezoid controller, for target startup code and
// tests.
func (ms *MotionSystem) Trapezoid() *TrapezoidController { return ms.trap }

// Conveyor exposes the wired conveyor.
func (ms *MotionSystem) Conveyor() Conveyor { return ms.conveyor }

// Start begins consuming blocks from the conveyor: if nothing is currently
// executing and the conveyor has a head block, begin it. Call this once
// after InitMotionSystem, and again any time a block is queued while the
// core was idle.
func (ms *MotionSystem) Start() {
	if ms.trap.CurrentBlock() != nil {
		return
	}
	if ms.conveyor == nil {
		return
	}
	if b := ms.conveyor.Head(); b != nil {
		ms.trap.OnBlockBegin(b)
	}
}

// GlobalMotionSystem returns the process-wide motion system instance.
func GlobalMotionSystem() *MotionSystem { return globalMotionSystem }
