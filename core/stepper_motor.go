package core

// StepperMotor holds the per-axis state the step ticker advances on every
// base tick: direction, remaining steps, and the 32.32 fixed-point phase
// accumulator that decides, without division, whether this tick emits a
// pulse. fx_counter/fx_ticks_per_step is the single most important
// performance invariant of this core: advancing the accumulator is one
// 64-bit add, and the pulse decision is one 64-bit compare against
// fx_ticks_per_step — no floating point and no division in tick().
type StepperMotor struct {
	OID uint8

	StepPin   GPIOPin
	DirPin    GPIOPin
	EnablePin GPIOPin
	HasEnable bool
	InvertStep bool
	InvertDir  bool

	Moving      bool
	Direction   bool
	StepsToMove uint32
	Stepped     uint32

	// fx_counter/fx_ticks_per_step: 32.32 fixed point. One step is emitted
	// each time fx_counter reaches fx_ticks_per_step.
	fxCounter      uint64
	fxTicksPerStep uint64

	RateRatio float32 // this axis's steps per lead-axis step

	IsMoveFinished bool

	stepSignalAt     uint32
	stepSignalArmed  bool
	stepSignalFired  bool
	onStepSignal     func(m *StepperMotor)

	paused bool

	trigger *TriggerSync // optional: stop_on_trigger target

	// totalStepCount counts every pulse Tick has emitted, for diagnostics.
	totalStepCount uint64
}

// fxOneBaseTick is the fixed-point representation of one elapsed base
// tick, added to fx_counter every Tick(). fx_ticks_per_step is the
// (possibly fractional) number of base ticks per step, in the same 32.32
// scale; a step fires once the accumulated elapsed-tick count reaches it,
// and the remainder carries forward into the next tick.
const fxOneBaseTick uint64 = 1 << 32

// NewStepperMotor creates an idle motor bound to the given GPIO pins. The
// motor must still be added to a StepTicker's active set (StepTicker.AddMotor,
// called from TrapezoidController.OnBlockBegin) before it receives ticks.
func NewStepperMotor(oid uint8, stepPin, dirPin GPIOPin) *StepperMotor {
	return &StepperMotor{OID: oid, StepPin: stepPin, DirPin: dirPin}
}

// SetEnablePin arms an enable-pin pair electrically controlled outside this
// core (see core/motion_enable.go); the motor itself never toggles it.
func (m *StepperMotor) SetEnablePin(pin GPIOPin) {
	m.EnablePin = pin
	m.HasEnable = true
}

// Move arms the motor for a new move. Precondition: !Moving || steps == 0.
func (m *StepperMotor) Move(direction bool, steps uint32) {
	m.Direction = direction
	MustGPIO().SetPin(m.DirPin, direction != m.InvertDir)

	m.StepsToMove = steps
	m.Stepped = 0
	m.fxCounter = 0
	m.Moving = steps > 0
	m.IsMoveFinished = false
	m.stepSignalFired = false

	if steps == 0 {
		m.clearActiveState()
	}
}

// clearActiveState is invoked when a zero-step move arms, or when a motor
// is forcibly stopped: it removes any armed signal and leaves the motor in
// a state where tick() is a no-op even if still present in the ticker's
// active bitmap for one more tick.
func (m *StepperMotor) clearActiveState() {
	m.stepSignalArmed = false
	m.Moving = false
}

// SetSpeed recomputes fx_ticks_per_step for the given step rate, saturating
// at minimumStepsPerSecond so the accumulator never divides by (near) zero.
func (m *StepperMotor) SetSpeed(baseFrequency uint32, stepsPerSecond, minimumStepsPerSecond float32) {
	if stepsPerSecond < minimumStepsPerSecond {
		stepsPerSecond = minimumStepsPerSecond
	}
	if stepsPerSecond <= 0 {
		stepsPerSecond = minimumStepsPerSecond
	}
	ticksPerStep := (float64(baseFrequency) / float64(stepsPerSecond)) * 4294967296.0
	m.fxTicksPerStep = uint64(ticksPerStep)
}

// Tick is called from base-tick ISR context. It must be branch-light: add
// the fixed increment, compare the accumulator with fx_ticks_per_step, emit
// a pulse once it is reached, and update stepped/finished flags. reset_step_pins
// and moves_finished are communicated back to the caller (the StepTicker)
// via return values rather than a shared struct field, since Go doesn't
// need the C source's single global flag byte to stay branch-light.
func (m *StepperMotor) Tick() (pulsed, finished bool) {
	if !m.Moving || m.paused {
		return false, false
	}

	m.fxCounter += fxOneBaseTick
	if m.fxCounter < m.fxTicksPerStep {
		return false, false
	}
	m.fxCounter -= m.fxTicksPerStep

	// Threshold reached: emit one pulse, carrying the remainder forward.
	MustGPIO().SetPin(m.StepPin, !m.InvertStep)
	m.Stepped++
	m.totalStepCount++
	pulsed = true

	if m.stepSignalArmed && !m.stepSignalFired && m.Stepped == m.stepSignalAt {
		m.stepSignalFired = true
		if m.onStepSignal != nil {
			m.onStepSignal(m)
		}
	}

	if m.Stepped >= m.StepsToMove {
		m.Moving = false
		m.IsMoveFinished = true
		finished = true
	}

	return pulsed, finished
}

// Unstep is called from the pulse-low timer: it drives the step output low.
func (m *StepperMotor) Unstep() {
	MustGPIO().SetPin(m.StepPin, m.InvertStep)
}

// AttachSignalStep arms a one-shot callback invoked from tick context when
// Stepped reaches n.
func (m *StepperMotor) AttachSignalStep(n uint32, callback func(m *StepperMotor)) {
	m.stepSignalAt = n
	m.onStepSignal = callback
	m.stepSignalArmed = true
	m.stepSignalFired = false
}

// Pause gates pulse emission without losing accumulator state.
func (m *StepperMotor) Pause() { m.paused = true }

// Unpause resumes pulse emission from where it paused.
func (m *StepperMotor) Unpause() { m.paused = false }

// Paused reports the current pause state.
func (m *StepperMotor) Paused() bool { return m.paused }

// StopOnTrigger arms a trsync so that a homing trigger forcibly finishes
// this motor's current move (Smoothieware/Klipper's stepper_stop_on_trigger).
func (m *StepperMotor) StopOnTrigger(t *TriggerSync) {
	m.trigger = t
	TriggerSyncAddSignal(t, func(reason uint8) {
		m.ForceStop()
	})
}

// ForceStop is invoked by the endstop/trigger-sync path when a homing probe
// fires: it ends the move immediately, regardless of remaining steps.
func (m *StepperMotor) ForceStop() {
	if !m.Moving {
		return
	}
	m.Moving = false
	m.IsMoveFinished = true
}

// FxCounterRemainingTicks returns (fx_ticks_per_step - fx_counter) >> 32,
// i.e. the number of whole base ticks this motor can still advance before
// its next pulse. Used by the step ticker's overrun catch-up calculation.
func (m *StepperMotor) FxCounterRemainingTicks() uint64 {
	if m.fxTicksPerStep <= m.fxCounter {
		return 0
	}
	return (m.fxTicksPerStep - m.fxCounter) >> 32
}

// AdvancePhantomTicks adds n whole base ticks' worth of fixed-point phase
// without emitting a pulse — the overrun catch-up mechanism.
func (m *StepperMotor) AdvancePhantomTicks(n uint64) {
	m.fxCounter += n << 32
}

// TotalStepCount returns the cumulative number of pulses this motor has
// ever emitted, across all moves, for diagnostics.
func (m *StepperMotor) TotalStepCount() uint64 {
	return m.totalStepCount
}
