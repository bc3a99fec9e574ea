package core

// TrapezoidController runs at acceleration_ticks_per_second, reads the
// current block's profile and the lead motor's progress, and updates the
// step ticker's effective rate. Named "Stepper" in the source this is
// modelled on; renamed here to avoid clashing with the per-axis
// StepperMotor.
type TrapezoidController struct {
	ticker   *StepTicker
	motors   *[NMotors]*StepperMotor
	conveyor Conveyor

	currentBlock *Block
	mainStepper  *StepperMotor
	mainSlot     uint8

	trapezoidAdjustedRate float32

	AccelerationTicksPerSecond uint32
	MinimumStepsPerSecond      float32

	paused           bool
	forceSpeedUpdate bool
	enablePinsStatus bool

	// OnRateChange fires each time setStepEventsPerSecond applies a rate,
	// i.e. on every trapezoid tick that reaches it, whether or not the
	// rate differs from the previous one (section 6, "rate-change
	// notification").
	OnRateChange func(rate float32)
	// OnEnableChange fires when setEnablePins records enable_pins_status.
	// Nothing in this repository assigns it; the physical enable pins are
	// driven by core/motion_enable.go and the standalone planner instead.
	OnEnableChange func(enabled bool)
	// OnMoveFinishedNotify fires once per motor as it stops, independent of
	// the internal stepperMotorFinishedMove bookkeeping, so a host listening
	// on the wire protocol can be told which axis just finished.
	OnMoveFinishedNotify func(oid uint8)
}

// NewTrapezoidController wires the controller to the ticker, the fixed
// motor array, and the conveyor supplying blocks. Wiring is a small set
// of plain function references assigned here and in
// core/motion_system.go, per the design note collapsing event/observer
// coupling into explicit callbacks rather than a pub/sub bus.
func NewTrapezoidController(ticker *StepTicker, motors *[NMotors]*StepperMotor, conveyor Conveyor) *TrapezoidController {
	tc := &TrapezoidController{
		ticker:                     ticker,
		motors:                     motors,
		conveyor:                   conveyor,
		AccelerationTicksPerSecond: 100,
		MinimumStepsPerSecond:      50, // minimum_steps_per_minute default 3000 -> 50/s
	}
	ticker.OnMovesFinished = tc.stepperMotorFinishedMove
	return tc
}

// OnBlockBegin arms every non-zero axis's motor and primes the trapezoid
// state for a new block. Zero-millimetre or all-zero-step blocks are
// ignored per section 7's "zero-distance block" error kind.
func (tc *TrapezoidController) OnBlockBegin(b *Block) {
	if b == nil || b.Millimeters == 0 || b.StepsEventCount == 0 {
		return
	}

	if !tc.enablePinsStatus {
		tc.setEnablePins(true)
	}

	tc.currentBlock = b
	tc.trapezoidAdjustedRate = b.InitialRate
	tc.forceSpeedUpdate = true

	tc.mainStepper = nil
	tc.mainSlot = 0
	var maxSteps uint32
	for slot := uint8(0); slot < NMotors; slot++ {
		if b.Steps[slot] == 0 {
			continue
		}
		if tc.mainStepper == nil || b.Steps[slot] > maxSteps {
			maxSteps = b.Steps[slot]
			tc.mainStepper = tc.motors[slot]
			tc.mainSlot = slot
		}
	}

	for slot := uint8(0); slot < NMotors; slot++ {
		steps := b.Steps[slot]
		if steps == 0 {
			continue
		}
		m := tc.motors[slot]
		if m == nil {
			continue
		}
		dir := (b.DirectionBits>>slot)&1 != 0
		m.Move(dir, steps)
		m.RateRatio = float32(steps) / float32(b.StepsEventCount)
		tc.ticker.AddMotor(slot, m)
	}

	RecordTiming(EvtBlockBegin, tc.mainSlot, tc.ticker.hal.Now(), b.StepsEventCount, uint32(b.InitialRate))

	tc.trapezoidGeneratorTick()
	tc.synchronizeAcceleration(0)
}

// OnBlockEnd clears the current block reference (the block itself is
// released via stepperMotorFinishedMove once every axis stops).
func (tc *TrapezoidController) OnBlockEnd() {
	tc.currentBlock = nil
	tc.mainStepper = nil
}

// stepperMotorFinishedMove is StepTicker's OnMovesFinished callback: once
// every axis of the current block has stopped, the block is released back
// to the conveyor and the next one (if any) begins.
func (tc *TrapezoidController) stepperMotorFinishedMove(m *StepperMotor) {
	tc.ticker.RemoveMotor(motorSlot(tc.motors, m))

	if tc.OnMoveFinishedNotify != nil {
		tc.OnMoveFinishedNotify(m.OID)
	}

	if tc.allMotorsStopped() {
		b := tc.currentBlock
		RecordTiming(EvtBlockFinished, motorSlot(tc.motors, m), tc.ticker.hal.Now(), 0, 0)
		tc.OnBlockEnd()
		if tc.conveyor != nil {
			if b != nil {
				b.Release()
			}
			tc.conveyor.Advance()
			if next := tc.conveyor.Head(); next != nil {
				tc.OnBlockBegin(next)
			}
		}
	}
}

func motorSlot(motors *[NMotors]*StepperMotor, target *StepperMotor) uint8 {
	for slot := uint8(0); slot < NMotors; slot++ {
		if motors[slot] == target {
			return slot
		}
	}
	return 0
}

func (tc *TrapezoidController) allMotorsStopped() bool {
	return tc.ticker.ActiveMotorBitmap() == 0
}

// OnPause halts pulse emission on every motor without losing accumulator
// state.
func (tc *TrapezoidController) OnPause() {
	tc.paused = true
	for _, m := range tc.motors {
		if m != nil {
			m.Pause()
		}
	}
}

// OnPlay resumes every motor from where it paused.
func (tc *TrapezoidController) OnPlay() {
	tc.paused = false
	for _, m := range tc.motors {
		if m != nil {
			m.Unpause()
		}
	}
}

// TrapezoidGeneratorTick is the acceleration-timer ISR entry point,
// called at AccelerationTicksPerSecond Hz.
func (tc *TrapezoidController) TrapezoidGeneratorTick() {
	if tc.currentBlock == nil || tc.paused || tc.ticker.ActiveMotorBitmap() == 0 {
		return
	}
	tc.trapezoidGeneratorTick()
}

// trapezoidGeneratorTick implements the state machine of spec section 4.3.
func (tc *TrapezoidController) trapezoidGeneratorTick() {
	b := tc.currentBlock
	if b == nil {
		return
	}
	RecordTiming(EvtTrapezoidTick, tc.mainSlot, MustAccelTimer().Now(), uint32(tc.trapezoidAdjustedRate), 0)

	rate := tc.trapezoidAdjustedRate

	switch {
	case tc.forceSpeedUpdate:
		tc.forceSpeedUpdate = false

	case tc.conveyor != nil && tc.conveyor.Flushing():
		// Mirrors original_source's three-way branch on the rate entering
		// the tick: only a tick that finds the rate already sitting at
		// exactly rate_delta*0.5 (placed there by a prior tick's snap to
		// floor, below) finishes the block. A tick that merely computes the
		// floor this time around must still run one full tick at the floor
		// rate before stopping.
		floor := b.RateDelta * 0.5
		switch {
		case rate > b.RateDelta*1.5:
			rate -= b.RateDelta

		case rate == floor:
			for slot := uint8(0); slot < NMotors; slot++ {
				if m := tc.motors[slot]; m != nil {
					m.Move(m.Direction, 0)
				}
			}
			b.Release()
			tc.conveyor.Advance()
			tc.conveyor.ClearFlush()
			tc.OnBlockEnd()
			return

		default:
			rate = floor
		}

	default:
		p := uint32(0)
		if tc.mainStepper != nil {
			p = tc.mainStepper.Stepped
		}

		switch {
		case p <= b.AccelerateUntil+1:
			rate += b.RateDelta
			if rate > b.NominalRate {
				rate = b.NominalRate
			}
		case p > b.DecelerateAfter:
			rate -= b.RateDelta
			if rate < b.FinalRate {
				rate = b.FinalRate
			}
			if rate < b.RateDelta*0.5 {
				rate = b.RateDelta * 0.5
			}
		case rate != b.NominalRate:
			rate = b.NominalRate
		}
	}

	tc.trapezoidAdjustedRate = rate
	tc.setStepEventsPerSecond(rate)
}

// setStepEventsPerSecond clamps to MinimumStepsPerSecond and pushes the
// per-axis rate down to every moving motor, then fires the rate-change
// notification.
func (tc *TrapezoidController) setStepEventsPerSecond(rate float32) {
	if rate < tc.MinimumStepsPerSecond {
		rate = tc.MinimumStepsPerSecond
	}
	baseFreq := tc.ticker.BaseFrequency
	for _, m := range tc.motors {
		if m == nil || !m.Moving {
			continue
		}
		m.SetSpeed(baseFreq, rate*m.RateRatio, tc.MinimumStepsPerSecond)
	}
	if tc.OnRateChange != nil {
		tc.OnRateChange(rate)
	}
}

// synchronizeAcceleration aligns the acceleration-timer phase with the
// step-timer phase: forces the accel interrupt to pend, copies the step
// timer counter into the accel timer counter, and if deceleration begins
// mid-block, arms a one-shot step-signal at decelerate_after so the sync
// re-runs at the decel boundary.
func (tc *TrapezoidController) synchronizeAcceleration(_ uint32) {
	at := MustAccelTimer()
	at.ForcePending()
	at.SetCounter(tc.ticker.hal.Now())

	if tc.currentBlock != nil && tc.mainStepper != nil &&
		tc.currentBlock.DecelerateAfter > tc.mainStepper.Stepped {
		decelerateAfter := tc.currentBlock.DecelerateAfter
		tc.mainStepper.AttachSignalStep(decelerateAfter, func(*StepperMotor) {
			tc.synchronizeAcceleration(0)
		})
	}
}

func (tc *TrapezoidController) setEnablePins(enabled bool) {
	tc.enablePinsStatus = enabled
	if tc.OnEnableChange != nil {
		tc.OnEnableChange(enabled)
	}
}

// CurrentBlock exposes the block under execution, for diagnostics/tests.
func (tc *TrapezoidController) CurrentBlock() *Block { return tc.currentBlock }

// AdjustedRate exposes the current commanded lead-axis rate.
func (tc *TrapezoidController) AdjustedRate() float32 { return tc.trapezoidAdjustedRate }

// MainStepper exposes the lead axis, for diagnostics/tests.
func (tc *TrapezoidController) MainStepper() *StepperMotor { return tc.mainStepper }
