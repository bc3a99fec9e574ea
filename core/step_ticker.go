package core

// StepTicker owns the base-frequency timer and the pulse-low timer,
// dispatches ticks to the active motors, and performs overrun catch-up
// when the ISR runs long. It is the hard-real-time component of this
// core: base-tick handling must complete within one Period.
type StepTicker struct {
	motors [NMotors]*StepperMotor

	Period        uint32 // timer ticks per base tick
	ResetDelay    uint32 // timer ticks from pulse-high to pulse-low
	BaseFrequency uint32 // ticks/second of the underlying timer

	activeMotorBM  uint32 // bitset<NMotors>
	resetStepPins  bool
	movesFinished  bool
	lastDuration   uint32
	overrunCount   uint32

	// OnMovesFinished is invoked once per base tick, after all per-motor
	// tick() calls, for every motor whose move finished this tick. It is
	// the one explicit callback wiring this core uses instead of an
	// event bus (see core/motion_system.go).
	OnMovesFinished func(m *StepperMotor)

	hal BaseTimerHAL
}

// NewStepTicker creates a ticker bound to a BaseTimerHAL backend. period is
// in the HAL's native timer ticks; resetDelay likewise.
func NewStepTicker(hal BaseTimerHAL, period, resetDelay uint32) *StepTicker {
	t := &StepTicker{hal: hal, Period: period, ResetDelay: resetDelay}
	hal.SetBaseMatchHandler(t.baseTickISR)
	hal.SetPulseLowMatchHandler(t.pulseLowISR)
	return t
}

// SetFrequency programs the base match register to timer_clock/hz,
// forcing an immediate re-arm if the timer has already passed it.
func (t *StepTicker) SetFrequency(hz uint32) {
	if hz == 0 {
		return
	}
	t.Period = t.BaseFrequency / hz
	if t.Period == 0 {
		t.Period = 1
	}
	t.hal.ArmBaseMatch(t.hal.Now() + t.Period)
}

// SetResetDelay programs the pulse-low match relative to tick start.
func (t *StepTicker) SetResetDelay(seconds float32) {
	t.ResetDelay = uint32(seconds * float32(t.BaseFrequency))
	if t.ResetDelay == 0 {
		t.ResetDelay = 1
	}
}

// AddMotor registers a motor slot and, if this is the first active motor,
// (re)starts the base timer from a clean period.
func (t *StepTicker) AddMotor(slot uint8, m *StepperMotor) {
	t.motors[slot] = m
	wasEmpty := t.activeMotorBM == 0
	t.addMotorToActiveList(slot)
	if wasEmpty {
		t.hal.ArmBaseMatch(t.hal.Now() + t.Period)
	}
}

// RemoveMotor clears a motor's active bit; disables the base timer once
// the last motor is removed.
func (t *StepTicker) RemoveMotor(slot uint8) {
	t.removeMotorFromActiveList(slot)
	if t.activeMotorBM == 0 {
		t.hal.Stop()
	}
}

func (t *StepTicker) addMotorToActiveList(slot uint8) {
	t.activeMotorBM |= 1 << slot
}

func (t *StepTicker) removeMotorFromActiveList(slot uint8) {
	t.activeMotorBM &^= 1 << slot
}

// baseTickISR implements the MR0-match algorithm of spec section 4.2.
// Step 1 of that algorithm — servicing a pending pulse-low before the next
// pulse-high of the same pin — is not done here: pulseLowISR is armed as
// its own independent match (SetPulseLowMatchHandler), and on every
// backend it is only ever invoked when that match's own deadline has
// actually passed (targets/rp2040/motion_timer.go's poll() checks
// pulseArmed and the MR1 deadline before calling it, ahead of the base
// match check, mirroring original_source's TIMER0_IRQHandler checking
// IR&(1<<1) before IR&(1<<0)). Calling it again here unconditionally would
// service it even when it was not due, truncating any still-pending high
// pulse early whenever reset_delay approaches Period.
func (t *StepTicker) baseTickISR() {
	// Step 2: tick every active motor; collect pulse/finish flags.
	t.resetStepPins = false
	t.movesFinished = false
	for slot := uint8(0); slot < NMotors; slot++ {
		if t.activeMotorBM&(1<<slot) == 0 {
			continue
		}
		m := t.motors[slot]
		if m == nil {
			continue
		}
		pulsed, finished := m.Tick()
		if pulsed {
			t.resetStepPins = true
		}
		if finished {
			t.movesFinished = true
		}
	}

	// Step 3: arm the pulse-low match if anything pulsed; otherwise
	// there is no further work this tick.
	if t.resetStepPins {
		t.hal.ArmPulseLowMatch(t.hal.Now() + t.ResetDelay)
		t.resetStepPins = false
	}
	if !t.movesFinished {
		t.hal.ArmBaseMatch(t.hal.Now() + t.Period)
		return
	}

	// Step 4: finish handling, with overrun catch-up.
	t.hal.ParkBaseMatch()
	t.signalMovesFinished()

	now := t.hal.Now()
	if now > t.Period {
		t.catchUp(now)
	} else {
		t.hal.ArmBaseMatch(t.Period)
	}
}

// signalMovesFinished walks the active bitmap defensively: the
// move-finished callback may remove the motor from the active set, so the
// iteration index is decremented on removal to avoid skipping the motor
// that slides into the vacated slot. Grounded on
// original_source/src/libs/StepTicker.cpp's signal_moves_finished, an
// idiom the teacher itself reuses for "find owning struct from timer
// pointer" scans in trsync.go.
func (t *StepTicker) signalMovesFinished() {
	bm := t.activeMotorBM
	for slot := uint8(0); slot < NMotors; slot++ {
		if bm&(1<<slot) == 0 {
			continue
		}
		m := t.motors[slot]
		if m == nil || !m.IsMoveFinished {
			continue
		}
		before := t.activeMotorBM
		if t.OnMovesFinished != nil {
			t.OnMovesFinished(m)
		}
		if t.activeMotorBM != before {
			// The callback removed (at least) this motor; re-read the
			// still-pending bitmap and, if this slot is now clear,
			// step back one so the motor now occupying this logical
			// position (if bitmap semantics shifted it) isn't skipped.
			bm = t.activeMotorBM
			if bm&(1<<slot) == 0 && slot > 0 {
				slot--
			}
		}
	}
}

// catchUp implements the overrun compensation of spec section 4.2c: cap
// the number of skippable ticks to what every active motor can absorb
// without emitting a phantom pulse, phantom-advance every motor by that
// many ticks, and reprogram the base match far enough ahead to land on a
// real tick boundary.
func (t *StepTicker) catchUp(now uint32) {
	t.overrunCount++
	start := now
	RecordTiming(EvtOverrunCatchup, 0, now, t.overrunCount, t.Period)

	ticksToSkip := uint64(now+t.lastDuration) / uint64(t.Period)

	var cap_ uint64 = ^uint64(0)
	any := false
	for slot := uint8(0); slot < NMotors; slot++ {
		if t.activeMotorBM&(1<<slot) == 0 {
			continue
		}
		m := t.motors[slot]
		if m == nil {
			continue
		}
		any = true
		r := m.FxCounterRemainingTicks()
		if r < cap_ {
			cap_ = r
		}
	}
	if !any {
		cap_ = 0
	}

	ticksWeActuallyCanSkip := ticksToSkip
	if cap_ < ticksWeActuallyCanSkip {
		ticksWeActuallyCanSkip = cap_
	}

	for slot := uint8(0); slot < NMotors; slot++ {
		if t.activeMotorBM&(1<<slot) == 0 {
			continue
		}
		if m := t.motors[slot]; m != nil {
			m.AdvancePhantomTicks(ticksWeActuallyCanSkip)
		}
	}

	next := (ticksToSkip + 1) * uint64(t.Period)
	t.hal.ArmBaseMatch(uint32(next))

	for uint64(t.hal.Now()) > next {
		next += uint64(t.Period)
		t.hal.ArmBaseMatch(uint32(next))
	}

	if end := t.hal.Now(); end > start {
		t.lastDuration = end - start
	} else {
		t.lastDuration = 0
	}
}

// pulseLowISR is the MR1-match handler: it clears the pulse-low interrupt
// enable and drives every active motor's step output low.
func (t *StepTicker) pulseLowISR() {
	t.hal.DisablePulseLowMatch()
	t.resetTick()
}

func (t *StepTicker) resetTick() {
	for slot := uint8(0); slot < NMotors; slot++ {
		if t.activeMotorBM&(1<<slot) == 0 {
			continue
		}
		if m := t.motors[slot]; m != nil {
			m.Unstep()
		}
	}
}

// LastDuration exposes the most recently measured overrun-handling wall
// time, for observability (section 7: "reported via last_duration").
func (t *StepTicker) LastDuration() uint32 { return t.lastDuration }

// OverrunCount exposes the cumulative number of overrun events handled.
func (t *StepTicker) OverrunCount() uint32 { return t.overrunCount }

// ActiveMotorBitmap exposes the bitmap for diagnostics/tests.
func (t *StepTicker) ActiveMotorBitmap() uint32 { return t.activeMotorBM }

// GetTotalStepCount sums every registered motor's lifetime pulse count,
// for the debug ring's post-mortem dump.
func GetTotalStepCount() uint64 {
	var total uint64
	for _, m := range globalMotionSystem.motors {
		if m != nil {
			total += m.TotalStepCount()
		}
	}
	return total
}
