//go:build rp2040

package main

import "stepcore/core"

// rp2040BaseTimer and rp2040AccelTimer implement core.BaseTimerHAL and
// core.AccelTimerHAL on top of the free-running hardware microsecond
// counter already read by GetHardwareTime() (clock.go). Neither peripheral
// register maps to a true NVIC interrupt here: like the rest of this
// target's command processing, match events are serviced by polling from
// the main loop (PollMotionTimers), called ahead of everything else each
// iteration so the base tick keeps the highest effective priority of the
// three cooperative tiers.
type rp2040BaseTimer struct {
	baseArmed  bool
	baseAt     uint32
	pulseArmed bool
	pulseAt    uint32

	onBaseMatch  func()
	onPulseMatch func()
}

func (t *rp2040BaseTimer) Now() uint32 { return GetHardwareTime() }

func (t *rp2040BaseTimer) ArmBaseMatch(at uint32) {
	t.baseArmed = true
	t.baseAt = at
}

func (t *rp2040BaseTimer) ArmPulseLowMatch(at uint32) {
	t.pulseArmed = true
	t.pulseAt = at
}

func (t *rp2040BaseTimer) DisablePulseLowMatch() { t.pulseArmed = false }

func (t *rp2040BaseTimer) ParkBaseMatch() { t.baseArmed = false }

func (t *rp2040BaseTimer) SetBaseMatchHandler(fn func())  { t.onBaseMatch = fn }
func (t *rp2040BaseTimer) SetPulseLowMatchHandler(fn func()) { t.onPulseMatch = fn }

func (t *rp2040BaseTimer) Stop() {
	t.baseArmed = false
	t.pulseArmed = false
}

// poll is called from the main loop; it services the pulse-low match
// first (it is always the nearer deadline within a tick) and then the
// base match.
func (t *rp2040BaseTimer) poll() {
	now := t.Now()
	if t.pulseArmed && int32(now-t.pulseAt) >= 0 {
		t.pulseArmed = false
		if t.onPulseMatch != nil {
			t.onPulseMatch()
		}
	}
	if t.baseArmed && int32(now-t.baseAt) >= 0 {
		if t.onBaseMatch != nil {
			t.onBaseMatch()
		}
	}
}

type rp2040AccelTimer struct {
	counter uint32
	period  uint32
	pending bool
	handler func()
	lastHW  uint32
}

func (t *rp2040AccelTimer) Now() uint32        { return t.counter }
func (t *rp2040AccelTimer) SetCounter(v uint32) { t.counter = v }
func (t *rp2040AccelTimer) SetPeriod(ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}
	t.period = ticks
}
func (t *rp2040AccelTimer) ForcePending() { t.pending = true }
func (t *rp2040AccelTimer) SetHandler(fn func()) { t.handler = fn }

// poll advances the accel timer's software counter by the elapsed hardware
// time since the last poll and fires the handler once per period, or
// immediately if ForcePending was called (synchronize_acceleration).
func (t *rp2040AccelTimer) poll(hwNow uint32) {
	if t.period == 0 {
		return
	}
	elapsed := hwNow - t.lastHW
	t.lastHW = hwNow
	t.counter += elapsed
	if t.pending || t.counter >= t.period {
		t.pending = false
		t.counter = 0
		if t.handler != nil {
			t.handler()
		}
	}
}

var (
	baseTimerHAL  = &rp2040BaseTimer{}
	accelTimerHAL = &rp2040AccelTimer{}
)

// InitMotionTimers registers the base and acceleration timer HAL backends
// and starts the process-wide motion system. baseFrequency is in Hz of the
// hardware microsecond counter (1,000,000 on RP2040); period/resetDelay are
// in the same tick units.
func InitMotionTimers(baseFrequency, period, resetDelay uint32, conveyor core.Conveyor) *core.MotionSystem {
	core.SetBaseTimerHAL(baseTimerHAL)
	core.SetAccelTimerHAL(accelTimerHAL)
	accelTimerHAL.lastHW = GetHardwareTime()
	return core.InitMotionSystem(baseTimerHAL, baseFrequency, period, resetDelay, conveyor)
}

// PollMotionTimers is called once per main loop iteration, ahead of
// foreground command processing, to service the base tick and
// acceleration tick in priority order.
func PollMotionTimers() {
	baseTimerHAL.poll()
	accelTimerHAL.poll(GetHardwareTime())
}
