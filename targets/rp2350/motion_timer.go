//go:build rp2350

package main

import "stepcore/core"

// rp2350BaseTimer and rp2350AccelTimer implement core.BaseTimerHAL and
// core.AccelTimerHAL on top of the free-running hardware microsecond
// counter already read by GetHardwareTime() (clock.go). As on RP2040,
// match events are serviced by polling from the main loop
// (PollMotionTimers), called ahead of everything else each iteration so
// the base tick keeps the highest effective priority of the three
// cooperative tiers.
type rp2350BaseTimer struct {
	baseArmed  bool
	baseAt     uint32
	pulseArmed bool
	pulseAt    uint32

	onBaseMatch  func()
	onPulseMatch func()
}

func (t *rp2350BaseTimer) Now() uint32 { return GetHardwareTime() }

func (t *rp2350BaseTimer) ArmBaseMatch(at uint32) {
	t.baseArmed = true
	t.baseAt = at
}

func (t *rp2350BaseTimer) ArmPulseLowMatch(at uint32) {
	t.pulseArmed = true
	t.pulseAt = at
}

func (t *rp2350BaseTimer) DisablePulseLowMatch() { t.pulseArmed = false }

func (t *rp2350BaseTimer) ParkBaseMatch() { t.baseArmed = false }

func (t *rp2350BaseTimer) SetBaseMatchHandler(fn func())     { t.onBaseMatch = fn }
func (t *rp2350BaseTimer) SetPulseLowMatchHandler(fn func()) { t.onPulseMatch = fn }

func (t *rp2350BaseTimer) Stop() {
	t.baseArmed = false
	t.pulseArmed = false
}

func (t *rp2350BaseTimer) poll() {
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

type rp2350AccelTimer struct {
	counter uint32
	period  uint32
	pending bool
	handler func()
	lastHW  uint32
}

func (t *rp2350AccelTimer) Now() uint32         { return t.counter }
func (t *rp2350AccelTimer) SetCounter(v uint32) { t.counter = v }
func (t *rp2350AccelTimer) SetPeriod(ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}
	t.period = ticks
}
func (t *rp2350AccelTimer) ForcePending()        { t.pending = true }
func (t *rp2350AccelTimer) SetHandler(fn func()) { t.handler = fn }

func (t *rp2350AccelTimer) poll(hwNow uint32) {
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
	baseTimerHAL  = &rp2350BaseTimer{}
	accelTimerHAL = &rp2350AccelTimer{}
)

// InitMotionTimers registers the base and acceleration timer HAL backends
// and starts the process-wide motion system.
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
