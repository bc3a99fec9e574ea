package planner

import (
	"testing"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/kinematics"

	"github.com/stretchr/testify/assert"
)

// fakeBaseTimer/fakeAccelTimer/fakeGPIODriver are software stand-ins for the
// hardware HALs core.InitMotionSystem needs to exist before QueueMove can
// run (it calls core.GlobalMotionSystem().Start()). None of them drive a
// real timer or pin; they just have to satisfy the interfaces without
// panicking.
type fakeBaseTimer struct{ now uint32 }

func (f *fakeBaseTimer) Now() uint32                      { return f.now }
func (f *fakeBaseTimer) ArmBaseMatch(at uint32)           {}
func (f *fakeBaseTimer) ArmPulseLowMatch(at uint32)       {}
func (f *fakeBaseTimer) DisablePulseLowMatch()            {}
func (f *fakeBaseTimer) ParkBaseMatch()                   {}
func (f *fakeBaseTimer) SetBaseMatchHandler(fn func())    {}
func (f *fakeBaseTimer) SetPulseLowMatchHandler(fn func()) {}
func (f *fakeBaseTimer) Stop()                            {}

type fakeAccelTimer struct{}

func (f *fakeAccelTimer) Now() uint32          { return 0 }
func (f *fakeAccelTimer) SetCounter(v uint32)  {}
func (f *fakeAccelTimer) SetPeriod(t uint32)   {}
func (f *fakeAccelTimer) ForcePending()        {}
func (f *fakeAccelTimer) SetHandler(fn func()) {}

type fakeGPIODriver struct {
	pins map[core.GPIOPin]bool
}

func newFakeGPIODriver() *fakeGPIODriver {
	return &fakeGPIODriver{pins: make(map[core.GPIOPin]bool)}
}

func (g *fakeGPIODriver) ConfigureOutput(pin core.GPIOPin) error        { return nil }
func (g *fakeGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error   { return nil }
func (g *fakeGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error { return nil }
func (g *fakeGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	g.pins[pin] = value
	return nil
}
func (g *fakeGPIODriver) GetPin(pin core.GPIOPin) (bool, error) { return g.pins[pin], nil }
func (g *fakeGPIODriver) ReadPin(pin core.GPIOPin) bool         { return g.pins[pin] }

func testConfig() *standalone.MachineConfig {
	return &standalone.MachineConfig{
		Axes: map[string]standalone.AxisConfig{
			"x": {StepPin: "gpio0", DirPin: "gpio1", StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 1000, MinPosition: -10, MaxPosition: 500},
			"y": {StepPin: "gpio2", DirPin: "gpio3", StepsPerMM: 80, MaxVelocity: 300, MaxAccel: 1000, MinPosition: -10, MaxPosition: 500},
			"z": {StepPin: "gpio4", DirPin: "gpio5", StepsPerMM: 400, MaxVelocity: 20, MaxAccel: 100, MinPosition: -10, MaxPosition: 500},
		},
	}
}

// newTestPlanner builds a planner with its own motion system wired to
// software HALs, mirroring the sequencing a real target's main() does
// between core.InitMotionSystem and Planner.InitSteppers.
func newTestPlanner(t *testing.T) *Planner {
	cfg := testConfig()
	kin, err := kinematics.NewCartesian(cfg)
	assert.NoError(t, err)

	p := NewPlanner(cfg, kin)

	core.SetGPIODriver(newFakeGPIODriver())
	core.SetAccelTimerHAL(&fakeAccelTimer{})
	core.InitMotionSystem(&fakeBaseTimer{}, 1_000_000, 1_000, 2, p.Conveyor())

	assert.NoError(t, p.InitSteppers(core.MustGPIO()))
	return p
}

func TestPlannerQueueMoveFillsBlockFromLeadAxis(t *testing.T) {
	p := newTestPlanner(t)

	move := &standalone.Move{
		Start:    standalone.Position{},
		End:      standalone.Position{X: 10},
		Velocity: 50,
		Accel:    500,
		Distance: 10,
	}

	assert.NoError(t, p.QueueMove(move))

	b := p.Conveyor().Head()
	assert.NotNil(t, b)
	assert.Equal(t, uint32(800), b.Steps[0]) // 10mm * 80 steps/mm
	assert.Equal(t, uint32(0), b.Steps[1])
	assert.Equal(t, uint32(800), b.StepsEventCount)
	assert.True(t, b.DirectionBits&1 != 0, "positive delta must set the direction bit")
	assert.Equal(t, float32(10), b.Millimeters)
}

func TestPlannerQueueMoveRejectsOutOfLimitsPosition(t *testing.T) {
	p := newTestPlanner(t)

	move := &standalone.Move{
		Start:    standalone.Position{},
		End:      standalone.Position{X: 10000},
		Velocity: 50,
		Accel:    500,
		Distance: 10000,
	}

	err := p.QueueMove(move)
	assert.Error(t, err)
	assert.Nil(t, p.Conveyor().Head())
}

func TestPlannerQueueMoveWithNoStepsIsANoop(t *testing.T) {
	p := newTestPlanner(t)

	move := &standalone.Move{
		Start:    standalone.Position{},
		End:      standalone.Position{},
		Velocity: 50,
		Accel:    500,
		Distance: 0,
	}

	assert.NoError(t, p.QueueMove(move))
	assert.Nil(t, p.Conveyor().Head())
}

func TestPlannerIsIdleReflectsQueueAndCurrentBlock(t *testing.T) {
	p := newTestPlanner(t)
	assert.True(t, p.IsIdle())

	move := &standalone.Move{
		Start:    standalone.Position{},
		End:      standalone.Position{X: 10},
		Velocity: 50,
		Accel:    500,
		Distance: 10,
	}
	assert.NoError(t, p.QueueMove(move))

	assert.False(t, p.IsIdle(), "queueing starts the move into the trapezoid controller immediately")
}

func TestPlannerSetPositionDoesNotQueueMotion(t *testing.T) {
	p := newTestPlanner(t)

	p.SetPosition(standalone.Position{X: 42})
	assert.Equal(t, 42.0, p.GetCurrentPosition().X)
	assert.Nil(t, p.Conveyor().Head())
}

func TestPlannerEnableDisableSteppersTogglesEnablePins(t *testing.T) {
	cfg := testConfig()
	xa := cfg.Axes["x"]
	xa.EnablePin = "gpio6"
	cfg.Axes["x"] = xa

	kin, err := kinematics.NewCartesian(cfg)
	assert.NoError(t, err)
	p := NewPlanner(cfg, kin)

	gpio := newFakeGPIODriver()
	core.SetGPIODriver(gpio)
	core.SetAccelTimerHAL(&fakeAccelTimer{})
	core.InitMotionSystem(&fakeBaseTimer{}, 1_000_000, 1_000, 2, p.Conveyor())
	assert.NoError(t, p.InitSteppers(gpio))

	assert.NoError(t, p.EnableSteppers())
	assert.True(t, gpio.pins[core.GPIOPin(6)])

	assert.NoError(t, p.DisableSteppers(false))
	assert.False(t, gpio.pins[core.GPIOPin(6)])
}

// TestPlannerEnableStepperIsSequencedBehindQueuedMotion covers the "M17/
// M18/M84 are appended to the tail block" requirement: issuing M17 while a
// move is still queued must not flip the enable pin until that move (and
// everything queued with it) has actually finished.
func TestPlannerEnableStepperIsSequencedBehindQueuedMotion(t *testing.T) {
	cfg := testConfig()
	xa := cfg.Axes["x"]
	xa.EnablePin = "gpio6"
	cfg.Axes["x"] = xa

	kin, err := kinematics.NewCartesian(cfg)
	assert.NoError(t, err)
	p := NewPlanner(cfg, kin)

	gpio := newFakeGPIODriver()
	core.SetGPIODriver(gpio)
	core.SetAccelTimerHAL(&fakeAccelTimer{})
	core.InitMotionSystem(&fakeBaseTimer{}, 1_000_000, 1_000, 2, p.Conveyor())
	assert.NoError(t, p.InitSteppers(gpio))

	move := &standalone.Move{
		Start:    standalone.Position{},
		End:      standalone.Position{X: 10},
		Velocity: 50,
		Accel:    500,
		Distance: 10,
	}
	assert.NoError(t, p.QueueMove(move))
	assert.NotNil(t, p.Conveyor().Head())

	assert.NoError(t, p.EnableSteppers())
	assert.False(t, gpio.pins[core.GPIOPin(6)], "enable must wait for the queued move ahead of it")

	p.Conveyor().Advance()
	assert.True(t, gpio.pins[core.GPIOPin(6)], "enable fires once its tail block is popped")
}
