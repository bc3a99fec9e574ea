package core

// fakeGPIO is a bare in-memory GPIODriver, grounded on the same fake-board
// idiom other_examples/viamrobotics-rdk__stepper_motor_test.go uses (a
// struct with a pin-state map, no real hardware underneath).
type fakeGPIO struct {
	pins map[GPIOPin]bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{pins: make(map[GPIOPin]bool)}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error         { return nil }
func (g *fakeGPIO) ConfigureInputPullUp(pin GPIOPin) error    { return nil }
func (g *fakeGPIO) ConfigureInputPullDown(pin GPIOPin) error  { return nil }
func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	g.pins[pin] = value
	return nil
}
func (g *fakeGPIO) GetPin(pin GPIOPin) (bool, error) { return g.pins[pin], nil }
func (g *fakeGPIO) ReadPin(pin GPIOPin) bool         { return g.pins[pin] }

// fakeBaseTimer is a software BaseTimerHAL: Now() is whatever the test last
// set it to, and Arm*/Stop just record the last programmed value rather
// than driving a real match register. baseTickISR/pulseLowISR are invoked
// directly by tests rather than by an interrupt.
type fakeBaseTimer struct {
	now            uint32
	baseMatch      uint32
	pulseLowMatch  uint32
	pulseLowArmed  bool
	baseHandler    func()
	pulseLowHandler func()
	stopped        bool
}

func newFakeBaseTimer() *fakeBaseTimer { return &fakeBaseTimer{} }

func (f *fakeBaseTimer) Now() uint32                        { return f.now }
func (f *fakeBaseTimer) ArmBaseMatch(at uint32)              { f.baseMatch = at; f.stopped = false }
func (f *fakeBaseTimer) ArmPulseLowMatch(at uint32)          { f.pulseLowMatch = at; f.pulseLowArmed = true }
func (f *fakeBaseTimer) DisablePulseLowMatch()               { f.pulseLowArmed = false }
func (f *fakeBaseTimer) ParkBaseMatch()                      { f.baseMatch = ^uint32(0) }
func (f *fakeBaseTimer) SetBaseMatchHandler(fn func())       { f.baseHandler = fn }
func (f *fakeBaseTimer) SetPulseLowMatchHandler(fn func())   { f.pulseLowHandler = fn }
func (f *fakeBaseTimer) Stop()                               { f.stopped = true }

// fakeAccelTimer is a software AccelTimerHAL used by the trapezoid
// controller tests; SetHandler is captured so a test can invoke the tick
// callback directly instead of waiting on a real periodic timer.
type fakeAccelTimer struct {
	now     uint32
	period  uint32
	handler func()
}

func newFakeAccelTimer() *fakeAccelTimer { return &fakeAccelTimer{} }

func (f *fakeAccelTimer) Now() uint32          { return f.now }
func (f *fakeAccelTimer) SetCounter(v uint32)  { f.now = v }
func (f *fakeAccelTimer) SetPeriod(t uint32)   { f.period = t }
func (f *fakeAccelTimer) ForcePending()        {}
func (f *fakeAccelTimer) SetHandler(fn func()) { f.handler = fn }

// fakeConveyor is a minimal in-memory Conveyor backed by a slice, used by
// tests that need OnBlockBegin/stepperMotorFinishedMove to chain into a
// second block.
type fakeConveyor struct {
	blocks   []*Block
	flushing bool
}

func (c *fakeConveyor) Head() *Block {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[0]
}

func (c *fakeConveyor) Advance() {
	if len(c.blocks) > 0 {
		c.blocks = c.blocks[1:]
	}
}

func (c *fakeConveyor) Flushing() bool  { return c.flushing }
func (c *fakeConveyor) ClearFlush()     { c.flushing = false }
