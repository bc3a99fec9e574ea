package planner

import (
	"errors"
	"strconv"
	"strings"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/kinematics"
)

// axisOrder fixes the slot assignment used for both the motor array and a
// block's Steps/DirectionBits; it mirrors kinematics.Kinematics.GetAxisNames
// for the cartesian/corexy cases this planner targets.
var axisOrder = []string{"x", "y", "z", "e"}

// Planner turns queued standalone.Move values into core.Block values and
// feeds them to the motion core's conveyor, replacing the old per-axis
// linear-interval stepgen path with the block/trapezoid model.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics

	motors    [len(axisOrder)]*core.StepperMotor
	axisSlot  map[string]uint8
	blockPool *core.BlockPool
	conveyor  *conveyor

	currentPos standalone.Position
}

// NewPlanner creates a motion planner bound to the given config and
// kinematics. Call InitSteppers before queuing moves.
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics) *Planner {
	axisSlot := make(map[string]uint8, len(axisOrder))
	for i, name := range axisOrder {
		axisSlot[name] = uint8(i)
	}

	p := &Planner{
		config:     config,
		kinematics: kin,
		axisSlot:   axisSlot,
		blockPool:  core.NewBlockPool(16),
		conveyor:   newConveyor(16),
		currentPos: standalone.Position{},
	}
	return p
}

// Conveyor exposes this planner's block queue so platform startup code can
// pass it to core.InitMotionSystem before calling InitSteppers (the motion
// system must exist before any axis is registered with it).
func (p *Planner) Conveyor() core.Conveyor {
	return p.conveyor
}

// InitSteppers creates a core.StepperMotor for every configured axis,
// configures its GPIO pins, and registers it with the process-wide motion
// system under this planner's fixed slot assignment.
func (p *Planner) InitSteppers(gpioDriver core.GPIODriver) error {
	ms := core.GlobalMotionSystem()

	for _, name := range axisOrder {
		axisConfig, ok := p.config.Axes[name]
		if !ok {
			continue
		}

		stepPin, err := parsePinName(axisConfig.StepPin)
		if err != nil {
			return err
		}
		dirPin, err := parsePinName(axisConfig.DirPin)
		if err != nil {
			return err
		}

		slot := p.axisSlot[name]
		m := core.NewStepperMotor(slot, core.GPIOPin(stepPin), core.GPIOPin(dirPin))
		m.InvertDir = axisConfig.InvertDir

		if err := gpioDriver.ConfigureOutput(m.StepPin); err != nil {
			return err
		}
		if err := gpioDriver.ConfigureOutput(m.DirPin); err != nil {
			return err
		}

		if axisConfig.EnablePin != "" {
			enPin, err := parsePinName(axisConfig.EnablePin)
			if err != nil {
				return err
			}
			m.SetEnablePin(core.GPIOPin(enPin))
			if err := gpioDriver.ConfigureOutput(m.EnablePin); err != nil {
				return err
			}
		}

		p.motors[slot] = m
		ms.AddMotor(slot, m)
	}

	return nil
}

// QueueMove converts a move into a core.Block, sized and timed by the lead
// axis (the axis with the most steps), and enqueues it on the motion
// system's conveyor.
func (p *Planner) QueueMove(move *standalone.Move) error {
	if err := p.kinematics.CheckLimits(move.End); err != nil {
		return err
	}

	b := p.blockPool.Alloc()
	if b == nil {
		return errors.New("planner: block queue full")
	}

	axisNames := p.kinematics.GetAxisNames()
	endPositions, err := p.kinematics.CalcPosition(move.End)
	if err != nil {
		b.Release()
		return err
	}
	startPositions, err := p.kinematics.CalcPosition(move.Start)
	if err != nil {
		b.Release()
		return err
	}

	var leadSlot uint8
	var leadSteps uint32
	var leadStepsPerMM float64

	for i, name := range axisNames {
		if i >= len(endPositions) {
			break
		}
		axisConfig, ok := p.config.Axes[name]
		if !ok {
			continue
		}
		slot, ok := p.axisSlot[name]
		if !ok {
			continue
		}

		deltaMM := endPositions[i] - startPositions[i]
		steps := uint32(abs(deltaMM) * axisConfig.StepsPerMM)
		b.Steps[slot] = steps
		if deltaMM >= 0 {
			b.DirectionBits |= 1 << slot
		}

		if steps > leadSteps {
			leadSteps = steps
			leadSlot = slot
			leadStepsPerMM = axisConfig.StepsPerMM
		}
	}

	if leadSteps == 0 || leadStepsPerMM == 0 {
		b.Release()
		return nil
	}

	b.StepsEventCount = leadSteps
	b.Millimeters = float32(move.Distance)

	p.fillTrapezoid(b, move, leadStepsPerMM, leadSteps)

	if !p.conveyor.Enqueue(b) {
		b.Release()
		return errors.New("planner: block queue full")
	}

	p.currentPos = move.End
	core.GlobalMotionSystem().Start()
	return nil
}

// fillTrapezoid computes the block's rate profile, expressed in steps/s of
// the lead axis, using the same accelerate/cruise/decelerate distance split
// as a classical trapezoidal profile, then converts the accelerate and
// decelerate distances into lead-axis step counts.
func (p *Planner) fillTrapezoid(b *core.Block, move *standalone.Move, leadStepsPerMM float64, leadSteps uint32) {
	maxVel := clampAxisVelocity(p.config, move)

	accelDist := (maxVel * maxVel) / (2.0 * move.Accel)

	var cruiseVel float64
	var accelDistMM, decelDistMM float64
	if accelDist*2.0 >= move.Distance {
		accelDistMM = move.Distance / 2.0
		decelDistMM = accelDistMM
		cruiseVel = sqrt(move.Accel * accelDistMM)
	} else {
		accelDistMM = accelDist
		decelDistMM = accelDist
		cruiseVel = maxVel
	}

	nominalRate := cruiseVel * leadStepsPerMM
	accelRate := move.Accel * leadStepsPerMM

	trap := core.GlobalMotionSystem().Trapezoid()
	accelTicksPerSecond := float64(100)
	minStepsPerSecond := float64(50)
	if trap != nil {
		accelTicksPerSecond = float64(trap.AccelerationTicksPerSecond)
		minStepsPerSecond = float64(trap.MinimumStepsPerSecond)
	}

	b.InitialRate = float32(minStepsPerSecond)
	b.NominalRate = float32(nominalRate)
	b.FinalRate = float32(minStepsPerSecond)
	b.RateDelta = float32(accelRate / accelTicksPerSecond)

	accelFraction := accelDistMM / move.Distance
	decelFraction := decelDistMM / move.Distance
	if move.Distance == 0 {
		accelFraction, decelFraction = 0, 0
	}

	b.AccelerateUntil = uint32(float64(leadSteps) * accelFraction)
	b.DecelerateAfter = leadSteps - uint32(float64(leadSteps)*decelFraction)
}

func clampAxisVelocity(config *standalone.MachineConfig, move *standalone.Move) float64 {
	maxVel := move.Velocity
	dx := abs(move.End.X - move.Start.X)
	dy := abs(move.End.Y - move.Start.Y)
	dz := abs(move.End.Z - move.Start.Z)

	clamp := func(axis string, d float64) {
		if d <= 0 {
			return
		}
		axisConfig, ok := config.Axes[axis]
		if !ok {
			return
		}
		axisVel := maxVel * d / move.Distance
		if axisVel > axisConfig.MaxVelocity {
			maxVel = axisConfig.MaxVelocity * move.Distance / d
		}
	}
	clamp("x", dx)
	clamp("y", dy)
	clamp("z", dz)

	return maxVel
}

// GetCurrentPosition returns the position the planner last queued a move
// to; it does not read back from the motors directly.
func (p *Planner) GetCurrentPosition() standalone.Position {
	return p.currentPos
}

// SetPosition sets the current position without queuing motion (G92).
func (p *Planner) SetPosition(pos standalone.Position) {
	p.currentPos = pos
}

// ClearQueue drains the block queue and requests the trapezoid controller
// decelerate the in-flight block to a stop rather than abruptly halting.
func (p *Planner) ClearQueue() {
	p.conveyor.Clear()
	p.conveyor.RequestFlush()
}

// IsIdle returns true if no moves are queued or executing.
func (p *Planner) IsIdle() bool {
	return p.conveyor.Head() == nil && core.GlobalMotionSystem().Trapezoid().CurrentBlock() == nil
}

// WaitIdle blocks until all moves are complete.
func (p *Planner) WaitIdle() error {
	return errors.New("WaitIdle not supported in embedded mode")
}

// EnableSteppers drives every configured motor's enable pin active, used by
// M17. The pin change is sequenced behind every block already queued or
// executing, so enable/disable lands in order with the motion around it
// rather than jumping ahead of it.
func (p *Planner) EnableSteppers() error {
	return p.sequenceAction(p.enableSteppersNow)
}

func (p *Planner) enableSteppersNow() error {
	for _, m := range p.motors {
		if m == nil || !m.HasEnable {
			continue
		}
		if err := core.MustGPIO().SetPin(m.EnablePin, true); err != nil {
			return err
		}
	}
	return nil
}

// DisableSteppers drives every configured motor's enable pin inactive,
// except the extruder axis when keepExtruder is set (M84 with 'E' present
// per the source this is modelled on, which leaves the extruder engaged).
// Like EnableSteppers, it is appended behind the tail of the move queue
// rather than applied immediately.
func (p *Planner) DisableSteppers(keepExtruder bool) error {
	return p.sequenceAction(func() error { return p.disableSteppersNow(keepExtruder) })
}

func (p *Planner) disableSteppersNow(keepExtruder bool) error {
	for name, slot := range p.axisSlot {
		m := p.motors[slot]
		if m == nil || !m.HasEnable {
			continue
		}
		if keepExtruder && name == "e" {
			continue
		}
		if err := core.MustGPIO().SetPin(m.EnablePin, false); err != nil {
			return err
		}
	}
	return nil
}

// sequenceAction runs fn immediately if the conveyor is empty (nothing
// ahead to wait for), or defers it to fire once the currently queued tail
// block finishes. Errors from a deferred fn have nowhere to propagate to
// by the time it runs, so they are dropped; the GPIO pin writes these
// actions perform do not fail in practice on the targets this runs on.
func (p *Planner) sequenceAction(fn func() error) error {
	if p.conveyor.QueueAction(func() { _ = fn() }) {
		return nil
	}
	return fn()
}

// parsePinName accepts the "gpioN" pin names used by standalone/config's
// axis configuration and returns the bare pin number.
func parsePinName(name string) (uint32, error) {
	n := strings.TrimPrefix(strings.ToLower(name), "gpio")
	v, err := strconv.ParseUint(n, 10, 32)
	if err != nil {
		return 0, errors.New("planner: invalid pin name " + name)
	}
	return uint32(v), nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = z - (z*z-x)/(2*z)
	}
	return z
}
