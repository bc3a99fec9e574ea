package core

import (
	"errors"
	"stepcore/protocol"
)

// Motion command handlers for the Klipper-style wire protocol, replacing
// the old linear-interval stepper command set with the block/trapezoid
// model: config_stepper, config_trapezoid, queue_trapezoid_block,
// stepper_get_position, stepper_stop_on_trigger, set_next_step_dir,
// reset_step_clock.

var (
	motorsByOID   = make(map[uint8]*StepperMotor)
	motorSlotByOID = make(map[uint8]uint8)
	nextMotorSlot  uint8

	motionBlockPool *BlockPool
	motionConveyor  *wireConveyor
)

// RegisterMotionCommands registers the motion command set and allocates
// the block pool and wire-protocol conveyor backing queue_trapezoid_block.
// blockPoolCapacity mirrors Smoothieware's small fixed block queue depth.
func RegisterMotionCommands(blockPoolCapacity int) {
	motionBlockPool = NewBlockPool(blockPoolCapacity)
	motionConveyor = newWireConveyor(blockPoolCapacity)

	RegisterCommand("config_stepper",
		"oid=%c step_pin=%c dir_pin=%c invert_step=%c invert_dir=%c",
		cmdConfigStepper)

	RegisterCommand("config_trapezoid",
		"min_steps_per_second=%u accel_ticks_per_second=%u",
		cmdConfigTrapezoid)

	RegisterCommand("queue_trapezoid_block",
		"block=%*s",
		cmdQueueTrapezoidBlock)

	RegisterCommand("set_next_step_dir",
		"oid=%c dir=%c",
		cmdSetNextStepDir)

	RegisterCommand("reset_step_clock",
		"oid=%c clock=%u",
		cmdResetStepClock)

	RegisterCommand("stepper_get_position",
		"oid=%c",
		cmdStepperGetPosition)

	RegisterCommand("stepper_stop_on_trigger",
		"oid=%c trsync_oid=%c",
		cmdStepperStopOnTrigger)

	RegisterCommand("motor_enable", "", cmdMotorEnable)
	RegisterCommand("motor_disable", "", cmdMotorDisable)

	RegisterCommand("clear_queue", "", cmdClearQueue)

	RegisterConstant("N_MOTORS", uint32(NMotors))

	RegisterResponse("stepper_position", "oid=%c pos=%i")
	RegisterResponse("trapezoid_rate", "rate=%u")
	RegisterResponse("stepper_move_finished", "oid=%c clock=%u")
}

// cmdMotorEnable is the wire-protocol M17 equivalent: a host speaking the
// Klipper-style protocol directly (rather than through standalone/gcode)
// has no per-axis Planner to sequence through, so it drives every
// registered motor's enable pin through core.EnableAllMotors. Real
// Klipper hosts sequence enable pins against motion using clock-scheduled
// queue_digital_out on the enable pin's own oid instead of a dedicated
// command; this one is for hosts, like stepcore-host, that want a single
// immediate all-axes toggle without tracking each enable pin separately.
func cmdMotorEnable(data *[]byte) error {
	EnableAllMotors()
	return nil
}

// cmdMotorDisable is the wire-protocol M18/M84 equivalent; see cmdMotorEnable.
func cmdMotorDisable(data *[]byte) error {
	DisableAllMotors()
	return nil
}

// cmdClearQueue is the wire-protocol equivalent of standalone/planner's
// ClearQueue: drops every queued-but-not-started block and requests a
// flush, so the trapezoid controller decelerates the in-flight block to a
// stop (section 8-S5) instead of continuing its planned profile. Unlike
// emergency_stop, motion does not halt mid-tick.
func cmdClearQueue(data *[]byte) error {
	motionConveyor.Clear()
	motionConveyor.RequestFlush()
	return nil
}

// sendTrapezoidRate is TrapezoidController's OnRateChange callback: exposes
// every commanded-rate change upward as a response message (section 6,
// "fires a rate-change notification to any listeners"), encoded the same
// fixed-point millisteps/s VLQ uint queue_trapezoid_block's rates use.
func sendTrapezoidRate(rate float32) {
	SendResponse("trapezoid_rate", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(rate*1000))
	})
}

// sendStepperMoveFinished is TrapezoidController's OnMoveFinishedNotify
// callback: tells the host which axis just stopped, independent of the
// block-advance bookkeeping stepperMotorFinishedMove also does.
func sendStepperMoveFinished(oid uint8) {
	ticker := GlobalMotionSystem().Ticker()
	var clock uint32
	if ticker != nil {
		clock = ticker.hal.Now()
	}
	SendResponse("stepper_move_finished", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, clock)
	})
}

func cmdConfigStepper(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	stepPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dirPin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	invertStep, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	invertDir, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	m := NewStepperMotor(uint8(oid), GPIOPin(stepPin), GPIOPin(dirPin))
	m.InvertStep = invertStep != 0
	m.InvertDir = invertDir != 0

	if err := MustGPIO().ConfigureOutput(m.StepPin); err != nil {
		return err
	}
	if err := MustGPIO().ConfigureOutput(m.DirPin); err != nil {
		return err
	}

	slot := nextMotorSlot
	if int(slot) >= NMotors {
		return errors.New("motion: motor slots exhausted")
	}
	nextMotorSlot++

	motorsByOID[uint8(oid)] = m
	motorSlotByOID[uint8(oid)] = slot
	GlobalMotionSystem().AddMotor(slot, m)

	return nil
}

func cmdConfigTrapezoid(data *[]byte) error {
	minStepsPerSecond, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	accelTicksPerSecond, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	trap := GlobalMotionSystem().Trapezoid()
	if trap == nil {
		return errors.New("motion: trapezoid controller not initialised")
	}
	trap.MinimumStepsPerSecond = float32(minStepsPerSecond)
	trap.AccelerationTicksPerSecond = accelTicksPerSecond

	return nil
}

// cmdQueueTrapezoidBlock decodes a flattened block descriptor and pushes
// it onto the wire conveyor. Layout (all VLQ): millimeters_x1000,
// direction_bits, steps_event_count, initial_rate_x1000, nominal_rate_x1000,
// final_rate_x1000, rate_delta_x1000, accelerate_until, decelerate_after,
// followed by NMotors step counts. Rates are fixed-point millisteps/s to
// avoid a float VLQ encoding.
func cmdQueueTrapezoidBlock(data *[]byte) error {
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	b := motionBlockPool.Alloc()
	if b == nil {
		return errors.New("motion: block pool exhausted")
	}

	p := payload
	millimetersX1000, err := protocol.DecodeVLQUint(&p)
	if err != nil {
		b.Release()
		return err
	}
	b.Millimeters = float32(millimetersX1000) / 1000.0

	b.DirectionBits, err = protocol.DecodeVLQUint(&p)
	if err != nil {
		b.Release()
		return err
	}
	b.StepsEventCount, err = protocol.DecodeVLQUint(&p)
	if err != nil {
		b.Release()
		return err
	}

	for _, dst := range []*float32{&b.InitialRate, &b.NominalRate, &b.FinalRate, &b.RateDelta} {
		v, err := protocol.DecodeVLQUint(&p)
		if err != nil {
			b.Release()
			return err
		}
		*dst = float32(v) / 1000.0
	}

	b.AccelerateUntil, err = protocol.DecodeVLQUint(&p)
	if err != nil {
		b.Release()
		return err
	}
	b.DecelerateAfter, err = protocol.DecodeVLQUint(&p)
	if err != nil {
		b.Release()
		return err
	}

	for slot := 0; slot < NMotors; slot++ {
		steps, err := protocol.DecodeVLQUint(&p)
		if err != nil {
			b.Release()
			return err
		}
		b.Steps[slot] = steps
	}

	if !motionConveyor.Enqueue(b) {
		b.Release()
		return errors.New("motion: block queue full")
	}

	GlobalMotionSystem().Start()
	return nil
}

func cmdSetNextStepDir(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	dir, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	m, ok := motorsByOID[uint8(oid)]
	if !ok {
		return errors.New("motion: motor not found")
	}

	// Sets the pin for an out-of-queue single step (jogging, probing);
	// blocks queued via queue_trapezoid_block carry their own direction
	// bits and do not go through this path.
	m.Direction = dir != 0
	MustGPIO().SetPin(m.DirPin, m.Direction != m.InvertDir)
	return nil
}

func cmdResetStepClock(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	if _, ok := motorsByOID[uint8(oid)]; !ok {
		return errors.New("motion: motor not found")
	}

	ticker := GlobalMotionSystem().Ticker()
	if ticker != nil {
		ticker.hal.ArmBaseMatch(clock)
	}
	return nil
}

func cmdStepperGetPosition(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	m, ok := motorsByOID[uint8(oid)]
	if !ok {
		return errors.New("motion: motor not found")
	}

	position := int32(m.Stepped)
	if !m.Direction {
		position = -position
	}

	SendResponse("stepper_position", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQInt(output, position)
	})
	return nil
}

func cmdStepperStopOnTrigger(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	trsyncOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	m, ok := motorsByOID[uint8(oid)]
	if !ok {
		return errors.New("motion: motor not found")
	}
	ts, exists := GetTriggerSync(uint8(trsyncOID))
	if !exists {
		return errors.New("motion: trsync not found")
	}

	m.StopOnTrigger(ts)
	return nil
}

// wireConveyor is a small fixed-capacity FIFO of blocks supplied by
// queue_trapezoid_block, satisfying core.Conveyor for hosts that drive the
// motion core directly over the wire protocol rather than through
// standalone/planner's Conveyor implementation.
type wireConveyor struct {
	queue   []*Block
	flush   bool
}

func newWireConveyor(capacity int) *wireConveyor {
	return &wireConveyor{queue: make([]*Block, 0, capacity)}
}

func (c *wireConveyor) Enqueue(b *Block) bool {
	if len(c.queue) == cap(c.queue) {
		return false
	}
	c.queue = append(c.queue, b)
	return true
}

func (c *wireConveyor) Head() *Block {
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

func (c *wireConveyor) Advance() {
	if len(c.queue) == 0 {
		return
	}
	c.queue = c.queue[1:]
}

func (c *wireConveyor) Flushing() bool { return c.flush }

func (c *wireConveyor) ClearFlush() { c.flush = false }

// RequestFlush marks the wire conveyor as draining, causing the trapezoid
// controller to decelerate the current block to a stop instead of
// continuing its planned profile. Driven by clear_queue, not
// emergency_stop — emergency_stop halts immediately via haltMotionSystem's
// OnPause/ForceStop path without waiting for a controlled deceleration.
func (c *wireConveyor) RequestFlush() { c.flush = true }

// Clear drops every not-yet-started queued block, releasing each back to
// the block pool, mirroring standalone/planner/conveyor.go's Clear. The
// in-flight head block is left for the trapezoid controller to flush via
// RequestFlush.
func (c *wireConveyor) Clear() {
	if len(c.queue) == 0 {
		return
	}
	for _, b := range c.queue[1:] {
		b.Release()
	}
	c.queue = c.queue[:1]
}

// MotionConveyor exposes the package-level wire conveyor, which the
// targets' main() passes to InitMotionTimers.
func MotionConveyor() *wireConveyor { return motionConveyor }

// MotorByOID exposes the OID-to-motor map for other command files (e.g.
// endstop homing wiring) that need to resolve a motor without duplicating
// the registry.
func MotorByOID(oid uint8) (*StepperMotor, bool) {
	m, ok := motorsByOID[uint8(oid)]
	return m, ok
}
