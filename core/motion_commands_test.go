package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"stepcore/protocol"
)

func vlqEncode(vals ...uint32) []byte {
	buf := protocol.NewScratchOutput()
	for _, v := range vals {
		protocol.EncodeVLQUint(buf, v)
	}
	return buf.Result()
}

// TestMotionCommandsConfigAndQueueBlock exercises the wire-protocol motion
// command handlers end to end: config_stepper registers a motor slot,
// config_trapezoid mutates the live controller, and queue_trapezoid_block
// decodes a flattened block and starts it moving through the same
// MotionConveyor()/InitMotionSystem wiring a real target's main() does.
func TestMotionCommandsConfigAndQueueBlock(t *testing.T) {
	SetGPIODriver(newFakeGPIO())
	SetAccelTimerHAL(newFakeAccelTimer())
	base := newFakeBaseTimer()

	RegisterMotionCommands(4)
	InitMotionSystem(base, 1_000_000, 1_000, 2, MotionConveyor())

	configData := vlqEncode(5, 1, 2, 0, 0) // oid, step_pin, dir_pin, invert_step, invert_dir
	assert.NoError(t, cmdConfigStepper(&configData))

	m, ok := MotorByOID(5)
	assert.True(t, ok)
	assert.NotNil(t, m)

	trapData := vlqEncode(75, 200) // min_steps_per_second, accel_ticks_per_second
	assert.NoError(t, cmdConfigTrapezoid(&trapData))

	trap := GlobalMotionSystem().Trapezoid()
	assert.Equal(t, float32(75), trap.MinimumStepsPerSecond)
	assert.Equal(t, uint32(200), trap.AccelerationTicksPerSecond)

	inner := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(inner, 10000) // millimeters_x1000 = 10mm
	protocol.EncodeVLQUint(inner, 1)     // direction_bits
	protocol.EncodeVLQUint(inner, 100)   // steps_event_count
	protocol.EncodeVLQUint(inner, 50000) // initial_rate_x1000
	protocol.EncodeVLQUint(inner, 50000) // nominal_rate_x1000
	protocol.EncodeVLQUint(inner, 50000) // final_rate_x1000
	protocol.EncodeVLQUint(inner, 10000) // rate_delta_x1000
	protocol.EncodeVLQUint(inner, 10)    // accelerate_until
	protocol.EncodeVLQUint(inner, 90)    // decelerate_after
	var stepCounts [NMotors]uint32
	stepCounts[0] = 100
	for _, s := range stepCounts {
		protocol.EncodeVLQUint(inner, s)
	}

	outer := protocol.NewScratchOutput()
	protocol.EncodeVLQBytes(outer, inner.Result())
	blockData := outer.Result()

	assert.NoError(t, cmdQueueTrapezoidBlock(&blockData))
	assert.NotNil(t, trap.CurrentBlock(), "queueing a block while idle must start it immediately")

	assert.NotPanics(t, func() { sendTrapezoidRate(42) }, "SendResponse must no-op without a live transport")
	assert.NotPanics(t, func() { sendStepperMoveFinished(5) })
}
