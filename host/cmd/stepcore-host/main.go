package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"stepcore/host/mcu"
	"stepcore/protocol"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	verbose = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	fmt.Println("stepcore-host - Klipper Protocol Host Implementation")
	fmt.Println("===================================================\n")

	// Create MCU instance
	mcuConn := mcu.NewMCU()

	// Connect to MCU
	fmt.Printf("Connecting to MCU on %s...\n", *device)
	if err := mcuConn.Connect(*device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	fmt.Println("Connected successfully!")

	// Retrieve dictionary
	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}

	// Print dictionary summary
	mcuConn.PrintDictionary()

	// Interactive command loop
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := scanner.Text()
		parts, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return

		case "help", "?":
			printHelp()

		case "dict":
			mcuConn.PrintDictionary()

		case "raw":
			// Print raw dictionary data
			raw := mcuConn.GetDictionaryRaw()
			fmt.Printf("Raw dictionary data (%d bytes):\n%s\n", len(raw), string(raw))

		case "get_uptime":
			if err := sendGetUptime(mcuConn); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "get_clock":
			if err := sendGetClock(mcuConn); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "get_config":
			if err := sendGetConfig(mcuConn); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "config-trapezoid":
			if err := sendConfigTrapezoid(mcuConn, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "queue-block":
			if err := sendQueueBlock(mcuConn, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "motor-enable":
			if err := mcuConn.SendCommand("motor_enable", nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "motor-disable":
			if err := mcuConn.SendCommand("motor_disable", nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		case "clear-queue":
			if err := mcuConn.SendCommand("clear_queue", nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", cmd)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  help           - Show this help message")
	fmt.Println("  dict           - Print dictionary summary")
	fmt.Println("  raw            - Print raw dictionary data")
	fmt.Println("  get_uptime     - Get MCU uptime")
	fmt.Println("  get_clock      - Get MCU clock")
	fmt.Println("  get_config     - Get MCU configuration")
	fmt.Println("  config-trapezoid <min_steps_per_second> <accel_ticks_per_second>")
	fmt.Println("                 - Configure the MCU's trapezoid controller")
	fmt.Println("  queue-block <mm> <dir_bits> <steps_event_count> <initial_rate>")
	fmt.Println("              <nominal_rate> <final_rate> <rate_delta>")
	fmt.Println("              <accelerate_until> <decelerate_after> <steps...>")
	fmt.Println("                 - Queue a trapezoid move block")
	fmt.Println("  motor-enable   - Drive every configured motor's enable pin active")
	fmt.Println("  motor-disable  - Drive every configured motor's enable pin inactive")
	fmt.Println("  clear-queue    - Drop queued blocks and decelerate the in-flight one to a stop")
	fmt.Println("  quit/exit/q    - Exit the program")
	fmt.Println()
}

func sendGetUptime(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_uptime command...")

	// get_uptime has no arguments, format: ""
	if err := mcuConn.SendCommand("get_uptime", nil); err != nil {
		return fmt.Errorf("failed to send get_uptime: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

func sendGetClock(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_clock command...")

	// get_clock has no arguments, format: ""
	if err := mcuConn.SendCommand("get_clock", nil); err != nil {
		return fmt.Errorf("failed to send get_clock: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("Waiting for response...")

	// Wait a bit for response to arrive
	time.Sleep(100 * time.Millisecond)

	// TODO: Implement proper response handling
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

func sendGetConfig(mcuConn *mcu.MCU) error {
	fmt.Println("Sending get_config command...")

	// get_config has no arguments, format: ""
	if err := mcuConn.SendCommand("get_config", nil); err != nil {
		return fmt.Errorf("failed to send get_config: %w", err)
	}

	fmt.Println("Command sent successfully!")
	fmt.Println("(Note: Response handling not yet implemented - check MCU logs)")

	return nil
}

// sendConfigTrapezoid sends config_trapezoid: min_steps_per_second,
// accel_ticks_per_second (both plain VLQ uints, no fixed-point scaling).
func sendConfigTrapezoid(mcuConn *mcu.MCU, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: config-trapezoid <min_steps_per_second> <accel_ticks_per_second>")
	}

	minStepsPerSecond, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid min_steps_per_second: %w", err)
	}
	accelTicksPerSecond, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid accel_ticks_per_second: %w", err)
	}

	fmt.Println("Sending config_trapezoid command...")
	err = mcuConn.SendCommand("config_trapezoid", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(minStepsPerSecond))
		protocol.EncodeVLQUint(output, uint32(accelTicksPerSecond))
	})
	if err != nil {
		return fmt.Errorf("failed to send config_trapezoid: %w", err)
	}

	fmt.Println("Command sent successfully!")
	return nil
}

// queueBlockNMotors mirrors core.NMotors on the MCU side: queue_trapezoid_block
// always carries one step count per motor slot, even for unused axes.
const queueBlockNMotors = 12

// sendQueueBlock sends queue_trapezoid_block. The wire command takes a
// single VLQ-bytes blob (block=%*s) containing the flattened block
// descriptor, so the block fields are encoded into a scratch buffer first
// and that buffer is wrapped as the command's one argument. Layout matches
// the MCU side: millimeters_x1000, direction_bits, steps_event_count,
// initial_rate_x1000, nominal_rate_x1000, final_rate_x1000, rate_delta_x1000,
// accelerate_until, decelerate_after, then queueBlockNMotors step counts,
// taken in order from the trailing args and zero for the remaining slots.
func sendQueueBlock(mcuConn *mcu.MCU, args []string) error {
	if len(args) < 9 {
		return fmt.Errorf("usage: queue-block <mm> <dir_bits> <steps_event_count> " +
			"<initial_rate> <nominal_rate> <final_rate> <rate_delta> " +
			"<accelerate_until> <decelerate_after> <steps...>")
	}

	mm, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return fmt.Errorf("invalid mm: %w", err)
	}
	dirBits, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid dir_bits: %w", err)
	}
	stepsEventCount, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid steps_event_count: %w", err)
	}

	var rates [4]float64
	for i, name := range []string{"initial_rate", "nominal_rate", "final_rate", "rate_delta"} {
		v, err := strconv.ParseFloat(args[3+i], 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		rates[i] = v
	}

	accelerateUntil, err := strconv.ParseUint(args[7], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid accelerate_until: %w", err)
	}
	decelerateAfter, err := strconv.ParseUint(args[8], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid decelerate_after: %w", err)
	}

	stepArgs := args[9:]
	if len(stepArgs) > queueBlockNMotors {
		return fmt.Errorf("too many step counts: got %d, MCU has %d motor slots", len(stepArgs), queueBlockNMotors)
	}
	var steps [queueBlockNMotors]uint64
	for i, s := range stepArgs {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid step count %q: %w", s, err)
		}
		steps[i] = v
	}

	block := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(block, uint32(mm*1000))
	protocol.EncodeVLQUint(block, uint32(dirBits))
	protocol.EncodeVLQUint(block, uint32(stepsEventCount))
	for _, r := range rates {
		protocol.EncodeVLQUint(block, uint32(r*1000))
	}
	protocol.EncodeVLQUint(block, uint32(accelerateUntil))
	protocol.EncodeVLQUint(block, uint32(decelerateAfter))
	for _, s := range steps {
		protocol.EncodeVLQUint(block, uint32(s))
	}
	blockBytes := block.Result()

	fmt.Println("Sending queue_trapezoid_block command...")
	err = mcuConn.SendCommand("queue_trapezoid_block", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQBytes(output, blockBytes)
	})
	if err != nil {
		return fmt.Errorf("failed to send queue_trapezoid_block: %w", err)
	}

	fmt.Println("Command sent successfully!")
	return nil
}

// DecodeResponse decodes a response message payload
func DecodeResponse(payload []byte) (cmdID uint16, data []byte, err error) {
	// Decode command ID
	cmdIDUint, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to decode command ID: %w", err)
	}

	return uint16(cmdIDUint), payload, nil
}
