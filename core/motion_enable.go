package core

// M17/M18/M84 drive the enable pins of every configured stepper motor.
// The motion core itself never toggles an enable pin as a side effect of
// motion (TrapezoidController.setEnablePins only records enable_pins_status
// and calls OnEnableChange, which nothing assigns); a deliberate M18/M84 is the only way to drop
// holding torque, matching the original firmware's behaviour of leaving
// steppers engaged between prints unless explicitly disabled.

// EnableAllMotors drives every registered motor's enable pin active. Used
// by M17.
func EnableAllMotors() {
	for _, m := range motorsByOID {
		if m == nil || !m.HasEnable {
			continue
		}
		MustGPIO().SetPin(m.EnablePin, true)
	}
}

// DisableAllMotors drives every registered motor's enable pin inactive,
// skipping any motor that is currently Moving (executing a block) (M18/M84
// without 'S' disable immediately; this core has no dwell/idle-timeout
// path, so the only guard is "don't disable out from under the active
// block").
func DisableAllMotors() {
	for _, m := range motorsByOID {
		if m == nil || !m.HasEnable || m.Moving {
			continue
		}
		MustGPIO().SetPin(m.EnablePin, false)
	}
}
