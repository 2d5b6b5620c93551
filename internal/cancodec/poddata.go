package cancodec

// OptionalFloat is a sum of "absent" and "value" for a single telemetry
// field, avoiding a sentinel NaN. The zero value is absent.
type OptionalFloat struct {
	Value float32
	Valid bool
}

// Some constructs a present OptionalFloat.
func Some(v float32) OptionalFloat { return OptionalFloat{Value: v, Valid: true} }

// PodData is the latest telemetry snapshot. Every field is absent until
// the corresponding CAN frame has been observed at least once.
type PodData struct {
	PressureHigh       OptionalFloat
	PressureLow1       OptionalFloat
	PressureLow2       OptionalFloat
	BatteryPackCurrent OptionalFloat
	CellTemperature    OptionalFloat
	BatteryVoltage     OptionalFloat
	StateOfCharge      OptionalFloat
	BuckTemperature    OptionalFloat
	BmsCurrent         OptionalFloat
	LinkCapVoltage     OptionalFloat
	IgbtTemp           OptionalFloat
	MotorVoltage       OptionalFloat
	McPodSpeed         OptionalFloat
	MotorCurrent       OptionalFloat
	BatteryCurrent     OptionalFloat
	PodSpeed           OptionalFloat
	Current5V          OptionalFloat
	Current12V         OptionalFloat
	Current24V         OptionalFloat
	Torchic1           [2]OptionalFloat
	Torchic2           [2]OptionalFloat
}
