package cancodec

// Flag identifies a single fault bit within a vendor's fault report.
// Vendors define their own catalog (see bmsFlagNames / mcFlagNames); new
// flags can be appended to either catalog without touching decode logic.
type Flag uint32

// bits is a decoded set of fault flags. Equality between two fault
// reports is set-equality over the active flags, which for a canonical
// bitmask representation reduces to comparing the raw bits.
type bits struct {
	mask Flag
}

func decodeBits(data []byte) bits {
	var mask Flag
	for i, b := range data {
		if i >= 4 {
			break
		}
		mask |= Flag(b) << (8 * uint(i))
	}
	return bits{mask: mask}
}

func (b bits) has(flag Flag) bool { return b.mask&flag != 0 }

func (b bits) names(catalog map[Flag]string) []string {
	var active []string
	for flag, name := range catalog {
		if b.has(flag) {
			active = append(active, name)
		}
	}
	return active
}

// BMS fault flags, one bit per reported condition.
const (
	BMSFaultOverVoltage Flag = 1 << iota
	BMSFaultUnderVoltage
	BMSFaultOverTemperature
	BMSFaultOverCurrent
	BMSFaultExternalKill
	BMSFaultCellImbalance
)

var bmsFlagNames = map[Flag]string{
	BMSFaultOverVoltage:     "over_voltage",
	BMSFaultUnderVoltage:    "under_voltage",
	BMSFaultOverTemperature: "over_temperature",
	BMSFaultOverCurrent:     "over_current",
	BMSFaultExternalKill:    "external_kill",
	BMSFaultCellImbalance:   "cell_imbalance",
}

// BMSFaultReport is the decoded BMS fault-report frame (CAN id 0x00A).
type BMSFaultReport struct{ bits }

func DecodeBMSFaultReport(data []byte) BMSFaultReport {
	return BMSFaultReport{decodeBits(data)}
}

func (f BMSFaultReport) Has(flag Flag) bool { return f.has(flag) }
func (f BMSFaultReport) Flags() []string    { return f.names(bmsFlagNames) }
func (f BMSFaultReport) Equal(other BMSFaultReport) bool { return f.mask == other.mask }

// MC fault flags.
const (
	MCFaultOverTemperature Flag = 1 << iota
	MCFaultOverCurrent
	MCFaultOverSpeed
	MCFaultEncoderFault
	MCFaultGateDriverFault
)

var mcFlagNames = map[Flag]string{
	MCFaultOverTemperature: "over_temperature",
	MCFaultOverCurrent:     "over_current",
	MCFaultOverSpeed:       "over_speed",
	MCFaultEncoderFault:    "encoder_fault",
	MCFaultGateDriverFault: "gate_driver_fault",
}

// MCFaultReport is the decoded motor-controller fault-report frame (CAN
// id 0x014).
type MCFaultReport struct{ bits }

func DecodeMCFaultReport(data []byte) MCFaultReport {
	return MCFaultReport{decodeBits(data)}
}

func (f MCFaultReport) Has(flag Flag) bool { return f.has(flag) }
func (f MCFaultReport) Flags() []string    { return f.names(mcFlagNames) }
func (f MCFaultReport) Equal(other MCFaultReport) bool { return f.mask == other.mask }
