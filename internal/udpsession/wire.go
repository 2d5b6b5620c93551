package udpsession

import (
	"fmt"
	"strings"
	"time"

	"github.com/waterloop/podserver/internal/cancodec"
)

// naiveTimestampLayout matches the operator's ISO-8601 timestamps
// without a timezone offset (spec §6 "ISO-8601 naive").
const naiveTimestampLayout = "2006-01-02T15:04:05.999999"

// NaiveTimestamp is a timezone-less instant as exchanged with the
// operator over UDP.
type NaiveTimestamp time.Time

func (t NaiveTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(naiveTimestampLayout) + `"`), nil
}

func (t *NaiveTimestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := time.Parse(naiveTimestampLayout, s)
	if err != nil {
		return fmt.Errorf("udpsession: invalid naive timestamp %q: %w", s, err)
	}
	*t = NaiveTimestamp(parsed)
	return nil
}

// DesktopStateMessage is the inbound per-tick operator message (spec §6).
type DesktopStateMessage struct {
	RequestedState      uint8          `json:"requested_state"`
	MostRecentTimestamp NaiveTimestamp `json:"most_recent_timestamp"`
}

// PodTelemetryJSON is the wire shape of a PodData snapshot. Field
// presence beyond what the state engine consumes is out of scope (spec
// §1); every field here is one the aggregator actually populates.
type PodTelemetryJSON struct {
	PressureHigh       *float32    `json:"pressure_high,omitempty"`
	PressureLow1       *float32    `json:"pressure_low_1,omitempty"`
	PressureLow2       *float32    `json:"pressure_low_2,omitempty"`
	BatteryPackCurrent *float32    `json:"battery_pack_current,omitempty"`
	CellTemperature    *float32    `json:"cell_temperature,omitempty"`
	BatteryVoltage     *float32    `json:"battery_voltage,omitempty"`
	StateOfCharge      *float32    `json:"state_of_charge,omitempty"`
	BuckTemperature    *float32    `json:"buck_temperature,omitempty"`
	BmsCurrent         *float32    `json:"bms_current,omitempty"`
	LinkCapVoltage     *float32    `json:"link_cap_voltage,omitempty"`
	IgbtTemp           *float32    `json:"igbt_temp,omitempty"`
	MotorVoltage       *float32    `json:"motor_voltage,omitempty"`
	McPodSpeed         *float32    `json:"mc_pod_speed,omitempty"`
	MotorCurrent       *float32    `json:"motor_current,omitempty"`
	BatteryCurrent     *float32    `json:"battery_current,omitempty"`
	PodSpeed           *float32    `json:"pod_speed,omitempty"`
	Current5V          *float32    `json:"current_5v,omitempty"`
	Current12V         *float32    `json:"current_12v,omitempty"`
	Current24V         *float32    `json:"current_24v,omitempty"`
	Torchic1           []*float32  `json:"torchic_1,omitempty"`
	Torchic2           []*float32  `json:"torchic_2,omitempty"`
}

func optPtr(f cancodec.OptionalFloat) *float32 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func pairPtr(pair [2]cancodec.OptionalFloat) []*float32 {
	return []*float32{optPtr(pair[0]), optPtr(pair[1])}
}

func toTelemetryJSON(data cancodec.PodData) PodTelemetryJSON {
	return PodTelemetryJSON{
		PressureHigh:       optPtr(data.PressureHigh),
		PressureLow1:       optPtr(data.PressureLow1),
		PressureLow2:       optPtr(data.PressureLow2),
		BatteryPackCurrent: optPtr(data.BatteryPackCurrent),
		CellTemperature:    optPtr(data.CellTemperature),
		BatteryVoltage:     optPtr(data.BatteryVoltage),
		StateOfCharge:      optPtr(data.StateOfCharge),
		BuckTemperature:    optPtr(data.BuckTemperature),
		BmsCurrent:         optPtr(data.BmsCurrent),
		LinkCapVoltage:     optPtr(data.LinkCapVoltage),
		IgbtTemp:           optPtr(data.IgbtTemp),
		MotorVoltage:       optPtr(data.MotorVoltage),
		McPodSpeed:         optPtr(data.McPodSpeed),
		MotorCurrent:       optPtr(data.MotorCurrent),
		BatteryCurrent:     optPtr(data.BatteryCurrent),
		PodSpeed:           optPtr(data.PodSpeed),
		Current5V:          optPtr(data.Current5V),
		Current12V:         optPtr(data.Current12V),
		Current24V:         optPtr(data.Current24V),
		Torchic1:           pairPtr(data.Torchic1),
		Torchic2:           pairPtr(data.Torchic2),
	}
}

// PodStateMessage is the outbound per-tick message (spec §6). Telemetry
// is a pointer so it can be omitted entirely when no newer snapshot
// exists since the last one the operator acked.
type PodStateMessage struct {
	CurrentState       uint8             `json:"current_state"`
	NextState          uint8             `json:"next_state"`
	Errno              uint8             `json:"errno"`
	Recovery           bool              `json:"recovery"`
	TelemetryTimestamp NaiveTimestamp    `json:"telemetry_timestamp"`
	Telemetry          *PodTelemetryJSON `json:"telemetry,omitempty"`
}
