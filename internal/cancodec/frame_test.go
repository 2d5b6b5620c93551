package cancodec

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func floatBytes(vs ...float32) []byte {
	buf := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func TestDecode_TwoFloatFrames(t *testing.T) {
	cmd, err := Decode(Frame{ID: idBMSHealth, Data: floatBytes(1.5, -2.25)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := cmd.(BmsHealthCheck)
	if !ok {
		t.Fatalf("got %T, want BmsHealthCheck", cmd)
	}
	if got.BatteryPackCurrent != 1.5 || got.CellTemperature != -2.25 {
		t.Errorf("got %+v", got)
	}
}

func TestDecode_OneFloatFrames(t *testing.T) {
	cmd, err := Decode(Frame{ID: idPodSpeed, Data: floatBytes(42.0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := cmd.(PodSpeed)
	if !ok {
		t.Fatalf("got %T, want PodSpeed", cmd)
	}
	if got.Value != 42.0 {
		t.Errorf("got %v, want 42.0", got.Value)
	}
}

func TestDecode_ShortFrame(t *testing.T) {
	_, err := Decode(Frame{ID: idMCData1, Data: []byte{1, 2, 3}})
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("got err %v, want ErrShortFrame", err)
	}
}

func TestDecode_StateChange(t *testing.T) {
	cmd, err := Decode(Frame{ID: idBMSStateChange, Data: []byte{1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := cmd.(BmsStateChange)
	if !ok {
		t.Fatalf("got %T, want BmsStateChange", cmd)
	}
	if got.Ack != Ack {
		t.Errorf("got %v, want Ack", got.Ack)
	}
}

func TestDecode_FaultReport(t *testing.T) {
	cmd, err := Decode(Frame{ID: idBMSFaultReport, Data: []byte{byte(BMSFaultOverVoltage | BMSFaultOverCurrent)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := cmd.(BmsFault)
	if !ok {
		t.Fatalf("got %T, want BmsFault", cmd)
	}
	if !got.Report.Has(BMSFaultOverVoltage) || !got.Report.Has(BMSFaultOverCurrent) {
		t.Errorf("missing expected flags: %+v", got.Report.Flags())
	}
	if got.Report.Has(BMSFaultUnderVoltage) {
		t.Errorf("unexpected flag set")
	}
}

func TestDecode_UnknownID(t *testing.T) {
	cmd, err := Decode(Frame{ID: 0x7FF, Data: nil})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := cmd.(UnknownCommand); !ok || got.ID != 0x7FF {
		t.Errorf("got %+v, want UnknownCommand{ID: 0x7FF}", cmd)
	}
}

func TestEncodePodState(t *testing.T) {
	f := EncodePodState(3)
	if f.ID != IDPodStateAnnounce {
		t.Errorf("got id 0x%03X, want 0x000", f.ID)
	}
	if len(f.Data) != 1 || f.Data[0] != 3 {
		t.Errorf("got data %v, want [3]", f.Data)
	}
}
