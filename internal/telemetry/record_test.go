package telemetry

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestHeaderPrefixIsStable(t *testing.T) {
	prefix := []string{
		"status", "rpm", "rpm_count", "dt", "act_vel", "enc_pos", "hall_in", "hall_out",
		"o_vol", "o_curr", "roll_frame", "exp_decay", "ref_rpm", "estop",
	}
	got := Names()[:len(prefix)]
	if diff := cmp.Diff(prefix, got); diff != "" {
		t.Errorf("header prefix mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(Header(), "status, rpm, rpm_count, dt,") {
		t.Errorf("Header: got %q", Header())
	}
}

func TestNamesReturnsCopy(t *testing.T) {
	n := Names()
	n[0] = "changed"
	if Names()[0] != "status" {
		t.Error("Names should return a copy")
	}
}

func TestFields(t *testing.T) {
	r := Record{
		Status:          StatusEstop,
		RPM:             1750.5,
		RPMCount:        26,
		Elapsed:         10 * time.Millisecond,
		Velocity:        -0.25,
		EncoderPos:      -4096,
		HallIn:          true,
		Voltage:         24.1,
		Current:         1.5,
		Frames:          60,
		ExpDecay:        1740,
		RefRPM:          2250,
		Estop:           true,
		GearboxRPM:      500,
		GearboxExpDecay: 499,
		Ratio:           -1,
		Thermistors:     [ThermistorCount]int{512, -1, 700},
		Start:           1500 * time.Microsecond,
		Stop:            2 * time.Millisecond,
	}

	want := []Field{
		{"status", 3},
		{"rpm", 1750.5},
		{"rpm_count", 26},
		{"dt", 10000},
		{"act_vel", -0.25},
		{"enc_pos", -4096},
		{"hall_in", 1},
		{"hall_out", 0},
		{"o_vol", 24.1},
		{"o_curr", 1.5},
		{"roll_frame", 60},
		{"exp_decay", 1740},
		{"ref_rpm", 2250},
		{"estop", 1},
		{"gb_rpm", 500},
		{"gb_exp_decay", 499},
		{"ratio", -1},
		{"therm_1", 512},
		{"therm_2", -1},
		{"therm_3", 700},
		{"t_start", 1500},
		{"t_stop", 2000},
	}
	if diff := cmp.Diff(want, r.Fields()); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVMatchesHeader(t *testing.T) {
	r := Record{RPM: 60, RPMCount: 10, Elapsed: 10 * time.Millisecond, Ratio: 0.5}
	row := r.CSV()

	cols := strings.Split(row, ", ")
	if len(cols) != len(Names()) {
		t.Fatalf("columns: got %d, want %d", len(cols), len(Names()))
	}
	if cols[1] != "60" || cols[2] != "10" || cols[3] != "10000" || cols[16] != "0.5" {
		t.Errorf("row: got %q", row)
	}
}

func TestMarshalJSONOrder(t *testing.T) {
	r := Record{Status: StatusLinkTimeout, RPM: 1.25}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, `{"status":1,"rpm":1.25,"rpm_count":0,`) {
		t.Errorf("JSON prefix: got %s", s)
	}

	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(m) != len(Names()) {
		t.Errorf("keys: got %d, want %d", len(m), len(Names()))
	}
}

func TestMarshalJSONRejectsNonFinite(t *testing.T) {
	_, err := json.Marshal(Record{Voltage: math.NaN()})
	if err == nil || !strings.Contains(err.Error(), "o_vol") {
		t.Errorf("NaN voltage: got %v, want error naming o_vol", err)
	}
	_, err = json.Marshal(Record{Current: math.Inf(1)})
	if err == nil || !strings.Contains(err.Error(), "o_curr") {
		t.Errorf("Inf current: got %v, want error naming o_curr", err)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusOK:           "ok",
		StatusLinkTimeout:  "link_timeout",
		StatusHomingFailed: "homing_failed",
		StatusEstop:        "estop",
		Status(9):          "status(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d: got %q, want %q", int(s), got, want)
		}
	}
}
