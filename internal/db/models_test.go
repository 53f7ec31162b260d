package db

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/lib/pq"
)

func TestJSONBScan(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  string
	}{
		{"bytes", []byte(`{"cvss_base":"7.5"}`), `{"cvss_base":"7.5"}`},
		{"string", `{"risk_factor":"High"}`, `{"risk_factor":"High"}`},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			if err := j.Scan(tt.input); err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if j.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, j.String())
			}
		})
	}
}

func TestJSONBScanRejectsUnknownType(t *testing.T) {
	var j JSONB
	if err := j.Scan(42); err == nil {
		t.Error("Scan should reject non-string types")
	}
}

func TestJSONBValue(t *testing.T) {
	j := JSONB(`{"a":1}`)
	v, err := j.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if string(v.([]byte)) != `{"a":1}` {
		t.Errorf("Unexpected value: %v", v)
	}

	var empty JSONB
	v, err = empty.Value()
	if err != nil {
		t.Fatalf("Value failed for nil: %v", err)
	}
	if v != nil {
		t.Error("Nil JSONB should produce a NULL value")
	}
}

func TestJSONBMarshalRoundTrip(t *testing.T) {
	original := JSONB(`{"cvss_base":"10.0","risk_factor":"Critical"}`)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded JSONB
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.String() != original.String() {
		t.Errorf("Round trip changed content: %q vs %q", decoded, original)
	}
}

func TestNVTArrayFields(t *testing.T) {
	nvt := NVT{
		OID:     "1.3.6.1.4.1.25623.1.0.10107",
		CVERefs: pq.StringArray{"CVE-2001-0414", "CVE-2002-0083"},
		BIDRefs: pq.StringArray{},
	}

	if len(nvt.CVERefs) != 2 {
		t.Errorf("Expected 2 CVE refs, got %d", len(nvt.CVERefs))
	}

	var _ sql.Scanner = &nvt.CVERefs
}

func TestTaskStatusConstantsMatchProtocolLayer(t *testing.T) {
	// The parser writes these values verbatim into tasks.run_status.
	pairs := map[string]string{
		TaskStatusRequested:     "requested",
		TaskStatusRunning:       "running",
		TaskStatusStopRequested: "stop_requested",
		TaskStatusDone:          "done",
	}
	for got, want := range pairs {
		if got != want {
			t.Errorf("Status constant mismatch: %q vs %q", got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Host != "localhost" {
		t.Errorf("Expected localhost, got %s", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("Expected port 5432, got %d", cfg.Port)
	}
	if cfg.SSLMode != "disable" {
		t.Errorf("Expected sslmode disable, got %s", cfg.SSLMode)
	}
	if cfg.Database != "" || cfg.Username != "" {
		t.Error("Database and username must require explicit configuration")
	}
}
