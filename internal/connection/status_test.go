package connection

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseType(t *testing.T) {
	for _, valid := range []string{"local_ollama", "cloud_proxy"} {
		if _, ok := ParseType(valid); !ok {
			t.Errorf("ParseType(%q) rejected", valid)
		}
	}
	for _, invalid := range []string{"", "ollama", "LOCAL_OLLAMA", "cloud"} {
		if _, ok := ParseType(invalid); ok {
			t.Errorf("ParseType(%q) accepted", invalid)
		}
	}
}

func TestParseState(t *testing.T) {
	for _, valid := range []string{"disconnected", "connecting", "connected", "error"} {
		if _, ok := ParseState(valid); !ok {
			t.Errorf("ParseState(%q) rejected", valid)
		}
	}
	if _, ok := ParseState("online"); ok {
		t.Error("ParseState accepted unknown state")
	}
}

func TestTypesPriorityOrder(t *testing.T) {
	types := Types()
	if len(types) != 2 || types[0] != TypeLocalOllama || types[1] != TypeCloudProxy {
		t.Errorf("Types() = %v", types)
	}
}

func TestSnapshotIsolatesModels(t *testing.T) {
	status := NewStatus(TypeLocalOllama)
	status.Models = []string{"llama3:8b"}

	snap := status.Snapshot()
	snap.Models[0] = "mutated"
	if status.Models[0] != "llama3:8b" {
		t.Error("snapshot shares the models slice with the original")
	}
}

func TestPayloadNeverProbed(t *testing.T) {
	payload := NewStatus(TypeCloudProxy).Snapshot().Payload()
	if payload.LastCheck != 0 {
		t.Errorf("last_check = %v for unprobed connection", payload.LastCheck)
	}
	if payload.Models == nil {
		t.Error("models should encode as an empty array, not null")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"models":null`) {
		t.Errorf("payload encodes null models: %s", data)
	}
}

func TestPayloadLastCheckEpochSeconds(t *testing.T) {
	moment := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	status := Status{Type: TypeLocalOllama, State: StateConnected, LastCheck: moment}

	payload := status.Payload()
	want := float64(moment.UnixNano()) / float64(time.Second)
	if payload.LastCheck != want {
		t.Errorf("last_check = %v, want %v", payload.LastCheck, want)
	}
}

func TestDefaultCloudTrimsTrailingSlash(t *testing.T) {
	cfg := DefaultCloud("https://relay.example.com/", 30)
	if cfg.BaseURL != "https://relay.example.com" {
		t.Errorf("base url = %q", cfg.BaseURL)
	}
	if cfg.Enabled {
		t.Error("relay enabled without a token")
	}
}

func TestConfigValidate(t *testing.T) {
	good := DefaultLocal("localhost", 11434, 30)
	if err := good.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	bad := good
	bad.BaseURL = "  "
	if err := bad.Validate(); err == nil {
		t.Error("blank base url accepted")
	}

	bad = good
	bad.Timeout = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero timeout accepted")
	}

	bad = good
	bad.Type = "carrier_pigeon"
	if err := bad.Validate(); err == nil {
		t.Error("unknown type accepted")
	}
}
