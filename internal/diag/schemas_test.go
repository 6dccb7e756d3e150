package diag_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"terracast.dev/internal/diag"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	statsSchema := compile("stats.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "session_id":"b4f7c1f0-1f1e-4c3a-9d8e-2a6b5c4d3e2f",
	  "tick_rate_hz":20,
	  "chunk_size":64,
	  "seed":1337
	}`), &hello)
	validate(helloSchema, hello)

	var stats any
	_ = json.Unmarshal([]byte(`{
	  "type":"STATS",
	  "tick":120,
	  "passes":14,
	  "observer_x":512.5,
	  "observer_y":64.0,
	  "observer_z":-320.0,
	  "view_distance":400,
	  "active_chunks":180,
	  "visible_chunks":96,
	  "rendered":96,
	  "generated_total":412,
	  "gen_failures":0,
	  "uploads_this_tick":3,
	  "upload_failures":1,
	  "inflight_jobs":7
	}`), &stats)
	validate(statsSchema, stats)
}

// The Go structs and the schemas describe the same wire format; marshalled
// structs must validate too.
func TestSchemas_MatchGoTypes(t *testing.T) {
	statsSchema, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "stats.schema.json"))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	b, err := json.Marshal(diag.StatsMsg{
		Type:         "STATS",
		Tick:         1,
		ViewDistance: 400,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := statsSchema.Validate(v); err != nil {
		t.Fatalf("marshalled StatsMsg does not validate: %v", err)
	}
}
