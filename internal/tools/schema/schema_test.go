package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

type sampleInput struct {
	Query string  `json:"query" jsonschema_description:"Search text"`
	Limit int     `json:"limit,omitempty" jsonschema:"minimum=1,maximum=10"`
	Mode  string  `json:"mode,omitempty" jsonschema:"enum=fast,enum=exact"`
	Ratio float64 `json:"ratio,omitempty" jsonschema:"minimum=0"`
}

func TestNew_SchemaShape(t *testing.T) {
	s := Must[sampleInput]("sample")

	var doc map[string]any
	if err := json.Unmarshal(s.JSON(), &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	if doc["type"] != "object" {
		t.Errorf("type = %v, want object", doc["type"])
	}
	if _, ok := doc["$schema"]; ok {
		t.Error("$schema should be stripped")
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %T", doc["properties"])
	}
	for _, name := range []string{"query", "limit", "mode", "ratio"} {
		if _, ok := props[name]; !ok {
			t.Errorf("missing property %q", name)
		}
	}
	query := props["query"].(map[string]any)
	if query["description"] != "Search text" {
		t.Errorf("query description = %v", query["description"])
	}
	required, _ := doc["required"].([]any)
	if len(required) != 1 || required[0] != "query" {
		t.Errorf("required = %v, want [query]", required)
	}
}

func TestInput_Decode(t *testing.T) {
	s := Must[sampleInput]("sample")

	tests := []struct {
		name    string
		params  string
		want    sampleInput
		wantErr string
	}{
		{
			name:   "valid",
			params: `{"query":"cards","limit":3,"mode":"exact"}`,
			want:   sampleInput{Query: "cards", Limit: 3, Mode: "exact"},
		},
		{
			name:    "missing required",
			params:  `{"limit":3}`,
			wantErr: "query",
		},
		{
			name:    "empty params",
			params:  ``,
			wantErr: "query",
		},
		{
			name:    "out of range",
			params:  `{"query":"x","limit":50}`,
			wantErr: "/limit",
		},
		{
			name:    "bad enum",
			params:  `{"query":"x","mode":"slow"}`,
			wantErr: "/mode",
		},
		{
			name:    "wrong type",
			params:  `{"query":7}`,
			wantErr: "/query",
		},
		{
			name:    "unknown property",
			params:  `{"query":"x","extra":true}`,
			wantErr: "extra",
		},
		{
			name:    "malformed",
			params:  `{"query":`,
			wantErr: "invalid JSON arguments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Decode(json.RawMessage(tt.params))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Decode() = %+v, want error containing %q", got, tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Decode() error = %q, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
