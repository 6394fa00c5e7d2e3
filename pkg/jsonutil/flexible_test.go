package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestFlexibleString(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"string", "tabular", "tabular", true},
		{"whole float", float64(987), "987", true},
		{"fraction", 0.4935, "0.4935", true},
		{"number", json.Number("2000"), "2000", true},
		{"bool", false, "false", true},
		{"nil", nil, "", true},
		{"object", map[string]any{"a": 1}, "", false},
		{"array", []any{"x"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FlexibleString(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("FlexibleString(%v) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
