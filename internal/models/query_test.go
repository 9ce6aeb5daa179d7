package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *QueryRequest
		wantErr bool
	}{
		{"no target", &QueryRequest{Radius: 1}, true},
		{"blank id", &QueryRequest{ID: "  ", Radius: 1}, true},
		{"both targets", &QueryRequest{ID: "a", Vector: []string{"1"}, Radius: 1}, true},
		{"negative radius", &QueryRequest{ID: "a", Radius: -0.5}, true},
		{"nan radius", &QueryRequest{ID: "a", Radius: math.NaN()}, true},
		{"infinite radius", &QueryRequest{Vector: []string{"1"}, Radius: math.Inf(1)}, true},
		{"by id", &QueryRequest{ID: " a ", Radius: 0}, false},
		{"by vector", &QueryRequest{Vector: []string{"1", "2"}, Radius: 2.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.name == "by id" && tt.query.ID != "a" {
				t.Errorf("expected id to be trimmed, got %q", tt.query.ID)
			}
		})
	}
}

func TestPointInput(t *testing.T) {
	var p PointInput
	if err := json.Unmarshal([]byte(`{"id":"x","vector":[1, 2.5, -3]}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	got := p.Strings()
	want := []string{"1", "2.5", "-3"}
	if len(got) != len(want) {
		t.Fatalf("Strings() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strings()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	empty := PointInput{ID: "y"}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for missing vector")
	}
}
