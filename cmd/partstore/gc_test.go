package main

import (
	"testing"

	"partstore/internal/config"
)

func TestShouldReapPreuploads(t *testing.T) {
	tests := []struct {
		name          string
		flag          bool
		trimOnCollect bool
		want          bool
	}{
		{"default off", false, false, false},
		{"flag alone", true, false, true},
		{"config knob alone", false, true, true},
		{"both set", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{GC: config.GCConfig{TrimOnCollect: tt.trimOnCollect}}
			if got := shouldReapPreuploads(tt.flag, cfg); got != tt.want {
				t.Fatalf("shouldReapPreuploads(%t, trim=%t) = %t, want %t", tt.flag, tt.trimOnCollect, got, tt.want)
			}
		})
	}
}
