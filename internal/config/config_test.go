package config

import (
	"testing"
	"time"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"-0.2,51.4,0.1,51.6", false},
		{" -0.2 , 51.4 , 0.1 , 51.6 ", false},
		{"-0.2,51.4,0.1", true},
		{"a,51.4,0.1,51.6", true},
		{"0.1,51.4,-0.2,51.6", true},
		{"-0.2,51.6,0.1,51.4", true},
		{"-190,0,0,1", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			b, err := ParseBBox(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBBox(%q) expected error, got %+v", tt.input, b)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBBox(%q) error: %v", tt.input, err)
			}
			if b.West != -0.2 || b.South != 51.4 || b.East != 0.1 || b.North != 51.6 {
				t.Errorf("ParseBBox(%q) = %+v", tt.input, b)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zoom too high", func(c *Config) { c.Zoom = 23 }},
		{"no retries", func(c *Config) { c.Retries = 0 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"negative throttle", func(c *Config) { c.Throttle = -time.Second }},
		{"no output", func(c *Config) { c.Output = "" }},
		{"bad format", func(c *Config) { c.Format = "xml" }},
		{"postgres without url", func(c *Config) { c.Output = "postgres" }},
		{"negative tolerance", func(c *Config) { c.SimplifyTolerance = -1 }},
		{"zero chunk", func(c *Config) { c.ChunkSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SPEEDTILES_ENDPOINT":     "http://localhost:12345/api/interpreter",
		"SPEEDTILES_ZOOM":         "14",
		"SPEEDTILES_THROTTLE":     "1500",
		"SPEEDTILES_BASE_DELAY":   "2s",
		"SPEEDTILES_DATABASE_URL": "postgres://localhost/tiles",
		"SPEEDTILES_OUTPUT":       "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c := DefaultConfig()
	if err := c.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if c.Endpoint != env["SPEEDTILES_ENDPOINT"] {
		t.Errorf("Endpoint = %q", c.Endpoint)
	}
	if c.Zoom != 14 {
		t.Errorf("Zoom = %d, want 14", c.Zoom)
	}
	if c.Throttle != 1500*time.Millisecond {
		t.Errorf("Throttle = %v, want 1.5s", c.Throttle)
	}
	if c.BaseDelay != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", c.BaseDelay)
	}
	if c.DatabaseURL != "postgres://localhost/tiles" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.Output != DefaultConfig().Output {
		t.Errorf("empty SPEEDTILES_OUTPUT changed Output to %q", c.Output)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for _, kv := range [][2]string{
		{"SPEEDTILES_ZOOM", "thirteen"},
		{"SPEEDTILES_THROTTLE", "soon"},
	} {
		t.Run(kv[0], func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == kv[0] {
					return kv[1], true
				}
				return "", false
			}
			if err := DefaultConfig().ApplyEnv(lookup); err == nil {
				t.Errorf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}
