package pixel

import (
	"strings"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "valid",
			cfg:  Config{Endpoint: "https://collect.example.com/collect", ClientID: "acme"},
		},
		{
			name:    "missing endpoint",
			cfg:     Config{ClientID: "acme"},
			wantErr: "Endpoint is required",
		},
		{
			name:    "missing client id",
			cfg:     Config{Endpoint: "https://collect.example.com/collect"},
			wantErr: "ClientID is required",
		},
		{
			name:    "relative endpoint",
			cfg:     Config{Endpoint: "/collect", ClientID: "acme"},
			wantErr: "absolute URL",
		},
		{
			name:    "negative send rate",
			cfg:     Config{Endpoint: "http://localhost:8080", ClientID: "acme", SendRate: -1},
			wantErr: "SendRate",
		},
		{
			name:    "negative capacity",
			cfg:     Config{Endpoint: "http://localhost:8080", ClientID: "acme", BufferCapacity: -5},
			wantErr: "BufferCapacity",
		},
		{
			name:    "negative heartbeat",
			cfg:     Config{Endpoint: "http://localhost:8080", ClientID: "acme", HeartbeatRate: -0.5},
			wantErr: "HeartbeatRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Endpoint: "http://localhost:8080", ClientID: "acme"}.withDefaults()

	if cfg.SendRate != DefaultSendRate {
		t.Errorf("SendRate = %v, want %v", cfg.SendRate, DefaultSendRate)
	}
	if cfg.BufferCapacity != DefaultBufferCapacity {
		t.Errorf("BufferCapacity = %d, want %d", cfg.BufferCapacity, DefaultBufferCapacity)
	}
	if cfg.FrameInterval != DefaultFrameInterval {
		t.Errorf("FrameInterval = %v, want %v", cfg.FrameInterval, DefaultFrameInterval)
	}
	if cfg.UnloadGrace != DefaultUnloadGrace {
		t.Errorf("UnloadGrace = %v, want %v", cfg.UnloadGrace, DefaultUnloadGrace)
	}
	if cfg.VisitorID == "" {
		t.Error("VisitorID not generated")
	}
	if cfg.HeartbeatRate != 0 {
		t.Errorf("HeartbeatRate = %v, want 0 (disabled)", cfg.HeartbeatRate)
	}
}

func TestConfig_WithDefaultsKeepsExplicitValues(t *testing.T) {
	in := Config{
		Endpoint:       "http://localhost:8080",
		ClientID:       "acme",
		VisitorID:      "visitor-42",
		SendRate:       2,
		BufferCapacity: 5,
		UnloadGrace:    time.Second,
	}
	cfg := in.withDefaults()

	if cfg.VisitorID != "visitor-42" {
		t.Errorf("VisitorID = %q, want visitor-42", cfg.VisitorID)
	}
	if cfg.SendRate != 2 || cfg.BufferCapacity != 5 || cfg.UnloadGrace != time.Second {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if in.VisitorID != "visitor-42" || in.FrameInterval != 0 {
		t.Error("withDefaults mutated its receiver")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PIXEL_ENDPOINT", "http://collector:8080/collect")
	t.Setenv("PIXEL_CLIENT_ID", "acme")
	t.Setenv("PIXEL_ALTERATION_ID", "variant-b")
	t.Setenv("PIXEL_SEND_RATE", "4")
	t.Setenv("PIXEL_UNLOAD_GRACE", "500ms")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}

	if cfg.Endpoint != "http://collector:8080/collect" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.ClientID != "acme" || cfg.AlterationID != "variant-b" {
		t.Errorf("ClientID/AlterationID = %q/%q", cfg.ClientID, cfg.AlterationID)
	}
	if cfg.SendRate != 4 {
		t.Errorf("SendRate = %v, want 4", cfg.SendRate)
	}
	if cfg.UnloadGrace != 500*time.Millisecond {
		t.Errorf("UnloadGrace = %v, want 500ms", cfg.UnloadGrace)
	}
	if cfg.BufferCapacity != DefaultBufferCapacity {
		t.Errorf("BufferCapacity = %d, want envDefault %d", cfg.BufferCapacity, DefaultBufferCapacity)
	}
}

func TestConfigFromEnv_InvalidValue(t *testing.T) {
	t.Setenv("PIXEL_SEND_RATE", "fast")

	if _, err := ConfigFromEnv(); err == nil {
		t.Error("ConfigFromEnv() error = nil, want parse error")
	}
}
