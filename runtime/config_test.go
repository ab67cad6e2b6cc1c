package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
module_root: /srv/app
allow: [namespace]
max_call_stack_size: 500
worker_event_buffer: 4
shared_memory_size: 1024
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ModuleRoot != "/srv/app" || cfg.MaxCallStackSize != 500 || cfg.WorkerEventBuffer != 4 || cfg.SharedMemorySize != 1024 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.WorkerInboundBuffer != DefaultConfig().WorkerInboundBuffer {
		t.Fatalf("unset field lost its default: %+v", cfg)
	}
	if len(cfg.Allow) != 1 || cfg.Allow[0] != CapNamespace {
		t.Fatalf("allow = %v", cfg.Allow)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative stack", "max_call_stack_size: -1"},
		{"negative events", "worker_event_buffer: -1"},
		{"negative inbound", "worker_inbound_buffer: -2"},
		{"negative shared", "shared_memory_size: -8"},
		{"malformed", "allow: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	if err := os.WriteFile(path, []byte("worker_inbound_buffer: 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerInboundBuffer != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestAllowList(t *testing.T) {
	if (AllowList{"a"}).Authorize("b") {
		t.Fatal("b should not be granted")
	}
	if !(AllowList{"a", "b"}).Authorize("b") {
		t.Fatal("b should be granted")
	}
	if !(AllowList{"*"}).Authorize("anything") {
		t.Fatal("wildcard should grant everything")
	}
	if !(AllowAll{}).Authorize("x") {
		t.Fatal("AllowAll should grant everything")
	}
}
