package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/datasentinel/internal/domain"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Protocol != ProtocolTCP {
		t.Errorf("expected protocol tcp, got %q", cfg.Server.Protocol)
	}
	if cfg.Model.Path != "models/model.onnx" {
		t.Errorf("unexpected model path %q", cfg.Model.Path)
	}
	if cfg.Model.RuntimeConfigPath != "models/config.json" {
		t.Errorf("unexpected runtime config path %q", cfg.Model.RuntimeConfigPath)
	}
	if cfg.Backend.Kind != "onnx" {
		t.Errorf("unexpected backend kind %q", cfg.Backend.Kind)
	}
	if cfg.Backend.IntraOpThreads != 1 {
		t.Errorf("expected 1 intra-op thread, got %d", cfg.Backend.IntraOpThreads)
	}
	if cfg.Engine.WorkspaceBytes != 1<<30 {
		t.Errorf("expected 1 GiB workspace, got %d", cfg.Engine.WorkspaceBytes)
	}
	if cfg.Engine.FastMath == nil || !*cfg.Engine.FastMath {
		t.Error("expected fast math on by default")
	}
	if cfg.Engine.RebuildStale {
		t.Error("expected rebuild_stale off by default")
	}
}

func TestParse_FastMathExplicitlyOff(t *testing.T) {
	cfg, err := Parse([]byte("engine:\n  fast_math: false\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *cfg.Engine.FastMath {
		t.Error("expected fast math off")
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("DATASENTINEL_BACKEND", "TensorRT")
	t.Setenv("DATASENTINEL_PROTOCOL", "")

	cfg, err := Parse([]byte(`
server:
  protocol: ${DATASENTINEL_PROTOCOL:-http}
backend:
  kind: ${DATASENTINEL_BACKEND:-onnx}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Backend.Kind != "TensorRT" {
		t.Errorf("expected kind from env, got %q", cfg.Backend.Kind)
	}
	if cfg.Server.Protocol != ProtocolHTTP {
		t.Errorf("expected default protocol http, got %q", cfg.Server.Protocol)
	}
}

func TestParse_ProtocolAliases(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"grpc", ProtocolHTTP},
		{"GRPC", ProtocolHTTP},
		{" rpc ", ProtocolHTTP},
		{"http", ProtocolHTTP},
		{"TCP", ProtocolTCP},
	}

	for _, tc := range tests {
		t.Run(tc.token, func(t *testing.T) {
			t.Setenv("DATASENTINEL_PROTOCOL", tc.token)
			cfg, err := Parse([]byte("server:\n  protocol: \"${DATASENTINEL_PROTOCOL}\"\n"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Server.Protocol != tc.want {
				t.Errorf("protocol %q: got %q, want %q", tc.token, cfg.Server.Protocol, tc.want)
			}
		})
	}

	if _, err := Parse([]byte("server:\n  protocol: udp\n")); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for udp, got %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	if !errors.Is(err, domain.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{}
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown protocol", func(c *Config) { c.Server.Protocol = "udp" }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"negative port", func(c *Config) { c.Server.Port = -1 }},
		{"admin port clash", func(c *Config) { c.Admin.Port = c.Server.Port }},
		{"negative device", func(c *Config) { c.Backend.DeviceID = -1 }},
		{"remote cache without addrs", func(c *Config) { c.Engine.RemoteCache.Enabled = true }},
		{"negative ttl", func(c *Config) { c.Engine.RemoteCache.TTLHours = -1 }},
	}

	if err := func() error { c := valid(); return c.Validate() }(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_ShippedConfigs(t *testing.T) {
	for _, env := range []string{"local", "prod"} {
		t.Run(env, func(t *testing.T) {
			t.Setenv("DATASENTINEL_BACKEND", "")
			t.Setenv("DATASENTINEL_PROTOCOL", "")
			cfg, err := Load(env)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Backend.Kind != "onnx" {
				t.Errorf("expected default backend onnx, got %q", cfg.Backend.Kind)
			}
			if cfg.Server.Protocol != ProtocolTCP {
				t.Errorf("expected default protocol tcp, got %q", cfg.Server.Protocol)
			}
			if cfg.Server.Port != 9000 {
				t.Errorf("expected port 9000, got %d", cfg.Server.Port)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("does-not-exist"); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestLoadThreshold(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		return p
	}

	got, err := LoadThreshold(write("ok.json", `{"threshold": 0.05, "extra": "ignored"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.05 {
		t.Errorf("expected 0.05, got %f", got)
	}

	zero, err := LoadThreshold(write("zero.json", `{"threshold": 0}`))
	if err != nil || zero != 0 {
		t.Errorf("expected threshold 0, got %f, %v", zero, err)
	}

	// Any real number is accepted; a negative threshold flags every input.
	negative, err := LoadThreshold(write("negative.json", `{"threshold": -1}`))
	if err != nil || negative != -1 {
		t.Errorf("expected threshold -1, got %f, %v", negative, err)
	}

	bad := map[string]string{
		"missing.json":  `{"limit": 1}`,
		"string.json":   `{"threshold": "0.5"}`,
		"broken.json":   `{"threshold": `,
		"overflow.json": `{"threshold": 1e400}`,
		"null.json":     `{"threshold": null}`,
	}
	for name, body := range bad {
		if _, err := LoadThreshold(write(name, body)); !errors.Is(err, domain.ErrConfigInvalid) {
			t.Errorf("%s: expected ErrConfigInvalid, got %v", name, err)
		}
	}

	if _, err := LoadThreshold(filepath.Join(dir, "absent.json")); !errors.Is(err, domain.ErrConfigInvalid) {
		t.Errorf("expected ErrConfigInvalid for missing file, got %v", err)
	}
}
