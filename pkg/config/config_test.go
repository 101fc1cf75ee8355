package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdoroshev/reliudp/pkg/session"
	"github.com/kdoroshev/reliudp/pkg/wire"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reliudp.yml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForMissingFields(t *testing.T) {
	path := writeTemp(t, "role: sender\nvariant: extended\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Window != 16 {
		t.Errorf("Window = %d, want default 16", cfg.Window)
	}
	if cfg.TimeoutMS != 500 {
		t.Errorf("TimeoutMS = %d, want default 500", cfg.TimeoutMS)
	}
	if cfg.MSS != 1000 {
		t.Errorf("MSS = %d, want default 1000", cfg.MSS)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestSessionConfigTranslatesRoleAndVariant(t *testing.T) {
	cfg := Config{Role: "receiver", Variant: "extended", Window: 8, TimeoutMS: 200, MSS: 512}

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig: %v", err)
	}
	if sc.Role != session.RoleReceiver {
		t.Errorf("Role = %v, want RoleReceiver", sc.Role)
	}
	if sc.Variant != wire.VariantExtended {
		t.Errorf("Variant = %v, want VariantExtended", sc.Variant)
	}
	if sc.Timeout != 200*time.Millisecond {
		t.Errorf("Timeout = %v, want 200ms", sc.Timeout)
	}
}

func TestParseRoleRejectsUnknownValue(t *testing.T) {
	cfg := Config{Role: "bogus"}
	if _, err := cfg.ParseRole(); err == nil {
		t.Fatal("expected an error for an unknown role")
	}
}

func TestParseVariantRejectsUnknownValue(t *testing.T) {
	cfg := Config{Variant: "bogus"}
	if _, err := cfg.ParseVariant(); err == nil {
		t.Fatal("expected an error for an unknown variant")
	}
}
