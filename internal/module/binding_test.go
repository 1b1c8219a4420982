package module

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type ServerSettings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type coreSettings struct {
	ServerSettings `mapstructure:",squash"`
	Role           string        `mapstructure:"role"`
	Refresh        time.Duration `mapstructure:"refreshInterval"`
	Enabled        bool          `mapstructure:"enabled"`
	Peers          []string      `mapstructure:"peers"`
}

func TestBindConfig_FlattensEmbeddedAndConvertsTypes(t *testing.T) {
	cfg := &coreSettings{Role: "Mixed"}

	unused, err := BindConfig(cfg, Properties{
		"host":            "10.0.0.1",
		"port":            "11800",
		"refreshInterval": "5s",
		"enabled":         "true",
		"peers":           "a,b",
		"legacyThreads":   8,
		"aLegacyFlag":     true,
	})
	if err != nil {
		t.Fatalf("BindConfig error: %v", err)
	}

	want := &coreSettings{
		ServerSettings: ServerSettings{Host: "10.0.0.1", Port: 11800},
		Role:           "Mixed",
		Refresh:        5 * time.Second,
		Enabled:        true,
		Peers:          []string{"a", "b"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("unexpected config (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"aLegacyFlag", "legacyThreads"}, unused); diff != "" {
		t.Fatalf("unexpected unused keys (-want +got):\n%s", diff)
	}
}

func TestBindConfig_EmptyPropertiesKeepsDefaults(t *testing.T) {
	cfg := &coreSettings{Role: "Receiver"}
	unused, err := BindConfig(cfg, nil)
	if err != nil {
		t.Fatalf("BindConfig error: %v", err)
	}
	if len(unused) != 0 || cfg.Role != "Receiver" {
		t.Fatalf("unexpected result: unused=%v cfg=%+v", unused, cfg)
	}
}
