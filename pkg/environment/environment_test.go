package environment

import (
	"strings"
	"testing"

	"flowherd/pkg/config"
)

func TestDefaultRegistryHasLocalShell(t *testing.T) {
	reg, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	env, err := reg.Get("local")
	if err != nil {
		t.Fatalf("get local: %v", err)
	}
	if env.Engine == nil || env.Transport == nil {
		t.Fatalf("incomplete environment: %+v", env)
	}
}

func TestUnknownEnvironmentIsFatal(t *testing.T) {
	reg, err := NewRegistry([]config.EnvConfig{{ID: "hpc", Engine: "shell"}})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Get("cloud")
	if err == nil {
		t.Fatal("unknown id resolved")
	}
	if !strings.Contains(err.Error(), "hpc") {
		t.Fatalf("error should name known ids: %v", err)
	}
}

func TestRegistryRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfgs []config.EnvConfig
	}{
		{"duplicate id", []config.EnvConfig{{ID: "a", Engine: "shell"}, {ID: "a", Engine: "shell"}}},
		{"server without url", []config.EnvConfig{{ID: "a", Engine: "server"}}},
		{"unknown engine", []config.EnvConfig{{ID: "a", Engine: "spark"}}},
		{"ssh without connection", []config.EnvConfig{{ID: "a", Engine: "shell", Transport: "ssh"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.cfgs); err == nil {
				t.Fatal("bad config accepted")
			}
		})
	}
}
