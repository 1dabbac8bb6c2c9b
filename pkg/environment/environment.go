package environment

import (
	"fmt"
	"sort"
	"strings"

	"flowherd/pkg/config"
	"flowherd/pkg/engine"
	"flowherd/pkg/transport"
)

// Environment is the immutable pairing of one engine with one file
// transport, identified by a stable id. Tasks record the id so a resumed run
// is guaranteed to use the same environment it started with.
type Environment struct {
	ID        string
	Engine    engine.Engine
	Transport transport.Transport
}

// Registry is the process-wide table of predefined environments, populated
// once at startup and never mutated afterwards.
type Registry struct {
	envs map[string]Environment
}

// NewRegistry builds the registry from configuration. With no configured
// environments a single local shell environment is predefined so the binary
// works out of the box.
func NewRegistry(cfgs []config.EnvConfig) (*Registry, error) {
	if len(cfgs) == 0 {
		cfgs = []config.EnvConfig{{ID: "local", Engine: "shell"}}
	}
	envs := make(map[string]Environment, len(cfgs))
	for _, c := range cfgs {
		if c.ID == "" {
			return nil, fmt.Errorf("environment with empty id")
		}
		if _, dup := envs[c.ID]; dup {
			return nil, fmt.Errorf("duplicate environment id %q", c.ID)
		}
		env, err := build(c)
		if err != nil {
			return nil, err
		}
		envs[c.ID] = env
	}
	return &Registry{envs: envs}, nil
}

func build(c config.EnvConfig) (Environment, error) {
	var eng engine.Engine
	switch c.Engine {
	case "shell", "":
		eng = engine.NewShell(c.ID)
	case "server":
		if c.URL == "" {
			return Environment{}, fmt.Errorf("environment %q: server engine requires a url", c.ID)
		}
		eng = engine.NewServer(c.ID, c.URL, c.Token)
	default:
		return Environment{}, fmt.Errorf("environment %q: unknown engine %q", c.ID, c.Engine)
	}

	var tr transport.Transport
	switch c.Transport {
	case "local", "":
		tr = transport.Local{}
	case "ssh":
		if c.SSH == "" {
			return Environment{}, fmt.Errorf("environment %q: ssh transport requires a connection string", c.ID)
		}
		tr = transport.SSH{Connection: c.SSH}
	default:
		return Environment{}, fmt.Errorf("environment %q: unknown transport %q", c.ID, c.Transport)
	}

	return Environment{ID: c.ID, Engine: eng, Transport: tr}, nil
}

// Get resolves an environment by id; resolution failure is fatal for the
// caller, so the error names the known ids.
func (r *Registry) Get(id string) (Environment, error) {
	env, ok := r.envs[id]
	if !ok {
		return Environment{}, fmt.Errorf("no predefined environment %q (known: %s)", id, strings.Join(r.IDs(), ", "))
	}
	return env, nil
}

// IDs lists the registered environment ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
