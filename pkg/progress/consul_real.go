//go:build consul

package progress

import (
	"fmt"
	"path/filepath"

	consulapi "github.com/hashicorp/consul/api"
)

// consulStore is a Consul-KV Store backend, keyed by the task directory name
// so a task can be rehydrated from its directory alone. Useful when several
// hosts need read access to task progress; the single-writer rule per task
// still applies.
type consulStore struct {
	cli    *consulapi.Client
	prefix string
}

// NewConsul creates a Consul-backed store (requires build tag consul).
func NewConsul(addr, dir string) (Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	key := filepath.Base(filepath.Clean(dir))
	return &consulStore{cli: cli, prefix: "flowherd/tasks/" + key + "/"}, nil
}

func (s *consulStore) HasCompleted(step Step) (bool, error) {
	kv, _, err := s.cli.KV().Get(s.prefix+"progress/"+string(step), nil)
	if err != nil {
		return false, err
	}
	return kv != nil && string(kv.Value) == "1", nil
}

func (s *consulStore) MarkCompleted(step Step) error {
	_, err := s.cli.KV().Put(&consulapi.KVPair{
		Key:   s.prefix + "progress/" + string(step),
		Value: []byte("1"),
	}, nil)
	return err
}

func (s *consulStore) SetInfo(key InfoKey, value string) error {
	_, err := s.cli.KV().Put(&consulapi.KVPair{
		Key:   s.prefix + "info/" + string(key),
		Value: []byte(value),
	}, nil)
	return err
}

func (s *consulStore) GetInfo(key InfoKey) (string, error) {
	kv, _, err := s.cli.KV().Get(s.prefix+"info/"+string(key), nil)
	if err != nil {
		return "", err
	}
	if kv == nil {
		return "", nil
	}
	return string(kv.Value), nil
}

func (s *consulStore) Close() error { return nil }
