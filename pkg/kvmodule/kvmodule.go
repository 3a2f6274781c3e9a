// Package kvmodule is a minimal example Execute host-function module: a
// per-table in-memory key/value map, registered under module name
// "kv" with functions "put", "get", and "scan". It exists to give the
// readlang GET/SCAN grammar and the control API's Execute path something
// concrete to drive; a real deployment registers its own domain modules
// against pkg/registry the same way.
package kvmodule

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lumapart/raftengine/pkg/backend"
	"github.com/lumapart/raftengine/pkg/logpos"
	"github.com/lumapart/raftengine/pkg/registry"
)

// Store is a per-table in-memory key/value map. It is intentionally not
// durable: Execute results are not required to be replayed on backend
// recovery (spec.md's invariants only bind backend.Position/last_applied,
// not host-function side state), so a real domain module would persist
// its own state through whatever storage it chooses.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// New builds an empty Store.
func New() *Store {
	return &Store{tables: make(map[string]map[string][]byte)}
}

func (s *Store) table(name string) map[string][]byte {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string][]byte)
		s.tables[name] = t
	}
	return t
}

// Register installs the "kv" module's put/get/scan functions into reg.
func (s *Store) Register(reg *registry.Registry) {
	reg.Register("kv", "put", s.put)
	reg.Register("kv", "get", s.get)
	reg.Register("kv", "scan", s.scan)
}

func (s *Store) put(_ context.Context, _ backend.Handle, _ logpos.Position, table string, args []byte) ([]byte, error) {
	key, value, _ := bytes.Cut(args, []byte("="))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(table)[string(key)] = append([]byte(nil), value...)
	return nil, nil
}

func (s *Store) get(_ context.Context, _ backend.Handle, _ logpos.Position, table string, args []byte) ([]byte, error) {
	// table() lazily creates an entry in s.tables on a miss, which is a
	// map write; it must never run under a read lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table(table)[string(args)], nil
}

// scan expects args of the form "start..end" and returns matching keys
// newline-joined with their values, sorted by key.
func (s *Store) scan(_ context.Context, _ backend.Handle, _ logpos.Position, table string, args []byte) ([]byte, error) {
	start, end, _ := strings.Cut(string(args), "..")

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	keys := make([]string, 0, len(t))
	for k := range t {
		if k >= start && (end == "" || k <= end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var out bytes.Buffer
	for _, k := range keys {
		out.WriteString(k)
		out.WriteByte('=')
		out.Write(t[k])
		out.WriteByte('\n')
	}
	return out.Bytes(), nil
}
