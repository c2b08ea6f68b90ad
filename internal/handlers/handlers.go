// Package handlers holds the domain modules that turn contract activity into
// relational rows. Each module registers its callbacks on the session's
// processor registry.
package handlers

import (
	"fmt"

	"github.com/vietddude/filler/internal/indexing/processor"
)

// Module is a domain handler module.
type Module interface {
	// Name identifies the module in logs.
	Name() string

	// Register subscribes the module's callbacks. It fails fast on invalid
	// priorities and registers nothing in that case.
	Register(reg *processor.Registry) ([]processor.Handle, error)
}

// RegisterAll registers every module and returns all handles. On failure the
// handles registered so far are removed again.
func RegisterAll(reg *processor.Registry, modules ...Module) ([]processor.Handle, error) {
	var all []processor.Handle
	for _, m := range modules {
		handles, err := m.Register(reg)
		if err != nil {
			Deregister(reg, all)
			return nil, fmt.Errorf("register %s: %w", m.Name(), err)
		}
		all = append(all, handles...)
	}
	return all, nil
}

// Deregister removes handles from reg.
func Deregister(reg *processor.Registry, handles []processor.Handle) {
	for _, h := range handles {
		reg.Deregister(h)
	}
}
