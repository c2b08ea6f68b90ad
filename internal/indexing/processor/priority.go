package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrPriorityCollision is returned when two named priorities share a value.
	ErrPriorityCollision = errors.New("priority collision")

	// ErrPriorityOrder is returned when priorities are not declared in ascending order.
	ErrPriorityOrder = errors.New("priorities must be declared in ascending order")

	// ErrUnknownPriority is returned for a name that was not declared.
	ErrUnknownPriority = errors.New("unknown priority")
)

// Priority is one named dispatch slot of a module.
type Priority struct {
	Name  string
	Value int
}

// Priorities is a module's ordered list of dispatch slots, lowest first.
// Lower values run earlier.
type Priorities []Priority

// Validate checks that names and values are unique and values ascend in
// declaration order.
func (p Priorities) Validate() error {
	seenValue := make(map[int]string, len(p))
	seenName := make(map[string]bool, len(p))
	for i, pr := range p {
		if seenName[pr.Name] {
			return fmt.Errorf("%w: name %q declared twice", ErrPriorityCollision, pr.Name)
		}
		seenName[pr.Name] = true

		if other, ok := seenValue[pr.Value]; ok {
			return fmt.Errorf("%w: %q and %q both use %d", ErrPriorityCollision, other, pr.Name, pr.Value)
		}
		seenValue[pr.Value] = pr.Name

		if i > 0 && pr.Value < p[i-1].Value {
			return fmt.Errorf("%w: %q (%d) after %q (%d)",
				ErrPriorityOrder, pr.Name, pr.Value, p[i-1].Name, p[i-1].Value)
		}
	}
	return nil
}

// Value returns the value of the named priority.
func (p Priorities) Value(name string) (int, error) {
	for _, pr := range p {
		if pr.Name == name {
			return pr.Value, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPriority, name)
}
