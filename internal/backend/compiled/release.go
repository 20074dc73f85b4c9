package compiled

import (
	"errors"
	"fmt"
)

// release is one scoped resource. run is idempotent and a no-op for
// resources that were never acquired.
type release struct {
	name string
	fn   func() error
	done bool
}

func (r *release) run() error {
	if r == nil || r.done || r.fn == nil {
		return nil
	}
	r.done = true
	if err := r.fn(); err != nil {
		return fmt.Errorf("release %s: %w", r.name, err)
	}
	return nil
}

// releaseStack releases resources in reverse acquisition order.
type releaseStack struct {
	items []*release
}

func (s *releaseStack) push(name string, fn func() error) *release {
	r := &release{name: name, fn: fn}
	s.items = append(s.items, r)
	return r
}

// unwind runs every pending release, newest first, and joins their errors.
func (s *releaseStack) unwind() error {
	var errs []error
	for i := len(s.items) - 1; i >= 0; i-- {
		if err := s.items[i].run(); err != nil {
			errs = append(errs, err)
		}
	}
	s.items = nil
	return errors.Join(errs...)
}
