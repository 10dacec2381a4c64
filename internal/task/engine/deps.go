package engine

import "fmt"

// checkDeps validates dependency ids at submission. Callers hold s.mu.
func (s *Service) checkDeps(id string, deps []string) error {
	for _, d := range deps {
		if d == id {
			return fmt.Errorf("task %s cannot depend on itself", id)
		}
		if s.reg.get(d) == nil {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, d)
		}
	}
	return nil
}

// resolve reports whether every dependency of t completed successfully.
// A non-nil error means a dependency ended in another terminal state and t
// can never run. Callers hold s.mu.
func (s *Service) resolve(t *task) (bool, error) {
	ready := true
	for _, id := range t.deps {
		d := s.reg.get(id)
		if d == nil {
			// Dependencies with live dependents are never evicted.
			return false, fmt.Errorf("%w: %s", ErrUnknownDependency, id)
		}
		switch {
		case d.status == StatusCompleted:
		case d.status.Terminal():
			return false, &DependencyFailedError{TaskID: t.id, Dependency: id, Status: d.status}
		default:
			ready = false
		}
	}
	return ready, nil
}
