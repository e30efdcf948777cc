package health

import (
	"context"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Service encapsulates health-related checks.
type Service struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewService constructs a new health service.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{checks: map[string]Check{}, timeout: timeout}
}

// Register adds a named dependency check. Nil checks are ignored.
func (s *Service) Register(name string, check Check) {
	if check == nil {
		return
	}
	s.checks[name] = check
}

// Report is the health payload. OK is false when any check fails.
type Report struct {
	OK           bool              `json:"ok"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Status runs every check under one bound and reports the results.
func (s *Service) Status(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{OK: true}
	if len(names) > 0 {
		report.Dependencies = make(map[string]string, len(names))
	}
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			report.OK = false
			report.Dependencies[name] = "down: " + err.Error()
			continue
		}
		report.Dependencies[name] = "up"
	}
	return report
}
