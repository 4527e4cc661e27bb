// health.go - Component health checks served at /health.

package service

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the health of one component or of the whole daemon.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        time.Duration     `json:"uptime"`
	Version       string            `json:"version"`
}

// HealthCheck reports a component failure as an error. A check may return
// ErrDegraded to mark the component degraded rather than unhealthy.
type HealthCheck func() error

type degradedError struct{ msg string }

func (e degradedError) Error() string { return e.msg }

// ErrDegraded returns an error that marks a component degraded.
func ErrDegraded(msg string) error { return degradedError{msg: msg} }

// HealthChecker runs registered checks on demand.
type HealthChecker struct {
	mu        sync.Mutex
	checks    map[string]HealthCheck
	startTime time.Time
	version   string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
		version:   version,
	}
}

func (hc *HealthChecker) Register(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// Check runs every check and aggregates the results. Components are sorted by name.
func (hc *HealthChecker) Check() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.checks))
	for name, check := range hc.checks {
		start := time.Now()
		err := check()
		c := ComponentHealth{Name: name, Status: Healthy, Message: "OK", LastCheck: time.Now(), Latency: time.Since(start)}
		if err != nil {
			c.Message = err.Error()
			c.Status = Unhealthy
			if _, ok := err.(degradedError); ok {
				c.Status = Degraded
			}
		}
		switch {
		case c.Status == Unhealthy:
			overall = Unhealthy
		case c.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		components = append(components, c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime),
		Version:       hc.version,
	}
}

// RegisterDefaultChecks adds the ledger and threat checks for s, and a p2p check when s
// has a payment network.
func (hc *HealthChecker) RegisterDefaultChecks(s *Service) {
	hc.Register("ledger", func() error {
		_, err := s.store.Stats()
		return err
	})
	hc.Register("threat", func() error {
		if s.ThreatStatus().QuantumDefenseActive {
			return ErrDegraded("quantum defense active")
		}
		return nil
	})
	if s.network != nil {
		hc.Register("p2p", func() error { return checkNetwork(s.network) })
	}
}
