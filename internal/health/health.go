package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/deskbridge/internal/logging"
)

var log = logging.L("health")

type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// Component names reported by the bridge.
const (
	Capture = "capture"
	Input   = "input"
	Bridge  = "bridge"
)

// Check is the latest reported state of one component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor collects component checks. The zero value is not usable; call
// NewMonitor.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		now:    time.Now,
	}
}

// Update records the status of a component. Transitions are logged;
// repeated reports of the same status only refresh the timestamp.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	prev, seen := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: m.now(),
	}
	m.mu.Unlock()

	if seen && prev.Status == status {
		return
	}
	switch status {
	case Healthy:
		if seen {
			log.Info("component recovered", "check", name, "from", string(prev.Status))
		}
	default:
		log.Warn("component health changed", "check", name, "status", string(status), "message", message)
	}
}

func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when
// nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns the checks sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Report is the /healthz body.
type Report struct {
	Status     Status            `json:"status"`
	Components map[string]Status `json:"components"`
	Checks     []Check           `json:"checks"`
}

func (m *Monitor) Summary() Report {
	checks := m.All()
	components := make(map[string]Status, len(checks))
	for _, c := range checks {
		components[c.Name] = c.Status
	}
	return Report{
		Status:     m.Overall(),
		Components: components,
		Checks:     checks,
	}
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
