package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthStatus represents the health status
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck tests one dependency. A nil error means healthy.
type HealthCheck struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Func     func(ctx context.Context) error
}

// HealthResult represents the result of a health check
type HealthResult struct {
	Status   HealthStatus  `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SystemStatus represents overall health. A failing critical check makes the
// system unhealthy; any other failure degrades it.
type SystemStatus struct {
	OverallStatus  HealthStatus            `json:"status"`
	CheckResults   map[string]HealthResult `json:"checks"`
	CriticalIssues []string                `json:"critical_issues,omitempty"`
	LastCheck      time.Time               `json:"last_check"`
	Uptime         time.Duration           `json:"uptime"`
}

// HealthMonitor runs registered checks on demand
type HealthMonitor struct {
	logger    *logrus.Logger
	timeout   time.Duration
	startTime time.Time
	mu        sync.RWMutex
	checks    map[string]HealthCheck
}

// NewHealthMonitor creates a monitor. timeout applies to checks without one.
func NewHealthMonitor(timeout time.Duration, logger *logrus.Logger) *HealthMonitor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		logger:    logger,
		timeout:   timeout,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheck),
	}
}

// RegisterCheck adds or replaces a check by name
func (hm *HealthMonitor) RegisterCheck(check HealthCheck) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[check.Name] = check
}

// Check runs every check concurrently and aggregates the results
func (hm *HealthMonitor) Check(ctx context.Context) *SystemStatus {
	hm.mu.RLock()
	checks := make([]HealthCheck, 0, len(hm.checks))
	for _, c := range hm.checks {
		checks = append(checks, c)
	}
	hm.mu.RUnlock()

	results := make([]HealthResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c HealthCheck) {
			defer wg.Done()
			results[i] = hm.executeCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	status := &SystemStatus{
		OverallStatus: StatusHealthy,
		CheckResults:  make(map[string]HealthResult, len(checks)),
		LastCheck:     time.Now(),
		Uptime:        time.Since(hm.startTime),
	}
	for i, c := range checks {
		status.CheckResults[c.Name] = results[i]
		if results[i].Status != StatusUnhealthy {
			continue
		}
		if c.Critical {
			status.CriticalIssues = append(status.CriticalIssues, c.Name)
			status.OverallStatus = StatusUnhealthy
		} else if status.OverallStatus == StatusHealthy {
			status.OverallStatus = StatusDegraded
		}
	}
	sort.Strings(status.CriticalIssues)
	return status
}

func (hm *HealthMonitor) executeCheck(ctx context.Context, check HealthCheck) HealthResult {
	timeout := check.Timeout
	if timeout == 0 {
		timeout = hm.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check.Func(ctx)
	result := HealthResult{Status: StatusHealthy, Duration: time.Since(start)}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		hm.logger.WithFields(logrus.Fields{
			"check":    check.Name,
			"critical": check.Critical,
			"duration": result.Duration,
		}).WithError(err).Warn("Health check failed")
	}
	return result
}
