// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package health runs named checks and aggregates their results. The local
// API serves liveness from Live and readiness from Run.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but needs attention.
	StatusDegraded Status = "degraded"
)

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one check. Checks talking to card terminals may block
// until the connector answers; ctx bounds them.
type CheckFunc func(ctx context.Context) CheckResult

// Report is the result of one run over all checks.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
	Uptime time.Duration `json:"uptime"`
}

type namedCheck struct {
	name  string
	check CheckFunc
}

// Checker holds checks in registration order. Checks run one after another
// because they share the connector and its card terminals.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    []namedCheck
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{startTime: time.Now()}
}

// RegisterCheck adds check under name, replacing an existing one in place.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].check = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks = append(c.checks[:i], c.checks[i+1:]...)
			return
		}
	}
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.checks))
	for i, nc := range c.checks {
		names[i] = nc.name
	}
	return names
}

// MarkStarted marks the service as ready to serve.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkNotStarted is used during shutdown.
func (c *Checker) MarkNotStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// IsStarted reports whether MarkStarted was called.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Live reports process liveness. It never touches the connector.
func (c *Checker) Live(context.Context) CheckResult {
	if !c.IsStarted() {
		return CheckResult{Name: "liveness", Status: StatusDegraded, Message: "starting"}
	}
	return CheckResult{Name: "liveness", Status: StatusHealthy, Message: "alive"}
}

// Run executes every check in registration order. A cancelled ctx marks the
// remaining checks unhealthy without running them.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	started := c.startTime
	c.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks))
	for _, nc := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, CheckResult{
				Name:   nc.name,
				Status: StatusUnhealthy,
				Error:  err.Error(),
			})
			continue
		}
		start := time.Now()
		result := nc.check(ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = nc.name
		}
		results = append(results, result)
	}

	return Report{
		Status: AggregateStatus(results),
		Checks: results,
		Uptime: time.Since(started).Round(time.Second),
	}
}

// AggregateStatus returns unhealthy if any result is unhealthy, degraded if
// any is degraded and healthy otherwise.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
