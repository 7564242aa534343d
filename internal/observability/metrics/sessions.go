package metrics

import (
	"fmt"
	"strings"
	"sync"
)

type sessionCollector struct {
	mu       sync.Mutex
	active   int
	evicted  uint64
	failures uint64
	reinits  uint64
}

var sessions = &sessionCollector{}

// SetActiveSessions records the current size of the session pool.
func SetActiveSessions(count int) {
	sessions.mu.Lock()
	sessions.active = count
	sessions.mu.Unlock()
}

// AddEvictedSessions counts sessions removed by the idle sweeper.
func AddEvictedSessions(count int) {
	if count <= 0 {
		return
	}
	sessions.mu.Lock()
	sessions.evicted += uint64(count)
	sessions.mu.Unlock()
}

// IncSessionFailures counts sessions that reached the terminal failed state.
func IncSessionFailures() {
	sessions.mu.Lock()
	sessions.failures++
	sessions.mu.Unlock()
}

// IncSessionReinits counts degraded or stale sessions that were rebuilt.
func IncSessionReinits() {
	sessions.mu.Lock()
	sessions.reinits++
	sessions.mu.Unlock()
}

func (c *sessionCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.WriteString("# HELP biddy_sessions_active Current number of pooled agent sessions.\n")
	builder.WriteString("# TYPE biddy_sessions_active gauge\n")
	builder.WriteString(fmt.Sprintf("biddy_sessions_active %d\n", c.active))

	builder.WriteString("# HELP biddy_sessions_evicted_total Sessions removed by the idle sweeper.\n")
	builder.WriteString("# TYPE biddy_sessions_evicted_total counter\n")
	builder.WriteString(fmt.Sprintf("biddy_sessions_evicted_total %d\n", c.evicted))

	builder.WriteString("# HELP biddy_session_failures_total Sessions that reached the terminal failed state.\n")
	builder.WriteString("# TYPE biddy_session_failures_total counter\n")
	builder.WriteString(fmt.Sprintf("biddy_session_failures_total %d\n", c.failures))

	builder.WriteString("# HELP biddy_session_reinits_total Degraded or stale sessions that were rebuilt.\n")
	builder.WriteString("# TYPE biddy_session_reinits_total counter\n")
	builder.WriteString(fmt.Sprintf("biddy_session_reinits_total %d\n", c.reinits))

	return builder.String()
}
