package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for the HTTP surface and the
// verification workflow.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	counters     map[string]int64
}

// Counter names for the verification workflow.
const (
	CounterSessionsStarted   = "sessions_started"
	CounterSessionsAccepted  = "sessions_accepted"
	CounterSessionsRejected  = "sessions_rejected"
	CounterSessionsAbandoned = "sessions_abandoned"
	CounterAnswersRejected   = "answers_rejected"
	CounterPersistFailures   = "persist_failures"
	CounterDuplicateEvents   = "duplicate_events"
)

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		counters:     make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// Inc increments a named workflow counter.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// Snapshot returns a copy of all counters for the admin API.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.counters)+len(m.requestCount)+len(m.errorCount))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, v := range m.requestCount {
		out["requests|"+k] = v
	}
	for k, v := range m.errorCount {
		out["errors|"+k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
