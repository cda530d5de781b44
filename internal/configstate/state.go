// Package configstate implements the Configuration State Manager (C10):
// a bounded history of ConfigurationSnapshots keyed by monotonic
// version, delta computation by name-and-field equality, and
// rollback-by-version.
package configstate

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cordal/gateway/internal/model"
)

// DefaultHistoryLimit bounds how many past snapshots Manager retains
// before evicting the oldest.
const DefaultHistoryLimit = 20

// Manager holds the live snapshot plus a bounded ring of history.
type Manager struct {
	mu      sync.RWMutex
	live    *model.ConfigurationSnapshot
	history []*model.ConfigurationSnapshot
	limit   int
}

// New creates an empty Manager; call Snapshot once to establish the
// first live configuration.
func New(historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Manager{limit: historyLimit}
}

// Snapshot stores cfg immutably as the new live configuration, retiring
// the previous live snapshot to history, and returns its version ID.
func (m *Manager) Snapshot(cfg *model.ConfigSet) string {
	version := uuid.NewString()
	snap := &model.ConfigurationSnapshot{
		Version:   version,
		Config:    cfg,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live != nil {
		m.history = append(m.history, m.live)
		if len(m.history) > m.limit {
			m.history = m.history[len(m.history)-m.limit:]
		}
	}
	m.live = snap
	return version
}

// Live returns the current live snapshot, or nil if none has been set.
func (m *Manager) Live() *model.ConfigurationSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// History returns the retained past snapshots, oldest first.
func (m *Manager) History() []*model.ConfigurationSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.ConfigurationSnapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Rollback makes the snapshot identified by versionID live again,
// retiring the current live snapshot to history in its place. Rolling
// back to the already-live version is a no-op, so repeated calls with
// the same versionID are idempotent. Returns an error if versionID is
// not found in history or as the live snapshot.
func (m *Manager) Rollback(versionID string) (*model.ConfigurationSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.live != nil && m.live.Version == versionID {
		return m.live, nil
	}

	for i, snap := range m.history {
		if snap.Version == versionID {
			if m.live != nil {
				m.history = append(m.history, m.live)
			}
			m.history = append(m.history[:i], m.history[i+1:]...)
			m.live = snap
			return snap, nil
		}
	}
	return nil, fmt.Errorf("configstate: no snapshot with version %q in history", versionID)
}

// Delta computes the added/updated/removed name sets between the
// current live ConfigSet and next, by name-equality (membership) and
// deep field equality (content change).
func Delta(live, next *model.ConfigSet) *model.ConfigurationDelta {
	d := &model.ConfigurationDelta{}

	if live == nil {
		live = model.NewConfigSet()
	}
	if next == nil {
		next = model.NewConfigSet()
	}

	d.DatabasesAdded, d.DatabasesUpdated, d.DatabasesRemoved = diffMap(live.Databases, next.Databases)
	d.QueriesAdded, d.QueriesUpdated, d.QueriesRemoved = diffMap(live.Queries, next.Queries)
	d.EndpointsAdded, d.EndpointsUpdated, d.EndpointsRemoved = diffMap(live.Endpoints, next.Endpoints)

	return d
}

func diffMap[T any](oldM, newM map[string]T) (added, updated, removed []string) {
	for name, newVal := range newM {
		oldVal, existed := oldM[name]
		if !existed {
			added = append(added, name)
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			updated = append(updated, name)
		}
	}
	for name := range oldM {
		if _, stillThere := newM[name]; !stillThere {
			removed = append(removed, name)
		}
	}
	return added, updated, removed
}

// ValidationReport is the structural-reachability report returned by
// ValidateDelta: every name referenced after applying the delta must
// resolve within the resulting configuration.
type ValidationReport struct {
	Errors    []string
	Warnings  []string
	Successes []string
}

// OK reports whether the report carries no errors.
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0
}

// ValidateDelta checks that every query's databaseName and every
// endpoint's queryName/countQueryName resolves within next, the
// ConfigSet that would result from applying the delta — every
// reference must stay reachable after the change lands.
func ValidateDelta(next *model.ConfigSet) *ValidationReport {
	report := &ValidationReport{}

	for name, q := range next.Queries {
		if _, ok := next.Databases[q.DatabaseName]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("query %q references unknown database %q", name, q.DatabaseName))
			continue
		}
		report.Successes = append(report.Successes, fmt.Sprintf("query %q resolves", name))
	}

	for name, ep := range next.Endpoints {
		if _, ok := next.Queries[ep.QueryName]; !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("endpoint %q references unknown query %q", name, ep.QueryName))
			continue
		}
		if ep.CountQueryName != "" {
			if _, ok := next.Queries[ep.CountQueryName]; !ok {
				report.Errors = append(report.Errors, fmt.Sprintf("endpoint %q references unknown countQuery %q", name, ep.CountQueryName))
				continue
			}
		}
		report.Successes = append(report.Successes, fmt.Sprintf("endpoint %q resolves", name))
	}

	return report
}
