package httpapi

import (
	"github.com/cordal/gateway/internal/configstate"
	"github.com/cordal/gateway/internal/model"
)

// queryView adapts a configstate.Manager's live snapshot to
// dispatch.Queries, so the Dispatcher (C8) never sees the manager's
// broader surface (history, rollback, snapshot writes).
type queryView struct {
	state *configstate.Manager
}

func (v *queryView) Query(name string) (*model.QueryDefinition, bool) {
	live := v.state.Live()
	if live == nil || live.Config == nil {
		return nil, false
	}
	q, ok := live.Config.Queries[name]
	return q, ok
}
