package refresh

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/reconcile"
	"github.com/i474232898/river-flow-aggregation/internal/river"
)

// FlowStatus tells a reader how far the flow of a station can be trusted.
type FlowStatus string

const (
	FlowAvailable   FlowStatus = "available"
	FlowFetching    FlowStatus = "fetching"
	FlowUnavailable FlowStatus = "unavailable"
)

// StationView is one record plus its flow status and cross-agency aliases.
type StationView struct {
	Record     river.StationRecord `json:"station"`
	FlowStatus FlowStatus          `json:"flowStatus"`
	FlowError  string              `json:"flowError,omitempty"`
	Aliases    []river.StationKey  `json:"aliases"`
}

// Station returns the record under key. When it carries no usable flow the
// per-station flow cycle is started and awaited for at most the flow fetch
// timeout; on failure the previous data is returned unchanged.
func (o *Orchestrator) Station(ctx context.Context, key river.StationKey) (StationView, error) {
	snap := o.Snapshot()
	rec, err := snap.Find(key)
	if err != nil {
		return StationView{}, eris.Wrapf(err, "station %s", key)
	}
	view := StationView{Record: rec, FlowStatus: FlowAvailable, Aliases: snap.Aliases(key)}
	if !rec.NeedsFlow() {
		return view, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.RefreshFlow(ctx, key)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			view.FlowStatus = FlowUnavailable
			view.FlowError = river.Outcome(err)
			return view, nil
		}
		if fresh, err := o.Snapshot().Find(key); err == nil {
			view.Record = fresh
		}
		return view, nil
	case <-o.clock.After(o.cfg.FlowFetchTimeout):
	case <-ctx.Done():
	}
	view.FlowStatus = FlowFetching
	return view, nil
}

// FlowInFlight reports whether a flow fetch for key is running.
func (o *Orchestrator) FlowInFlight(key river.StationKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[key]
	return ok
}

func (o *Orchestrator) markInFlight(key river.StationKey, running bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if running {
		o.inflight[key] = struct{}{}
	} else {
		delete(o.inflight, key)
	}
}

// RefreshFlow fetches the latest flow of one station and merges it. Calls
// for the same key share one fetch. The fetch is detached from the caller's
// cancellation and bounded by the flow fetch timeout; late results still
// merge through the monotonic rule.
func (o *Orchestrator) RefreshFlow(ctx context.Context, key river.StationKey) (reconcile.FlowResult, error) {
	v, err, _ := o.flights.Do(key.String(), func() (any, error) {
		o.markInFlight(key, true)
		defer o.markInFlight(key, false)

		rec, err := o.Snapshot().Find(key)
		if err != nil {
			return reconcile.FlowResult(""), eris.Wrapf(err, "station %s", key)
		}
		src, ok := o.src.Flows[key.Agency]
		if !ok || src == nil {
			return reconcile.FlowResult(""), eris.Wrapf(river.ErrInvalidIdentifier, "no flow source for agency %s", key.Agency)
		}

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlowFetchTimeout)
		defer cancel()
		obs, err := src.FetchFlow(fctx, rec)
		if err != nil {
			zap.L().Warn("flow fetch failed",
				zap.String("component", "refresh"),
				zap.String("station", key.String()),
				zap.String("source", string(src.Kind())),
				zap.Error(err))
			return reconcile.FlowResult(""), err
		}
		return o.rec.ApplyFlowUpdate(key, obs)
	})
	res, _ := v.(reconcile.FlowResult)
	return res, err
}
