package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/resilience"
)

// dispatch sends decisions to the sinks. Profitable decisions go to the
// persister and every notifier concurrently; non-profitable decisions with a
// best quote are persisted only when PersistNonProfitable is set. Sink errors
// are logged and counted, never returned.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, decisions []model.Decision) {
	var g errgroup.Group
	for i := range decisions {
		d := &decisions[i]
		persist := o.persister != nil && (d.Notify || (o.cfg.PersistNonProfitable && d.Best != nil))
		if !persist && !d.Notify {
			continue
		}
		snapshot := *d

		if persist {
			g.Go(func() error {
				o.callSink(ctx, r, "store", "persist", snapshot, o.persister.Persist)
				return nil
			})
		}
		if !d.Notify {
			continue
		}
		for _, n := range o.notifiers {
			g.Go(func() error {
				o.callSink(ctx, r, n.Name(), "notify", snapshot, n.Notify)
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (o *Orchestrator) callSink(ctx context.Context, r *run, sink, op string, d model.Decision, fn func(context.Context, model.Decision) error) {
	retry := o.cfg.Retry
	retry.OnRetry = resilience.RetryLogger(sink, op)

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.SinkTimeout)
		defer cancel()
		return fn(sctx, d)
	})
	if err == nil {
		return
	}
	r.stats.SinkFailure()
	zap.L().Warn("orchestrator: sink failed",
		zap.String("sink", sink),
		zap.String("operation", op),
		zap.String("decision_id", d.ID),
		zap.String("normalized_name", d.NormalizedName),
		zap.Error(err),
	)
}
