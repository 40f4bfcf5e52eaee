package engine

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/taskweave/taskweave/internal/hookerrors"
	"github.com/taskweave/taskweave/internal/logkeys"
	"github.com/taskweave/taskweave/internal/metrickeys"
	m "github.com/taskweave/taskweave/metrics"
	"github.com/taskweave/taskweave/workflow"
)

type hookResult struct {
	name string
	err  error
}

// runHooks invokes the transition's hooks after the event is durably
// appended. Hooks run concurrently, panic-isolated and retried with
// exponential backoff; the caller waits at most hookWait for them. Failures
// of hooks that finish within the wait are returned as warnings, later
// failures are only logged. A hook can neither roll back nor duplicate the
// recorded transition.
func (e *Engine) runHooks(ctx context.Context, hooks []workflow.Hook, hc *workflow.HookContext) []HookWarning {
	if len(hooks) == 0 {
		return nil
	}

	results := make(chan hookResult, len(hooks))

	for _, h := range hooks {
		h := h

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()

			err := e.runHook(ctx, h, hc)
			if err != nil {
				e.logger.Error("hook failed",
					logkeys.HookKey, h.Name(),
					logkeys.TaskIDKey, hc.Task.String(),
					logkeys.SeqIDKey, hc.SequenceID,
					"error", err,
				)

				e.mc.Counter(metrickeys.HookFailures, m.Tags{metrickeys.Hook: h.Name()}, 1)
			}

			results <- hookResult{name: h.Name(), err: err}
		}()
	}

	timer := e.clock.Timer(e.options.hookWait)
	defer timer.Stop()

	var warnings []HookWarning

	for remaining := len(hooks); remaining > 0; {
		select {
		case r := <-results:
			remaining--
			if r.err != nil {
				warnings = append(warnings, HookWarning{Hook: r.name, Err: r.err})
			}

		case <-timer.C:
			// Slow hooks keep running in the background; their failures are
			// logged above instead of attached to the outcome.
			e.logger.Warn("hooks still running after wait",
				logkeys.TaskIDKey, hc.Task.String(),
				logkeys.SeqIDKey, hc.SequenceID,
			)

			return warnings
		}
	}

	return warnings
}

// runHook executes a single hook with its own deadline, detached from the
// caller's cancellation. The transition is already committed, so canceling
// the ApplyTransition context must not cancel hooks.
func (e *Engine) runHook(ctx context.Context, h workflow.Hook, hc *workflow.HookContext) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.options.hookTimeout)
	defer cancel()

	e.mc.Counter(metrickeys.HookInvocations, m.Tags{metrickeys.Hook: h.Name()}, 1)

	op := func() error {
		err := hookerrors.Run(func() error {
			return h.Run(hctx, hc)
		})

		var pe *hookerrors.PanicError
		if errors.As(err, &pe) {
			// Panics are not retried
			return backoff.Permanent(err)
		}

		return err
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.options.hookRetries), hctx)

	return backoff.Retry(op, bo)
}

// publish hands the committed event to the notification collaborator,
// fire-and-forget with backoff. Publish failures never affect the
// transition result.
func (e *Engine) publish(ctx context.Context, n *workflow.Notification) {
	if e.options.notifier == nil {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.options.publishTimeout)
		defer cancel()

		bo := backoff.WithContext(backoff.NewExponentialBackOff(), pctx)

		if err := backoff.Retry(func() error {
			return e.options.notifier.Publish(pctx, n)
		}, bo); err != nil {
			e.logger.Error("could not publish notification",
				logkeys.TaskIDKey, n.Task.String(),
				logkeys.SeqIDKey, n.SequenceID,
				"error", err,
			)
		}
	}()
}
