package aggregate

import (
	"context"
	"log"
	"time"

	"github.com/linkgate/linkgate/internal/signal"
)

// DefaultProviderTimeout bounds one detector's wall-clock time.
const DefaultProviderTimeout = 10 * time.Second

// Evaluator fans an evaluation out to every provider concurrently, wraps
// each with an independent timeout, and degrades failures to the provider's
// neutral default. No provider can block another; a timed-out provider is
// not retried within the same evaluation.
type Evaluator struct {
	th        signal.Thresholds
	providers []signal.Provider
	timeout   time.Duration

	// Observe, when set, is called once per provider with its outcome.
	Observe func(kind signal.Kind, elapsed time.Duration, failed bool)
}

func NewEvaluator(th signal.Thresholds, providers []signal.Provider, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Evaluator{th: th, providers: providers, timeout: timeout}
}

// Evaluate runs every provider against rc and aggregates the results.
func (e *Evaluator) Evaluate(ctx context.Context, rc *signal.RequestContext, authenticated bool, captchaScore *float64) SecurityContext {
	results := e.collect(ctx, rc)
	return AggregateWith(e.th, results, authenticated, captchaScore)
}

func (e *Evaluator) collect(ctx context.Context, rc *signal.RequestContext) []signal.Result {
	type outcome struct {
		idx int
		res signal.Result
	}
	ch := make(chan outcome, len(e.providers))

	for i, p := range e.providers {
		go func(idx int, p signal.Provider) {
			start := time.Now()
			res, failed := e.runOne(ctx, p, rc)
			if e.Observe != nil {
				e.Observe(p.Kind(), time.Since(start), failed)
			}
			ch <- outcome{idx: idx, res: res}
		}(i, p)
	}

	results := make([]signal.Result, len(e.providers))
	for range e.providers {
		o := <-ch
		results[o.idx] = o.res
	}
	return results
}

// runOne executes one provider under its own timeout. Errors, timeouts, and
// panics all degrade to the neutral default with an explicit failure flag so
// the aggregator can weigh the blind spot.
func (e *Evaluator) runOne(ctx context.Context, p signal.Provider, rc *signal.RequestContext) (signal.Result, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type reply struct {
		res signal.Result
		err error
	}
	done := make(chan reply, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("detect: provider %s panicked: %v", p.Kind(), r)
				done <- reply{err: context.Canceled}
			}
		}()
		res, err := p.Evaluate(callCtx, rc)
		done <- reply{res: res, err: err}
	}()

	select {
	case <-callCtx.Done():
		log.Printf("detect: provider %s timed out", p.Kind())
		return failedNeutral(p.Kind(), "timeout"), true
	case r := <-done:
		if r.err != nil {
			log.Printf("detect: provider %s failed: %v", p.Kind(), r.err)
			return failedNeutral(p.Kind(), "error"), true
		}
		return r.res, false
	}
}

func failedNeutral(kind signal.Kind, why string) signal.Result {
	res := signal.Neutral(kind)
	res.Evidence = []string{string(kind) + "_detection_failed"}
	res.Category = why
	return res
}
