// Package dispatch routes validated requests to the calc or gpt backend with
// a cache-aside lookup in front of both.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/linecompute/pkg/audit"
	"github.com/pario-ai/linecompute/pkg/cache/lru"
	"github.com/pario-ai/linecompute/pkg/expr"
	"github.com/pario-ai/linecompute/pkg/generate"
	"github.com/pario-ai/linecompute/pkg/logging"
	"github.com/pario-ai/linecompute/pkg/metrics"
	"github.com/pario-ai/linecompute/pkg/models"
)

// Role labels metrics and audit entries written by the dispatcher.
const Role = "server"

// ErrNoGenerator is reported for gpt requests when no generator is configured.
var ErrNoGenerator = errors.New("no text generator configured")

// Dispatcher computes responses for decoded messages.
type Dispatcher struct {
	cache   *lru.Cache
	gen     generate.Generator
	metrics *metrics.Metrics
	auditor *audit.Logger
}

// New creates a Dispatcher. cache may be nil to disable caching, and gen may
// be nil, in which case gpt requests fail with a backend error. m and a are
// optional.
func New(cache *lru.Cache, gen generate.Generator, m *metrics.Metrics, a *audit.Logger) *Dispatcher {
	return &Dispatcher{cache: cache, gen: gen, metrics: m, auditor: a}
}

// Handle lets a Dispatcher serve connections directly.
func (d *Dispatcher) Handle(ctx context.Context, msg models.Message) any {
	return d.Dispatch(ctx, msg)
}

// Dispatch produces the response for one message. Every outcome, failures
// included, reports how long it took.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Message) models.Response {
	start := time.Now()
	log := zerolog.Ctx(ctx)

	req, err := models.ParseRequest(msg)
	if err != nil {
		resp := models.TimedFailure(err.Error(), time.Since(start))
		d.finish(ctx, msg, models.ModeLabel(msg), metrics.OutcomeBadRequest, resp, start)
		return resp
	}
	mode := string(req.Mode())

	var key string
	caching := req.Options.Cache && d.cache != nil
	if caching {
		key, err = models.CacheKey(msg)
		if err != nil {
			log.Warn().Err(err).Msg("request is not cacheable")
			caching = false
		}
	}

	if caching {
		v, ok := d.cache.Get(key)
		d.metrics.CacheLookup(Role, ok)
		if ok {
			resp := models.Success(v, true, time.Since(start))
			d.finish(ctx, msg, mode, metrics.OutcomeOK, resp, start)
			return resp
		}
	}

	result, outcome, failure := d.compute(ctx, req)
	if outcome != metrics.OutcomeOK {
		resp := models.TimedFailure(failure, time.Since(start))
		d.finish(ctx, msg, mode, outcome, resp, start)
		return resp
	}

	if caching {
		d.cache.Set(key, result)
	}
	resp := models.Success(result, false, time.Since(start))
	d.finish(ctx, msg, mode, outcome, resp, start)
	return resp
}

// compute runs the backend selected by the request payload. On failure it
// returns the outcome label and the client-facing message.
func (d *Dispatcher) compute(ctx context.Context, req models.Request) (result any, outcome, failure string) {
	switch p := req.Payload.(type) {
	case models.CalcPayload:
		v, err := expr.Eval(p.Expr)
		if err != nil {
			return nil, metrics.OutcomeEvalError, "Server error: " + err.Error()
		}
		return v, metrics.OutcomeOK, ""
	case models.GptPayload:
		if d.gen == nil {
			return nil, metrics.OutcomeBackendError, "Backend error: " + ErrNoGenerator.Error()
		}
		text, err := d.gen.Generate(ctx, p.Prompt)
		if err != nil {
			return nil, metrics.OutcomeBackendError, "Backend error: " + err.Error()
		}
		return text, metrics.OutcomeOK, ""
	default:
		return nil, metrics.OutcomeBadRequest, "Bad request: unknown mode"
	}
}

func (d *Dispatcher) finish(ctx context.Context, msg models.Message, mode, outcome string, resp models.Response, start time.Time) {
	took := time.Since(start)
	d.metrics.ObserveRequest(Role, mode, outcome, took)

	fromCache := resp.Meta != nil && resp.Meta.FromCache
	zerolog.Ctx(ctx).Debug().
		Str("mode", mode).
		Str("outcome", outcome).
		Bool("from_cache", fromCache).
		Dur("took", took).
		Msg("dispatched")

	if d.auditor == nil {
		return
	}
	reqText, _ := json.Marshal(msg)
	respText, _ := json.Marshal(resp)
	entry := models.Exchange{
		ConnID:    logging.ConnID(ctx),
		Role:      Role,
		Mode:      mode,
		OK:        resp.OK,
		FromCache: fromCache,
		Error:     resp.Error,
		Request:   string(reqText),
		Response:  string(respText),
		TookMs:    took.Milliseconds(),
		CreatedAt: time.Now(),
	}
	log := zerolog.Ctx(ctx)
	d.auditor.LogAsync(entry, func(err error) {
		log.Warn().Err(err).Msg("audit log error")
	})
}
