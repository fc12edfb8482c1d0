// Package proxy implements the caching proxy: it answers repeated requests
// from its own cache and forwards everything else to an upstream server.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/pario-ai/linecompute/pkg/audit"
	"github.com/pario-ai/linecompute/pkg/cache/lru"
	"github.com/pario-ai/linecompute/pkg/client"
	"github.com/pario-ai/linecompute/pkg/config"
	"github.com/pario-ai/linecompute/pkg/logging"
	"github.com/pario-ai/linecompute/pkg/metrics"
	"github.com/pario-ai/linecompute/pkg/models"
)

// Role labels metrics and audit entries written by the proxy.
const Role = "proxy"

// Client-facing failure messages.
const (
	msgUnavailable   = "Server unavailable. Cache miss."
	msgCommunication = "Proxy communication error: "
)

// ErrUpstreamUnavailable is returned when the upstream cannot be reached or
// does not answer in time.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Proxy forwards frames to an upstream server with a cache in front.
type Proxy struct {
	cfg     config.ProxyConfig
	cache   *lru.Cache
	metrics *metrics.Metrics
	auditor *audit.Logger
}

// New creates a Proxy. cache may be nil to disable caching; m and a are
// optional.
func New(cfg config.ProxyConfig, cache *lru.Cache, m *metrics.Metrics, a *audit.Logger) *Proxy {
	return &Proxy{cfg: cfg, cache: cache, metrics: m, auditor: a}
}

// Handle answers msg from the cache or by forwarding it upstream. Upstream
// replies pass through with proxy_took_ms added to their meta.
func (p *Proxy) Handle(ctx context.Context, msg models.Message) any {
	start := time.Now()
	mode := models.ModeLabel(msg)

	var key string
	caching := p.cache != nil && models.CacheRequested(msg)
	if caching {
		k, err := models.CacheKey(msg)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("request is not cacheable")
			caching = false
		}
		key = k
	}

	if caching {
		v, ok := p.cache.Get(key)
		p.metrics.CacheLookup(Role, ok)
		if ok {
			resp := models.Success(v, true, time.Since(start))
			p.finish(ctx, msg, mode, metrics.OutcomeOK, resp, start)
			return resp
		}
	}

	upstream, err := p.forward(ctx, msg)
	if err != nil {
		log := zerolog.Ctx(ctx)
		var resp models.Response
		if errors.Is(err, ErrUpstreamUnavailable) {
			log.Warn().Err(err).Str("upstream", p.cfg.Upstream).Msg("upstream unavailable")
			p.metrics.UpstreamFailure("unavailable")
			resp = models.Failure(msgUnavailable)
			p.finish(ctx, msg, mode, metrics.OutcomeUpstreamUnavailable, resp, start)
		} else {
			log.Warn().Err(err).Str("upstream", p.cfg.Upstream).Msg("upstream communication failed")
			p.metrics.UpstreamFailure("communication")
			resp = models.Failure(msgCommunication + err.Error())
			p.finish(ctx, msg, mode, metrics.OutcomeUpstreamError, resp, start)
		}
		return resp
	}

	ok, _ := upstream["ok"].(bool)
	if result, present := upstream["result"]; ok && present && caching {
		p.cache.Set(key, result)
	}

	meta, _ := upstream["meta"].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
		upstream["meta"] = meta
	}
	meta["proxy_took_ms"] = time.Since(start).Milliseconds()

	outcome := metrics.OutcomeOK
	if !ok {
		outcome = metrics.OutcomeUpstreamError
	}
	p.finish(ctx, msg, mode, outcome, upstream, start)
	return upstream
}

// forward performs one exchange with the upstream on a fresh connection.
// Connect failures and timeouts wrap ErrUpstreamUnavailable.
func (p *Proxy) forward(ctx context.Context, msg models.Message) (models.Message, error) {
	if p.cfg.UpstreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.UpstreamTimeout)
		defer cancel()
	}

	conn, err := client.Dial(ctx, p.cfg.Upstream, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer conn.Close()

	resp, err := conn.Do(ctx, msg)
	if err != nil {
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return resp, nil
}

func (p *Proxy) finish(ctx context.Context, msg models.Message, mode, outcome string, resp any, start time.Time) {
	took := time.Since(start)
	p.metrics.ObserveRequest(Role, mode, outcome, took)
	zerolog.Ctx(ctx).Debug().
		Str("mode", mode).
		Str("outcome", outcome).
		Dur("took", took).
		Msg("proxied")

	if p.auditor == nil {
		return
	}
	entry := models.Exchange{
		ConnID:    logging.ConnID(ctx),
		Role:      Role,
		Mode:      mode,
		TookMs:    took.Milliseconds(),
		CreatedAt: time.Now(),
	}
	switch r := resp.(type) {
	case models.Response:
		entry.OK = r.OK
		entry.Error = r.Error
		entry.FromCache = r.Meta != nil && r.Meta.FromCache
	case models.Message:
		entry.OK, _ = r["ok"].(bool)
		entry.Error, _ = r["error"].(string)
	}
	reqText, _ := json.Marshal(msg)
	respText, _ := json.Marshal(resp)
	entry.Request = string(reqText)
	entry.Response = string(respText)

	log := zerolog.Ctx(ctx)
	p.auditor.LogAsync(entry, func(err error) {
		log.Warn().Err(err).Msg("audit log error")
	})
}
