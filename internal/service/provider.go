package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yswin-stack/campusride/config"
	"github.com/yswin-stack/campusride/internal/model"
	"github.com/yswin-stack/campusride/pkg/geo"
	"github.com/yswin-stack/campusride/pkg/metrics"
)

// RoutingProvider is the external road-network dependency. Matrix returns
// an estimate for every origin×destination pair in one call; Directions
// returns the full route through the given stops in order.
type RoutingProvider interface {
	Matrix(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error)
	Directions(ctx context.Context, stops []model.Location) (*model.Route, error)
}

// ─── Haversine fallback ─────────────────────────────────────

// HaversineProvider estimates legs from straight-line distance scaled by a
// road factor at a fixed urban speed. It never fails and is fully
// deterministic, which also makes it the provider of choice in tests.
type HaversineProvider struct {
	RoadFactor float64
	SpeedKmph  float64
}

func NewHaversineProvider(roadFactor, speedKmph float64) *HaversineProvider {
	if roadFactor <= 0 {
		roadFactor = 1.3
	}
	if speedKmph <= 0 {
		speedKmph = 25.0
	}
	return &HaversineProvider{RoadFactor: roadFactor, SpeedKmph: speedKmph}
}

func (p *HaversineProvider) leg(from, to model.Location) model.RouteLeg {
	km := geo.HaversineKm(from, to) * p.RoadFactor
	return model.RouteLeg{
		DurationSeconds: int(math.Round(km / p.SpeedKmph * 3600)),
		DistanceMeters:  int(math.Round(km * 1000)),
	}
}

func (p *HaversineProvider) Matrix(_ context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	if len(origins) == 0 || len(destinations) == 0 {
		return nil, ErrProviderError.Msgf("matrix needs at least one origin and destination")
	}
	rows := make([][]model.RouteLeg, len(origins))
	for i, o := range origins {
		rows[i] = make([]model.RouteLeg, len(destinations))
		for j, d := range destinations {
			rows[i][j] = p.leg(o, d)
		}
	}
	return &model.DistanceMatrix{Origins: origins, Destinations: destinations, Rows: rows}, nil
}

func (p *HaversineProvider) Directions(_ context.Context, stops []model.Location) (*model.Route, error) {
	if len(stops) < 2 {
		return nil, ErrProviderError.Msgf("directions needs at least two stops")
	}
	var route model.Route
	for i := 0; i < len(stops)-1; i++ {
		l := p.leg(stops[i], stops[i+1])
		route.DurationSeconds += l.DurationSeconds
		route.DistanceMeters += l.DistanceMeters
	}
	return &route, nil
}

// ─── Timeout + retry wrapper ────────────────────────────────

// resilientProvider enforces a per-call deadline and classifies failures
// into the external error codes. Matrix gets one retry because the whole
// insertion search rides on it; Directions is advisory and gets none.
type resilientProvider struct {
	inner   RoutingProvider
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func (p *resilientProvider) Matrix(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	m, err := p.matrixOnce(ctx, origins, destinations)
	if err == nil {
		metrics.ProviderRequests.WithLabelValues("matrix", "ok").Inc()
		return m, nil
	}
	if ctx.Err() != nil {
		metrics.ProviderRequests.WithLabelValues("matrix", outcomeOf(err)).Inc()
		return nil, err
	}
	p.logger.Warnw("matrix call failed, retrying once", "error", err)
	m, err = p.matrixOnce(ctx, origins, destinations)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues("matrix", outcomeOf(err)).Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues("matrix", "ok").Inc()
	return m, nil
}

func (p *resilientProvider) matrixOnce(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	m, err := p.inner.Matrix(callCtx, origins, destinations)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, classifyProviderErr(err)
	}
	return m, nil
}

func (p *resilientProvider) Directions(ctx context.Context, stops []model.Location) (*model.Route, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	start := time.Now()
	r, err := p.inner.Directions(callCtx, stops)
	metrics.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		err = classifyProviderErr(err)
		metrics.ProviderRequests.WithLabelValues("directions", outcomeOf(err)).Inc()
		return nil, err
	}
	metrics.ProviderRequests.WithLabelValues("directions", "ok").Inc()
	return r, nil
}

func classifyProviderErr(err error) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ErrProviderTimeout.Wrap(err)
	}
	return ErrProviderError.Wrap(err)
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrProviderTimeout) {
		return "timeout"
	}
	return "error"
}

// ─── Rate limiter wrapper ───────────────────────────────────

type rateLimitedProvider struct {
	inner   RoutingProvider
	limiter *rate.Limiter
}

func (p *rateLimitedProvider) Matrix(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ErrProviderTimeout.Wrap(err)
	}
	return p.inner.Matrix(ctx, origins, destinations)
}

func (p *rateLimitedProvider) Directions(ctx context.Context, stops []model.Location) (*model.Route, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, ErrProviderTimeout.Wrap(err)
	}
	return p.inner.Directions(ctx, stops)
}

// ─── Response cache wrapper ─────────────────────────────────

// cachedProvider memoizes responses keyed by rounded coordinates. Cached
// values are shared pointers; callers treat provider results as immutable.
type cachedProvider struct {
	inner RoutingProvider
	store *gocache.Cache
}

func (p *cachedProvider) Matrix(ctx context.Context, origins, destinations []model.Location) (*model.DistanceMatrix, error) {
	key := "m:" + pointsKey(origins) + "|" + pointsKey(destinations)
	if v, ok := p.store.Get(key); ok {
		metrics.ProviderRequests.WithLabelValues("matrix", "cache_hit").Inc()
		return v.(*model.DistanceMatrix), nil
	}
	m, err := p.inner.Matrix(ctx, origins, destinations)
	if err != nil {
		return nil, err
	}
	p.store.SetDefault(key, m)
	return m, nil
}

func (p *cachedProvider) Directions(ctx context.Context, stops []model.Location) (*model.Route, error) {
	key := "d:" + pointsKey(stops)
	if v, ok := p.store.Get(key); ok {
		metrics.ProviderRequests.WithLabelValues("directions", "cache_hit").Inc()
		return v.(*model.Route), nil
	}
	r, err := p.inner.Directions(ctx, stops)
	if err != nil {
		return nil, err
	}
	p.store.SetDefault(key, r)
	return r, nil
}

// pointsKey rounds to ~1m precision so equivalent requests share an entry.
func pointsKey(pts []model.Location) string {
	var b strings.Builder
	for i, pt := range pts {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%.5f,%.5f", pt.Lat, pt.Lng)
	}
	return b.String()
}

// ─── Stack constructor ──────────────────────────────────────

// NewProviderStack wraps a raw provider with the standard hardening:
// timeout and retry innermost, then outbound rate limiting, then a TTL
// response cache outermost so hits skip the limiter entirely.
func NewProviderStack(cfg config.RoutingConfig, inner RoutingProvider, logger *zap.SugaredLogger) RoutingProvider {
	var p RoutingProvider = &resilientProvider{
		inner:   inner,
		timeout: cfg.ProviderTimeout,
		logger:  logger.Named("routing_provider"),
	}
	if cfg.RateLimitPerSec > 0 {
		p = &rateLimitedProvider{
			inner:   p,
			limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		}
	}
	if cfg.CacheTTL > 0 {
		p = &cachedProvider{
			inner: p,
			store: gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		}
	}
	return p
}
