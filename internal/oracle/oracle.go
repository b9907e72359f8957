package oracle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teslabit/tradesim/internal/models"
)

var (
	ErrUnknownAsset     = errors.New("unknown asset")
	ErrPriceUnavailable = errors.New("price unavailable")
)

// Provider fetches a fresh quote for a single asset from an upstream API.
type Provider interface {
	Fetch(ctx context.Context) (models.Quote, error)
}

type cached struct {
	quote     models.Quote
	fetched   time.Time
	simulated bool
}

// Oracle serves current prices for the assets the platform trades. Quotes
// are cached per asset for a TTL; when the upstream call fails the oracle
// degrades to the last-known quote, and with no last-known quote to a local
// random-walk simulation. Degraded quotes carry Stale=true but remain usable
// by callers.
type Oracle struct {
	providers map[models.Asset]Provider
	ttl       map[models.Asset]time.Duration
	sim       *Simulator
	logger    *zap.Logger

	mu   sync.RWMutex
	last map[models.Asset]cached
}

// New creates an oracle over the given providers. sim may be nil, in which
// case an upstream failure with an empty cache surfaces ErrPriceUnavailable.
func New(providers map[models.Asset]Provider, ttl map[models.Asset]time.Duration, sim *Simulator, logger *zap.Logger) *Oracle {
	return &Oracle{
		providers: providers,
		ttl:       ttl,
		sim:       sim,
		logger:    logger,
		last:      make(map[models.Asset]cached),
	}
}

// GetQuote returns the current quote for asset. The result is a snapshot:
// callers apply it consistently within a single operation and never re-fetch
// mid-operation.
func (o *Oracle) GetQuote(ctx context.Context, asset models.Asset) (models.Quote, error) {
	provider, ok := o.providers[asset]
	if !ok {
		return models.Quote{}, ErrUnknownAsset
	}

	o.mu.RLock()
	c, hit := o.last[asset]
	o.mu.RUnlock()
	if hit && time.Since(c.fetched) < o.ttlFor(asset) {
		return c.quote, nil
	}

	quote, err := provider.Fetch(ctx)
	if err == nil {
		o.mu.Lock()
		o.last[asset] = cached{quote: quote, fetched: time.Now()}
		o.mu.Unlock()
		return quote, nil
	}
	o.logger.Warn("price fetch failed",
		zap.String("asset", string(asset)), zap.Error(err))

	// Degraded path: last-known real quote first, then simulation. A cached
	// simulated quote keeps walking instead of freezing at one value.
	if hit && !c.simulated {
		stale := c.quote
		stale.Stale = true
		return stale, nil
	}
	if o.sim == nil {
		return models.Quote{}, ErrPriceUnavailable
	}
	sim := o.sim.Next(asset)
	o.mu.Lock()
	o.last[asset] = cached{quote: sim, simulated: true}
	o.mu.Unlock()
	return sim, nil
}

func (o *Oracle) ttlFor(asset models.Asset) time.Duration {
	if d, ok := o.ttl[asset]; ok {
		return d
	}
	return 30 * time.Second
}
