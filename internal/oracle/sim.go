package oracle

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/teslabit/tradesim/internal/models"
)

// Seed prices for the simulated walk, matching the platform's display
// defaults before the first real quote arrives.
const (
	seedBitcoinPrice = 43250.50
	seedTeslaPrice   = 248.42
)

// Simulator produces a bounded-volatility random walk used only when the
// real price APIs are unreachable. Each step moves the previous price by a
// uniform factor in [-volatility, +volatility] and clamps at a floor so a
// long outage cannot walk a price to zero.
type Simulator struct {
	mu         sync.Mutex
	rng        *rand.Rand
	volatility float64
	price      map[models.Asset]float64
	floor      map[models.Asset]float64
}

// NewSimulator creates a simulator seeded with the default prices. The floor
// is half the seed price.
func NewSimulator(volatility float64) *Simulator {
	seeds := map[models.Asset]float64{
		models.AssetBitcoin: seedBitcoinPrice,
		models.AssetTesla:   seedTeslaPrice,
	}
	floors := make(map[models.Asset]float64, len(seeds))
	for asset, seed := range seeds {
		floors[asset] = seed / 2
	}
	return &Simulator{
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		volatility: volatility,
		price:      seeds,
		floor:      floors,
	}
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}

// Next advances the walk for asset one step and returns the resulting quote,
// always marked Stale.
func (s *Simulator) Next(asset models.Asset) models.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.price[asset]
	next := prev * (1 + (s.rng.Float64()*2-1)*s.volatility)
	if floor := s.floor[asset]; next < floor {
		next = floor
	}
	next = round(next, 2)
	s.price[asset] = next

	change := round(next-prev, 2)
	var pct float64
	if prev > 0 {
		pct = round(change/prev*100, 2)
	}
	return models.Quote{
		Asset:            asset,
		Price:            next,
		Change24h:        change,
		ChangePercent24h: pct,
		AsOf:             time.Now(),
		Stale:            true,
	}
}
