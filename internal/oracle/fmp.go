package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teslabit/tradesim/internal/models"
)

// Financial Modeling Prep quote client for the Tesla quote.

type FMPProvider struct {
	cli     *http.Client
	baseURL string
	apiKey  string
}

func NewFMPProvider(baseURL, apiKey string) *FMPProvider {
	return &FMPProvider{
		cli:     &http.Client{Timeout: 8 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (p *FMPProvider) Fetch(ctx context.Context) (models.Quote, error) {
	url := fmt.Sprintf("%s/v3/quote/TSLA?apikey=%s", p.baseURL, p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Quote{}, err
	}

	resp, err := p.cli.Do(req)
	if err != nil {
		return models.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("fmp http %d", resp.StatusCode)
	}

	var raw []struct {
		Price             float64 `json:"price"`
		Change            float64 `json:"change"`
		ChangesPercentage float64 `json:"changesPercentage"`
		Volume            float64 `json:"volume"`
		MarketCap         float64 `json:"marketCap"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Quote{}, err
	}
	if len(raw) == 0 || raw[0].Price <= 0 {
		return models.Quote{}, fmt.Errorf("fmp: empty quote response")
	}

	q := raw[0]
	return models.Quote{
		Asset:            models.AssetTesla,
		Price:            q.Price,
		Change24h:        q.Change,
		ChangePercent24h: q.ChangesPercentage,
		Volume:           q.Volume,
		MarketCap:        q.MarketCap,
		AsOf:             time.Now(),
	}, nil
}
