package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/teslabit/tradesim/internal/models"
)

// CoinGecko simple-price client for the Bitcoin quote.

type CoinGeckoProvider struct {
	cli     *http.Client
	baseURL string
	apiKey  string
}

func NewCoinGeckoProvider(baseURL, apiKey string) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		cli:     &http.Client{Timeout: 8 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (p *CoinGeckoProvider) Fetch(ctx context.Context) (models.Quote, error) {
	url := p.baseURL + "/api/v3/simple/price?ids=bitcoin&vs_currencies=usd&include_24hr_change=true&include_24hr_vol=true"
	if p.apiKey != "" {
		url += "&x_cg_pro_api_key=" + p.apiKey
	}

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
		return models.Quote{}, fmt.Errorf("coingecko http %d", resp.StatusCode)
	}

	var raw struct {
		Bitcoin struct {
			USD          float64 `json:"usd"`
			USD24hChange float64 `json:"usd_24h_change"`
			USD24hVol    float64 `json:"usd_24h_vol"`
		} `json:"bitcoin"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Quote{}, err
	}
	if raw.Bitcoin.USD <= 0 {
		return models.Quote{}, fmt.Errorf("coingecko: missing bitcoin price")
	}

	return models.Quote{
		Asset:            models.AssetBitcoin,
		Price:            raw.Bitcoin.USD,
		Change24h:        raw.Bitcoin.USD * (raw.Bitcoin.USD24hChange / 100),
		ChangePercent24h: raw.Bitcoin.USD24hChange,
		Volume:           raw.Bitcoin.USD24hVol,
		AsOf:             time.Now(),
	}, nil
}
