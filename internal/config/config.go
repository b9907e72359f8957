package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	DatabaseURL      string        `env:"DATABASE_URL,required"`
	Port             string        `env:"PORT" envDefault:"8080"`
	CORSOrigin       string        `env:"CORS_ORIGIN" envDefault:"*"`
	JWTSecret        string        `env:"JWT_SECRET,required"`
	CoinGeckoURL     string        `env:"COINGECKO_URL" envDefault:"https://api.coingecko.com"`
	CoinGeckoAPIKey  string        `env:"COINGECKO_API_KEY"`
	FMPURL           string        `env:"FMP_URL" envDefault:"https://financialmodelingprep.com/api"`
	FMPAPIKey        string        `env:"FMP_API_KEY" envDefault:"demo"`
	BitcoinQuoteTTL  time.Duration `env:"BITCOIN_QUOTE_TTL" envDefault:"60s"`
	TeslaQuoteTTL    time.Duration `env:"TESLA_QUOTE_TTL" envDefault:"30s"`
	SimVolatility    float64       `env:"SIM_VOLATILITY" envDefault:"0.01"`
	OverviewCacheTTL time.Duration `env:"OVERVIEW_CACHE_TTL" envDefault:"60s"`
	BroadcastEvery   time.Duration `env:"BROADCAST_EVERY" envDefault:"5s"`
}

func Load() (Config, error) {
	var cfg Config
	return cfg, env.Parse(&cfg)
}
