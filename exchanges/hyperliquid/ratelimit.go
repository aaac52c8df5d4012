package hyperliquid

import (
	"time"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/exchanges/request"
)

// The venue meters REST traffic through a single aggregated weight
// budget of 1200 per minute per address. Book and account state reads
// cost 2, the remaining info queries cost 20, signed exchange actions
// cost 1.
const (
	rateInterval = time.Minute
	weightBudget = 1200

	lightInfoWeight = 2
	heavyInfoWeight = 20
	exchangeWeight  = 1
)

// Endpoint families drawing on the shared budget.
const (
	infoEPL request.EndpointLimit = iota
	infoHeavyEPL
	exchangeEPL
)

// rateLimits spreads one shared token bucket across the endpoint
// families so their combined spend honours the aggregate budget. A
// config override replaces the bucket dimensions, not the weights.
func rateLimits(cfg *config.RateLimit) request.RateLimitDefinitions {
	interval, budget := rateInterval, weightBudget
	if cfg != nil {
		interval, budget = cfg.Window, cfg.MaxRequests
	}
	pool := request.NewRateLimit(interval, budget)
	return request.RateLimitDefinitions{
		infoEPL:      request.GetRateLimiterWithWeight(pool, lightInfoWeight),
		infoHeavyEPL: request.GetRateLimiterWithWeight(pool, heavyInfoWeight),
		exchangeEPL:  request.GetRateLimiterWithWeight(pool, exchangeWeight),
	}
}
