package backpack

import (
	"time"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/exchanges/request"
)

// The venue meters REST traffic per API key over rolling ten-second
// windows. History queries weigh heavier than live-state reads.
const (
	rateInterval  = 10 * time.Second
	requestBudget = 100

	publicWeight  = 1
	accountWeight = 1
	orderWeight   = 1
	historyWeight = 5
)

// Endpoint families drawing on the shared budget.
const (
	publicEPL request.EndpointLimit = iota
	accountEPL
	orderEPL
	historyEPL
)

// rateLimits spreads one shared token bucket across the endpoint
// families so their combined spend honours the aggregate budget. A
// config override replaces the bucket dimensions, not the weights.
func rateLimits(cfg *config.RateLimit) request.RateLimitDefinitions {
	interval, budget := rateInterval, requestBudget
	if cfg != nil {
		interval, budget = cfg.Window, cfg.MaxRequests
	}
	pool := request.NewRateLimit(interval, budget)
	return request.RateLimitDefinitions{
		publicEPL:  request.GetRateLimiterWithWeight(pool, publicWeight),
		accountEPL: request.GetRateLimiterWithWeight(pool, accountWeight),
		orderEPL:   request.GetRateLimiterWithWeight(pool, orderWeight),
		historyEPL: request.GetRateLimiterWithWeight(pool, historyWeight),
	}
}
