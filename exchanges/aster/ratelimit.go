package aster

import (
	"time"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/exchanges/request"
)

// The venue meters REST traffic through a request-weight budget of
// 2400 per minute per IP. Weights follow the fapi convention: cheap
// metadata and order management, heavier account and history reads,
// and a steep charge for the unscoped open-orders query.
const (
	rateInterval = time.Minute
	weightBudget = 2400

	metaWeight          = 1
	bookWeight          = 5
	tradesWeight        = 5
	klineWeight         = 5
	premiumWeight       = 1
	fundingWeight       = 1
	tickerWeight        = 2
	accountWeight       = 5
	openOrdersWeight    = 1
	openOrdersAllWeight = 40
	historyWeight       = 5
	orderWeight         = 1
	leverageWeight      = 1
	listenKeyWeight     = 1
)

// Endpoint families drawing on the shared budget.
const (
	metaEPL request.EndpointLimit = iota
	bookEPL
	tradesEPL
	klineEPL
	premiumEPL
	fundingEPL
	tickerEPL
	accountEPL
	openOrdersEPL
	openOrdersAllEPL
	historyEPL
	orderEPL
	leverageEPL
	listenKeyEPL
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
		metaEPL:          request.GetRateLimiterWithWeight(pool, metaWeight),
		bookEPL:          request.GetRateLimiterWithWeight(pool, bookWeight),
		tradesEPL:        request.GetRateLimiterWithWeight(pool, tradesWeight),
		klineEPL:         request.GetRateLimiterWithWeight(pool, klineWeight),
		premiumEPL:       request.GetRateLimiterWithWeight(pool, premiumWeight),
		fundingEPL:       request.GetRateLimiterWithWeight(pool, fundingWeight),
		tickerEPL:        request.GetRateLimiterWithWeight(pool, tickerWeight),
		accountEPL:       request.GetRateLimiterWithWeight(pool, accountWeight),
		openOrdersEPL:    request.GetRateLimiterWithWeight(pool, openOrdersWeight),
		openOrdersAllEPL: request.GetRateLimiterWithWeight(pool, openOrdersAllWeight),
		historyEPL:       request.GetRateLimiterWithWeight(pool, historyWeight),
		orderEPL:         request.GetRateLimiterWithWeight(pool, orderWeight),
		leverageEPL:      request.GetRateLimiterWithWeight(pool, leverageWeight),
		listenKeyEPL:     request.GetRateLimiterWithWeight(pool, listenKeyWeight),
	}
}
