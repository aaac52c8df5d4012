// Package protocol enumerates the operations a venue adapter can
// service and the support level of each.
package protocol

import "sort"

// State describes how an operation is serviced. Emulated operations
// are synthesized client-side from other venue endpoints.
type State uint8

const (
	Unsupported State = iota
	Supported
	Emulated
)

func (s State) String() string {
	switch s {
	case Supported:
		return "supported"
	case Emulated:
		return "emulated"
	default:
		return "unsupported"
	}
}

// Operation identifies one entry in the capability map.
type Operation string

const (
	FetchMarkets            Operation = "fetchMarkets"
	FetchTicker             Operation = "fetchTicker"
	FetchOrderBook          Operation = "fetchOrderBook"
	FetchTrades             Operation = "fetchTrades"
	FetchOHLCV              Operation = "fetchOHLCV"
	FetchFundingRate        Operation = "fetchFundingRate"
	FetchFundingRateHistory Operation = "fetchFundingRateHistory"
	FetchPositions          Operation = "fetchPositions"
	FetchBalance            Operation = "fetchBalance"
	FetchOpenOrders         Operation = "fetchOpenOrders"
	FetchOrderHistory       Operation = "fetchOrderHistory"
	FetchMyTrades           Operation = "fetchMyTrades"
	CreateOrder             Operation = "createOrder"
	CancelOrder             Operation = "cancelOrder"
	CancelAllOrders         Operation = "cancelAllOrders"
	SetLeverage             Operation = "setLeverage"
	WatchTicker             Operation = "watchTicker"
	WatchOrderBook          Operation = "watchOrderBook"
	WatchTrades             Operation = "watchTrades"
	WatchPositions          Operation = "watchPositions"
	WatchOrders             Operation = "watchOrders"
	WatchBalance            Operation = "watchBalance"
)

// Features maps operations to their support level. Operations absent
// from the map are unsupported.
type Features map[Operation]State

// Get returns the support level for op.
func (f Features) Get(op Operation) State {
	return f[op]
}

// Supports reports whether op can be called, natively or emulated.
func (f Features) Supports(op Operation) bool {
	s := f[op]
	return s == Supported || s == Emulated
}

// Clone returns an independent copy so callers cannot mutate an
// adapter's capability table.
func (f Features) Clone() Features {
	out := make(Features, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Operations lists the map's keys sorted lexically.
func (f Features) Operations() []Operation {
	out := make([]Operation, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
