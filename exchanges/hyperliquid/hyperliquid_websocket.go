package hyperliquid

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/buger/jsonparser"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/exchanges/account"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/orderbook"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/subscription"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/exchanges/trade"
	"github.com/stratospect/goperps/log"
	"github.com/stratospect/goperps/types"
)

// Venue websocket channel names. Inbound frames repeat the channel in
// their envelope.
const (
	wsChannelTrades         = "trades"
	wsChannelL2Book         = "l2Book"
	wsChannelActiveAssetCtx = "activeAssetCtx"
	wsChannelOrderUpdates   = "orderUpdates"
	wsChannelWebData2       = "webData2"

	wsMethodSubscribe   = "subscribe"
	wsMethodUnsubscribe = "unsubscribe"
)

// wsRequest is the venue's subscription control frame.
type wsRequest struct {
	Method       string         `json:"method"`
	Subscription wsSubscription `json:"subscription"`
}

// wsSubscription identifies one venue channel. Market data channels
// carry a coin, account channels a wallet address.
type wsSubscription struct {
	Type     string `json:"type"`
	Coin     string `json:"coin,omitempty"`
	Interval string `json:"interval,omitempty"`
	User     string `json:"user,omitempty"`
}

// wsTrade is one public execution pushed on the trades channel.
type wsTrade struct {
	Coin string       `json:"coin"`
	Side string       `json:"side"`
	Px   types.Number `json:"px"`
	Sz   types.Number `json:"sz"`
	Hash string       `json:"hash"`
	Time types.Time   `json:"time"`
	Tid  int64        `json:"tid"`
}

// wsActiveAssetCtx carries streaming per-asset market state.
type wsActiveAssetCtx struct {
	Coin string   `json:"coin"`
	Ctx  AssetCtx `json:"ctx"`
}

// wsWebData2 is the aggregate account push; only the clearinghouse
// portion is consumed here.
type wsWebData2 struct {
	ClearinghouseState ClearinghouseState `json:"clearinghouseState"`
}

// wsRoutingKey derives the fan-out key for an inbound frame. Market
// data channels route per coin, account channels on the channel name
// alone. Control frames such as subscription acknowledgements and
// pongs carry no routable key and are shed by the manager.
func wsRoutingKey(msg []byte) (string, bool) {
	channel, err := jsonparser.GetString(msg, "channel")
	if err != nil {
		return "", false
	}
	switch channel {
	case wsChannelTrades:
		coin, err := jsonparser.GetString(msg, "data", "[0]", "coin")
		if err != nil {
			return "", false
		}
		return wsKey(channel, coin), true
	case wsChannelL2Book, wsChannelActiveAssetCtx:
		coin, err := jsonparser.GetString(msg, "data", "coin")
		if err != nil {
			return "", false
		}
		return wsKey(channel, coin), true
	case wsChannelOrderUpdates, wsChannelWebData2:
		return channel, true
	}
	return "", false
}

// wsKey scopes a channel key to one venue coin.
func wsKey(channel, coin string) string {
	return channel + ":" + coin
}

// subscriptionFor builds the control payloads and routing key for one
// channel registration.
func subscriptionFor(symbol currency.Pair, venueSub wsSubscription, authed bool) (*subscription.Subscription, error) {
	subscribe, err := json.Marshal(wsRequest{Method: wsMethodSubscribe, Subscription: venueSub})
	if err != nil {
		return nil, err
	}
	unsubscribe, err := json.Marshal(wsRequest{Method: wsMethodUnsubscribe, Subscription: venueSub})
	if err != nil {
		return nil, err
	}
	key := venueSub.Type
	if venueSub.Coin != "" {
		key = wsKey(venueSub.Type, venueSub.Coin)
	}
	return &subscription.Subscription{
		Key:              key,
		Channel:          venueSub.Type,
		Symbol:           symbol,
		SubscribePayload: subscribe,
		UnsubPayload:     unsubscribe,
		Authenticated:    authed,
	}, nil
}

// subscribe connects the venue socket if it is not already up and
// attaches a consumer to the channel described by venueSub.
func (e *Exchange) subscribe(ctx context.Context, symbol currency.Pair, venueSub wsSubscription, authed bool) (<-chan []byte, error) {
	if err := e.ConnectStream(ctx); err != nil {
		return nil, err
	}
	sub, err := subscriptionFor(symbol, venueSub, authed)
	if err != nil {
		return nil, err
	}
	return e.Websocket.Subscribe(ctx, sub)
}

func (e *Exchange) logBadFrame(channel string, err error) {
	log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Str("channel", channel).Msg("dropping malformed frame")
}

// WatchTicker streams price snapshots for symbol. The channel closes
// when ctx is cancelled or the stream dies.
func (e *Exchange) WatchTicker(ctx context.Context, symbol currency.Pair) (<-chan ticker.Price, error) {
	if err := e.Gate(protocol.WatchTicker); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, symbol, wsSubscription{Type: wsChannelActiveAssetCtx, Coin: coin}, false)
	if err != nil {
		return nil, err
	}
	out := make(chan ticker.Price)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data wsActiveAssetCtx `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelActiveAssetCtx, err)
				continue
			}
			select {
			case out <- tickerFromCtx(symbol, &frame.Data.Ctx):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchOrderBook streams depth snapshots for symbol. Every frame is a
// full book, not a diff.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol currency.Pair) (<-chan orderbook.Book, error) {
	if err := e.Gate(protocol.WatchOrderBook); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, symbol, wsSubscription{Type: wsChannelL2Book, Coin: coin}, false)
	if err != nil {
		return nil, err
	}
	out := make(chan orderbook.Book)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data L2Book `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelL2Book, err)
				continue
			}
			book, err := bookFromL2(symbol, &frame.Data)
			if err != nil {
				e.logBadFrame(wsChannelL2Book, err)
				continue
			}
			select {
			case out <- *book:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchTrades streams public executions for symbol.
func (e *Exchange) WatchTrades(ctx context.Context, symbol currency.Pair) (<-chan trade.Data, error) {
	if err := e.Gate(protocol.WatchTrades); err != nil {
		return nil, err
	}
	coin, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, symbol, wsSubscription{Type: wsChannelTrades, Coin: coin}, false)
	if err != nil {
		return nil, err
	}
	out := make(chan trade.Data)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data []wsTrade `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelTrades, err)
				continue
			}
			for i := range frame.Data {
				t, ok := e.tradeFromWS(&frame.Data[i], symbol)
				if !ok {
					continue
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// tradeFromWS converts one public execution frame.
func (e *Exchange) tradeFromWS(w *wsTrade, symbol currency.Pair) (trade.Data, bool) {
	side, err := order.StringToSide(w.Side)
	if err != nil {
		return trade.Data{}, false
	}
	d := trade.Data{
		ID:        strconv.FormatInt(w.Tid, 10),
		Venue:     e.Name,
		Symbol:    symbol,
		Side:      side,
		Price:     w.Px.Decimal(),
		Amount:    w.Sz.Decimal(),
		Timestamp: w.Time.Time(),
	}
	d.DeriveCost()
	return d, true
}

// WatchPositions streams position updates for the wallet. Every
// account push re-reports each open position.
func (e *Exchange) WatchPositions(ctx context.Context) (<-chan futures.Position, error) {
	if err := e.AuthGate(protocol.WatchPositions); err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, currency.EMPTYPAIR, wsSubscription{Type: wsChannelWebData2, User: e.user}, true)
	if err != nil {
		return nil, err
	}
	out := make(chan futures.Position)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data wsWebData2 `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelWebData2, err)
				continue
			}
			state := &frame.Data.ClearinghouseState
			at := state.Time.Time()
			if at.IsZero() {
				at = time.Now()
			}
			for i := range state.AssetPositions {
				pos, ok := e.positionFromVenue(&state.AssetPositions[i].Position, at)
				if !ok {
					continue
				}
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WatchOrders streams order lifecycle updates for the wallet.
func (e *Exchange) WatchOrders(ctx context.Context) (<-chan order.Detail, error) {
	if err := e.AuthGate(protocol.WatchOrders); err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, currency.EMPTYPAIR, wsSubscription{Type: wsChannelOrderUpdates, User: e.user}, true)
	if err != nil {
		return nil, err
	}
	out := make(chan order.Detail)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data []HistoricalOrder `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelOrderUpdates, err)
				continue
			}
			for i := range frame.Data {
				select {
				case out <- e.orderFromHistorical(&frame.Data[i]):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// WatchBalance streams margin balance updates for the wallet.
func (e *Exchange) WatchBalance(ctx context.Context) (<-chan account.Balance, error) {
	if err := e.AuthGate(protocol.WatchBalance); err != nil {
		return nil, err
	}
	raw, err := e.subscribe(ctx, currency.EMPTYPAIR, wsSubscription{Type: wsChannelWebData2, User: e.user}, true)
	if err != nil {
		return nil, err
	}
	out := make(chan account.Balance)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame struct {
				Data wsWebData2 `json:"data"`
			}
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsChannelWebData2, err)
				continue
			}
			holdings := holdingsFromState(&frame.Data.ClearinghouseState)
			for i := range holdings.Balances {
				select {
				case out <- holdings.Balances[i]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
