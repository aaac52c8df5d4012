package aster

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/account"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/margin"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/orderbook"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/stream"
	"github.com/stratospect/goperps/exchanges/subscription"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/exchanges/trade"
	"github.com/stratospect/goperps/log"
)

// Websocket stream suffixes and the event types their frames carry.
const (
	wsMethodSubscribe   = "SUBSCRIBE"
	wsMethodUnsubscribe = "UNSUBSCRIBE"

	wsStreamAggTrade = "@aggTrade"
	wsStreamDepth    = "@depth20@100ms"
	wsStreamTicker   = "@ticker"

	wsEventAggTrade      = "aggTrade"
	wsEventDepthUpdate   = "depthUpdate"
	wsEventTicker        = "24hrTicker"
	wsEventOrderUpdate   = "ORDER_TRADE_UPDATE"
	wsEventAccountUpdate = "ACCOUNT_UPDATE"

	// listenKeyKeepAlive is the session extension cadence. Untouched
	// keys expire after sixty minutes.
	listenKeyKeepAlive = 30 * time.Minute
)

// userStream owns the listen-key socket. The socket is dialled on the
// first private subscription and torn down with the adapter.
type userStream struct {
	cfg config.Websocket

	mu      sync.Mutex
	manager *stream.Manager
	stop    context.CancelFunc
}

// marketRoutingKey derives the fan-out key for a market socket frame.
// Data events carry their type in "e" and their contract in "s";
// command acknowledgements carry neither and are shed by the manager.
func marketRoutingKey(msg []byte) (string, bool) {
	event, err := jsonparser.GetString(msg, "e")
	if err != nil {
		return "", false
	}
	symbol, err := jsonparser.GetString(msg, "s")
	if err != nil {
		return "", false
	}
	return wsKey(event, symbol), true
}

// userRoutingKey routes listen-key socket frames on the event type
// alone; the session already scopes them to one account.
func userRoutingKey(msg []byte) (string, bool) {
	event, err := jsonparser.GetString(msg, "e")
	if err != nil {
		return "", false
	}
	return event, true
}

// wsKey scopes an event type to one contract.
func wsKey(event, symbol string) string {
	return event + ":" + symbol
}

// marketSubscription builds the control payloads and routing key for
// one market stream. Stream names are lowercase, event frames repeat
// the contract uppercase.
func (e *Exchange) marketSubscription(symbol currency.Pair, venueSymbol, event, suffix string) (*subscription.Subscription, error) {
	name := strings.ToLower(venueSymbol) + suffix
	subscribe, err := json.Marshal(wsCommand{Method: wsMethodSubscribe, Params: []string{name}, ID: e.wsID.Add(1)})
	if err != nil {
		return nil, err
	}
	unsubscribe, err := json.Marshal(wsCommand{Method: wsMethodUnsubscribe, Params: []string{name}, ID: e.wsID.Add(1)})
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Key:              wsKey(event, venueSymbol),
		Channel:          event,
		Symbol:           symbol,
		SubscribePayload: subscribe,
		UnsubPayload:     unsubscribe,
	}, nil
}

// subscribeMarket connects the market socket if it is not already up
// and attaches a consumer to one stream.
func (e *Exchange) subscribeMarket(ctx context.Context, symbol currency.Pair, event, suffix string) (<-chan []byte, error) {
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.ConnectStream(ctx); err != nil {
		return nil, err
	}
	sub, err := e.marketSubscription(symbol, venueSymbol, event, suffix)
	if err != nil {
		return nil, err
	}
	return e.Websocket.Subscribe(ctx, sub)
}

// ensureUserStream returns the listen-key socket manager, opening the
// session and dialling on first use.
func (e *Exchange) ensureUserStream(ctx context.Context) (*stream.Manager, error) {
	e.userStream.mu.Lock()
	defer e.userStream.mu.Unlock()
	if e.userStream.manager != nil {
		return e.userStream.manager, nil
	}
	key, err := e.CreateListenKey(ctx)
	if err != nil {
		return nil, err
	}
	client, err := stream.NewClient(stream.Config{
		Venue:     venueName,
		URL:       e.wsAPI + "/ws/" + key,
		Websocket: e.userStream.cfg,
		Verbose:   e.Verbose,
	})
	if err != nil {
		return nil, err
	}
	manager, err := stream.NewManager(client, userRoutingKey, e.userStream.cfg.SubscriptionBuffer)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	keepCtx, cancel := e.RequestContext(context.Background())
	go e.keepUserStreamAlive(keepCtx)
	e.userStream.manager = manager
	e.userStream.stop = cancel
	return manager, nil
}

// keepUserStreamAlive extends the listen-key session on the venue's
// half-hour cadence until the adapter disconnects.
func (e *Exchange) keepUserStreamAlive(ctx context.Context) {
	t := time.NewTicker(listenKeyKeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := e.KeepAliveListenKey(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Msg("listen key keepalive failed")
			}
		}
	}
}

// closeUserStream shuts the listen-key socket and releases the session.
// Safe to call with no stream up.
func (e *Exchange) closeUserStream() {
	e.userStream.mu.Lock()
	manager := e.userStream.manager
	stop := e.userStream.stop
	e.userStream.manager = nil
	e.userStream.stop = nil
	e.userStream.mu.Unlock()
	if manager == nil {
		return
	}
	if stop != nil {
		stop()
	}
	if err := manager.Client().Shutdown(); err != nil && !errors.Is(err, stream.ErrNotConnected) {
		log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Msg("user stream shutdown")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.CloseListenKey(ctx); err != nil {
		log.WebsocketMgr.Debug().Err(err).Str("venue", e.Name).Msg("listen key close failed")
	}
}

// subscribeUser attaches a consumer to one private event type. The
// listen-key socket pushes every session event unsolicited, so the
// subscription carries no control payloads.
func (e *Exchange) subscribeUser(ctx context.Context, event string) (<-chan []byte, error) {
	manager, err := e.ensureUserStream(ctx)
	if err != nil {
		return nil, err
	}
	return manager.Subscribe(ctx, &subscription.Subscription{
		Key:           event,
		Channel:       event,
		Authenticated: true,
	})
}

func (e *Exchange) logBadFrame(event string, err error) {
	log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Str("event", event).Msg("dropping malformed frame")
}

// WatchTicker streams price snapshots for symbol. The day ticker event
// carries no top of book, so Bid and Ask stay unset.
func (e *Exchange) WatchTicker(ctx context.Context, symbol currency.Pair) (<-chan ticker.Price, error) {
	if err := e.Gate(protocol.WatchTicker); err != nil {
		return nil, err
	}
	raw, err := e.subscribeMarket(ctx, symbol, wsEventTicker, wsStreamTicker)
	if err != nil {
		return nil, err
	}
	out := make(chan ticker.Price)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsTicker
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventTicker, err)
				continue
			}
			select {
			case out <- tickerFromStream(symbol, &frame):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchOrderBook streams depth snapshots for symbol. The partial depth
// stream pushes the twenty best levels as a full replacement.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol currency.Pair) (<-chan orderbook.Book, error) {
	if err := e.Gate(protocol.WatchOrderBook); err != nil {
		return nil, err
	}
	raw, err := e.subscribeMarket(ctx, symbol, wsEventDepthUpdate, wsStreamDepth)
	if err != nil {
		return nil, err
	}
	out := make(chan orderbook.Book)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsDepth
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventDepthUpdate, err)
				continue
			}
			book, err := bookFromWSDepth(symbol, &frame)
			if err != nil {
				e.logBadFrame(wsEventDepthUpdate, err)
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
	raw, err := e.subscribeMarket(ctx, symbol, wsEventAggTrade, wsStreamAggTrade)
	if err != nil {
		return nil, err
	}
	out := make(chan trade.Data)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsAggTrade
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventAggTrade, err)
				continue
			}
			select {
			case out <- tradeFromAgg(symbol, &frame):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchOrders streams order lifecycle updates for the account.
func (e *Exchange) WatchOrders(ctx context.Context) (<-chan order.Detail, error) {
	if err := e.AuthGate(protocol.WatchOrders); err != nil {
		return nil, err
	}
	raw, err := e.subscribeUser(ctx, wsEventOrderUpdate)
	if err != nil {
		return nil, err
	}
	out := make(chan order.Detail)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsOrderUpdate
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventOrderUpdate, err)
				continue
			}
			select {
			case out <- e.orderFromWS(&frame):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchPositions streams position updates for the account. Flat rows
// reported on close are skipped, matching the poll surface.
func (e *Exchange) WatchPositions(ctx context.Context) (<-chan futures.Position, error) {
	if err := e.AuthGate(protocol.WatchPositions); err != nil {
		return nil, err
	}
	raw, err := e.subscribeUser(ctx, wsEventAccountUpdate)
	if err != nil {
		return nil, err
	}
	out := make(chan futures.Position)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsAccountUpdate
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventAccountUpdate, err)
				continue
			}
			at := frame.EventTime.Time()
			if at.IsZero() {
				at = time.Now()
			}
			for i := range frame.Account.Positions {
				pos, ok := e.positionFromWS(&frame.Account.Positions[i], at)
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

// WatchBalance streams margin balance updates for the account.
func (e *Exchange) WatchBalance(ctx context.Context) (<-chan account.Balance, error) {
	if err := e.AuthGate(protocol.WatchBalance); err != nil {
		return nil, err
	}
	raw, err := e.subscribeUser(ctx, wsEventAccountUpdate)
	if err != nil {
		return nil, err
	}
	out := make(chan account.Balance)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsAccountUpdate
			if err := json.Unmarshal(msg, &frame); err != nil {
				e.logBadFrame(wsEventAccountUpdate, err)
				continue
			}
			for i := range frame.Account.Balances {
				select {
				case out <- balanceFromWS(&frame.Account.Balances[i]):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// tickerFromStream converts one day ticker event.
func tickerFromStream(symbol currency.Pair, f *wsTicker) ticker.Price {
	return ticker.Price{
		Venue:       venueName,
		Symbol:      symbol,
		Last:        f.LastPrice.Decimal(),
		High:        f.HighPrice.Decimal(),
		Low:         f.LowPrice.Decimal(),
		Volume:      f.Volume.Decimal(),
		QuoteVolume: f.QuoteVolume.Decimal(),
		Timestamp:   f.EventTime.Time(),
	}
}

// bookFromWSDepth converts one partial depth event.
func bookFromWSDepth(symbol currency.Pair, f *wsDepth) (*orderbook.Book, error) {
	book := &orderbook.Book{
		Venue:     venueName,
		Symbol:    symbol,
		Bids:      levelsFromTuples(f.Bids),
		Asks:      levelsFromTuples(f.Asks),
		Timestamp: f.EventTime.Time(),
	}
	if err := book.Validate(); err != nil {
		return nil, errs.Wrap(venueName, errs.ErrBadResponse, err)
	}
	return book, nil
}

// tradeFromAgg converts one aggregated trade event. The maker flag
// names the resting side, so a buyer-maker print was a sell-side taker.
func tradeFromAgg(symbol currency.Pair, f *wsAggTrade) trade.Data {
	side := order.Buy
	if f.IsBuyerMaker {
		side = order.Sell
	}
	d := trade.Data{
		ID:        strconv.FormatInt(f.AggTradeID, 10),
		Venue:     venueName,
		Symbol:    symbol,
		Side:      side,
		Price:     f.Price.Decimal(),
		Amount:    f.Quantity.Decimal(),
		Timestamp: f.TradeTime.Time(),
	}
	d.DeriveCost()
	return d
}

// orderFromWS converts one order lifecycle event.
func (e *Exchange) orderFromWS(u *wsOrderUpdate) order.Detail {
	o := &u.Order
	symbol, _ := e.PairFromVenue(o.Symbol)
	side, _ := order.StringToSide(o.Side)
	tif, _ := order.StringToTimeInForce(o.TimeInForce)
	amount := o.OrigQty.Decimal()
	filled := o.FilledQty.Decimal()
	at := o.TradeTime.Time()
	if at.IsZero() {
		at = u.EventTime.Time()
	}
	wireType := o.OrigType
	if wireType == "" {
		wireType = o.Type
	}
	return order.Detail{
		ID:               strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:    o.ClientOrderID,
		Venue:            venueName,
		Symbol:           symbol,
		Type:             orderTypeFromVenue(wireType),
		Side:             side,
		Amount:           amount,
		Price:            o.Price.Decimal(),
		TriggerPrice:     o.StopPrice.Decimal(),
		AverageFillPrice: o.AvgPrice.Decimal(),
		Filled:           filled,
		Remaining:        amount.Sub(filled),
		Fee:              o.Commission.Decimal(),
		Status:           orderStatusFromVenue(o.Status),
		TimeInForce:      tif,
		PostOnly:         strings.EqualFold(o.TimeInForce, tifGtx),
		ReduceOnly:       o.ReduceOnly,
		Timestamp:        at,
	}
}

// positionFromWS converts one position row inside an account event.
// The event omits mark, liquidation price and leverage.
func (e *Exchange) positionFromWS(p *wsPosition, at time.Time) (futures.Position, bool) {
	side, size := futures.SideFromSize(p.PositionAmt.Decimal())
	if side == futures.UnknownSide {
		return futures.Position{}, false
	}
	symbol, err := e.PairFromVenue(p.Symbol)
	if err != nil {
		return futures.Position{}, false
	}
	mode, err := margin.StringToMarginType(p.MarginType)
	if err != nil {
		mode = margin.Unset
	}
	return futures.Position{
		Venue:         venueName,
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    p.EntryPrice.Decimal(),
		UnrealisedPNL: p.UnrealizedPnl.Decimal(),
		MarginMode:    mode,
		Timestamp:     at,
	}, true
}

// balanceFromWS converts one balance row inside an account event. The
// event carries wallet and cross wallet balances only; the difference
// is margin locked in isolated positions.
func balanceFromWS(b *wsBalance) account.Balance {
	total := b.WalletBalance.Decimal()
	free := b.CrossWalletBalance.Decimal()
	if free.GreaterThan(total) {
		free = total
	}
	return account.Balance{
		Currency: currency.NewCode(b.Asset),
		Total:    total,
		Free:     free,
		Used:     total.Sub(free),
	}
}
