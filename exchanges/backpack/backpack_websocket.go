package backpack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/shopspring/decimal"

	"github.com/stratospect/goperps/currency"
	"github.com/stratospect/goperps/errs"
	"github.com/stratospect/goperps/exchanges/account"
	"github.com/stratospect/goperps/exchanges/auth"
	"github.com/stratospect/goperps/exchanges/futures"
	"github.com/stratospect/goperps/exchanges/margin"
	"github.com/stratospect/goperps/exchanges/order"
	"github.com/stratospect/goperps/exchanges/orderbook"
	"github.com/stratospect/goperps/exchanges/protocol"
	"github.com/stratospect/goperps/exchanges/subscription"
	"github.com/stratospect/goperps/exchanges/ticker"
	"github.com/stratospect/goperps/exchanges/trade"
	"github.com/stratospect/goperps/log"
	"github.com/stratospect/goperps/types"
)

// Stream control verbs and name prefixes. Market streams scope to one
// contract as "<prefix>.<symbol>"; private streams ride the same
// socket, scoped to the account by the signature inside the subscribe
// frame.
const (
	wsMethodSubscribe   = "SUBSCRIBE"
	wsMethodUnsubscribe = "UNSUBSCRIBE"

	wsStreamTicker = "ticker"
	wsStreamDepth  = "depth"
	wsStreamTrade  = "trade"

	wsStreamOrderUpdate    = "account.orderUpdate"
	wsStreamPositionUpdate = "account.positionUpdate"
)

// wsRoutingKey derives the fan-out key for a socket frame. Data frames
// echo their stream name; command acknowledgements carry none and are
// shed by the manager.
func wsRoutingKey(msg []byte) (string, bool) {
	stream, err := jsonparser.GetString(msg, "stream")
	if err != nil || stream == "" {
		return "", false
	}
	return stream, true
}

// unwrapFrame decodes the data payload out of the stream envelope.
func unwrapFrame(msg []byte, v any) error {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	return json.Unmarshal(env.Data, v)
}

// streamName scopes a market stream prefix to one contract.
func streamName(prefix, venueSymbol string) string {
	return prefix + "." + venueSymbol
}

// marketSubscription builds the control payloads and routing key for
// one market stream.
func marketSubscription(symbol currency.Pair, name string) (*subscription.Subscription, error) {
	subscribe, err := json.Marshal(wsCommand{Method: wsMethodSubscribe, Params: []string{name}})
	if err != nil {
		return nil, err
	}
	unsubscribe, err := json.Marshal(wsCommand{Method: wsMethodUnsubscribe, Params: []string{name}})
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Key:              name,
		Channel:          name,
		Symbol:           symbol,
		SubscribePayload: subscribe,
		UnsubPayload:     unsubscribe,
	}, nil
}

// subscribeMarket connects the socket if it is not already up and
// attaches a consumer to one market stream.
func (e *Exchange) subscribeMarket(ctx context.Context, symbol currency.Pair, venueSymbol, prefix string) (<-chan []byte, error) {
	if err := e.ConnectStream(ctx); err != nil {
		return nil, err
	}
	sub, err := marketSubscription(symbol, streamName(prefix, venueSymbol))
	if err != nil {
		return nil, err
	}
	return e.Websocket.Subscribe(ctx, sub)
}

// signedCommand builds one signed control frame. The signature rides
// inside the frame itself, so it is built at send time and every
// replay after a reconnect carries a fresh timestamp.
func (e *Exchange) signedCommand(method, stream string) ([]byte, error) {
	env := auth.NewEnvelope(method, "")
	env.Instruction = instructionSubscribe
	if err := e.signer.Sign(context.Background(), env); err != nil {
		return nil, err
	}
	return json.Marshal(wsCommand{
		Method: method,
		Params: []string{stream},
		Signature: []string{
			env.Headers[auth.HeaderAPIKey],
			env.Headers[auth.HeaderSignature],
			env.Headers[auth.HeaderTimestamp],
			env.Headers[auth.HeaderWindow],
		},
	})
}

// subscribePrivate attaches a consumer to one account stream.
func (e *Exchange) subscribePrivate(ctx context.Context, stream string) (<-chan []byte, error) {
	if err := e.ConnectStream(ctx); err != nil {
		return nil, err
	}
	return e.Websocket.Subscribe(ctx, &subscription.Subscription{
		Key:           stream,
		Channel:       stream,
		Authenticated: true,
		SubscribeFunc: func() ([]byte, error) { return e.signedCommand(wsMethodSubscribe, stream) },
		UnsubFunc:     func() ([]byte, error) { return e.signedCommand(wsMethodUnsubscribe, stream) },
	})
}

func (e *Exchange) logBadFrame(stream string, err error) {
	log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Str("stream", stream).Msg("dropping malformed frame")
}

// WatchTicker streams price snapshots for symbol. The day ticker event
// carries no top of book, so Bid and Ask stay unset.
func (e *Exchange) WatchTicker(ctx context.Context, symbol currency.Pair) (<-chan ticker.Price, error) {
	if err := e.Gate(protocol.WatchTicker); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribeMarket(ctx, symbol, venueSymbol, wsStreamTicker)
	if err != nil {
		return nil, err
	}
	out := make(chan ticker.Price)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsTicker
			if err := unwrapFrame(msg, &frame); err != nil {
				e.logBadFrame(wsStreamTicker, err)
				continue
			}
			select {
			case out <- tickerFromWS(symbol, &frame):
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
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribeMarket(ctx, symbol, venueSymbol, wsStreamTrade)
	if err != nil {
		return nil, err
	}
	out := make(chan trade.Data)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsTrade
			if err := unwrapFrame(msg, &frame); err != nil {
				e.logBadFrame(wsStreamTrade, err)
				continue
			}
			select {
			case out <- tradeFromWS(symbol, &frame):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchOrderBook streams depth snapshots for symbol. The venue pushes
// diffs, so a REST snapshot seeds a locally maintained book and every
// applied diff emits a fresh copy. Lost frames force a reseed.
func (e *Exchange) WatchOrderBook(ctx context.Context, symbol currency.Pair) (<-chan orderbook.Book, error) {
	if err := e.Gate(protocol.WatchOrderBook); err != nil {
		return nil, err
	}
	venueSymbol, err := e.SymbolToVenue(symbol)
	if err != nil {
		return nil, err
	}
	raw, err := e.subscribeMarket(ctx, symbol, venueSymbol, wsStreamDepth)
	if err != nil {
		return nil, err
	}
	out := make(chan orderbook.Book)
	go e.runBookSync(ctx, symbol, venueSymbol, raw, out)
	return out, nil
}

func (e *Exchange) runBookSync(ctx context.Context, symbol currency.Pair, venueSymbol string, raw <-chan []byte, out chan<- orderbook.Book) {
	defer close(out)
	var book *localBook
	for msg := range raw {
		var frame wsDepth
		if err := unwrapFrame(msg, &frame); err != nil {
			e.logBadFrame(wsStreamDepth, err)
			continue
		}
		if book == nil {
			seeded, err := e.seedBook(ctx, venueSymbol)
			if err != nil {
				log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Str("symbol", venueSymbol).Msg("order book seed failed")
				continue
			}
			book = seeded
		}
		applied, err := book.apply(&frame)
		if err != nil {
			log.WebsocketMgr.Warn().Err(err).Str("venue", e.Name).Str("symbol", venueSymbol).Msg("order book out of sync, reseeding")
			book = nil
			continue
		}
		if !applied {
			continue
		}
		at := frame.EngineTime.Time()
		if at.IsZero() {
			at = time.Now()
		}
		snap := book.snapshot(symbol, at)
		if err := snap.Validate(); err != nil {
			e.logBadFrame(wsStreamDepth, err)
			book = nil
			continue
		}
		select {
		case out <- snap:
		case <-ctx.Done():
			return
		}
	}
}

// seedBook loads the REST snapshot that diff frames fold into.
func (e *Exchange) seedBook(ctx context.Context, venueSymbol string) (*localBook, error) {
	d, err := e.GetDepth(ctx, venueSymbol)
	if err != nil {
		return nil, err
	}
	bids := levelsFromTuples(d.Bids)
	slices.Reverse(bids)
	return &localBook{
		lastID: d.LastUpdateID.Decimal().IntPart(),
		bids:   bids,
		asks:   levelsFromTuples(d.Asks),
	}, nil
}

var errBookGap = errors.New("depth update gap")

// localBook maintains one contract's depth from the diff stream.
type localBook struct {
	lastID int64
	bids   orderbook.Levels
	asks   orderbook.Levels
}

// apply folds one diff into the book. Updates at or before the seeded
// snapshot are stale and skip silently; a sequence gap means lost
// frames and forces a reseed.
func (b *localBook) apply(f *wsDepth) (bool, error) {
	if f.LastUpdateID <= b.lastID {
		return false, nil
	}
	if f.FirstUpdateID > b.lastID+1 {
		return false, fmt.Errorf("%w: have %d, update starts at %d", errBookGap, b.lastID, f.FirstUpdateID)
	}
	b.bids = applyDiff(b.bids, f.Bids, true)
	b.asks = applyDiff(b.asks, f.Asks, false)
	b.lastID = f.LastUpdateID
	return true, nil
}

// snapshot returns an independent copy safe to hand to consumers.
func (b *localBook) snapshot(symbol currency.Pair, at time.Time) orderbook.Book {
	return orderbook.Book{
		Venue:     venueName,
		Symbol:    symbol,
		Bids:      slices.Clone(b.bids),
		Asks:      slices.Clone(b.asks),
		Timestamp: at,
	}
}

// applyDiff upserts [price, quantity] changes into a sorted side. Zero
// quantity deletes the level.
func applyDiff(side orderbook.Levels, changes [][2]types.Number, descending bool) orderbook.Levels {
	for i := range changes {
		price := changes[i][0].Decimal()
		qty := changes[i][1].Decimal()
		at, found := slices.BinarySearchFunc(side, price, func(l orderbook.Level, p decimal.Decimal) int {
			if descending {
				return p.Cmp(l.Price)
			}
			return l.Price.Cmp(p)
		})
		switch {
		case qty.IsZero():
			if found {
				side = slices.Delete(side, at, at+1)
			}
		case found:
			side[at].Amount = qty
		default:
			side = slices.Insert(side, at, orderbook.Level{Price: price, Amount: qty})
		}
	}
	return side
}

// WatchOrders streams order lifecycle updates for the account.
func (e *Exchange) WatchOrders(ctx context.Context) (<-chan order.Detail, error) {
	if err := e.AuthGate(protocol.WatchOrders); err != nil {
		return nil, err
	}
	raw, err := e.subscribePrivate(ctx, wsStreamOrderUpdate)
	if err != nil {
		return nil, err
	}
	out := make(chan order.Detail)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsOrderUpdate
			if err := unwrapFrame(msg, &frame); err != nil {
				e.logBadFrame(wsStreamOrderUpdate, err)
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

// WatchPositions streams position updates for the account. Closed
// positions report a zero net quantity and are skipped, matching the
// poll surface.
func (e *Exchange) WatchPositions(ctx context.Context) (<-chan futures.Position, error) {
	if err := e.AuthGate(protocol.WatchPositions); err != nil {
		return nil, err
	}
	raw, err := e.subscribePrivate(ctx, wsStreamPositionUpdate)
	if err != nil {
		return nil, err
	}
	out := make(chan futures.Position)
	go func() {
		defer close(out)
		for msg := range raw {
			var frame wsPosition
			if err := unwrapFrame(msg, &frame); err != nil {
				e.logBadFrame(wsStreamPositionUpdate, err)
				continue
			}
			pos, ok := e.positionFromWS(&frame)
			if !ok {
				continue
			}
			select {
			case out <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchBalance is a capability gap: the venue pushes no balance
// events, so the gate reports it unsupported.
func (e *Exchange) WatchBalance(_ context.Context) (<-chan account.Balance, error) {
	if err := e.AuthGate(protocol.WatchBalance); err != nil {
		return nil, err
	}
	return nil, errs.New(venueName, errs.ErrNotSupported, "balance stream")
}

// tickerFromWS converts one day ticker event.
func tickerFromWS(symbol currency.Pair, f *wsTicker) ticker.Price {
	return ticker.Price{
		Venue:       venueName,
		Symbol:      symbol,
		Last:        f.Close.Decimal(),
		High:        f.High.Decimal(),
		Low:         f.Low.Decimal(),
		Volume:      f.Volume.Decimal(),
		QuoteVolume: f.QuoteVolume.Decimal(),
		Timestamp:   f.EventTime.Time(),
	}
}

// tradeFromWS converts one public trade event. The maker flag names
// the resting side, so a buyer-maker print was a sell-side taker.
func tradeFromWS(symbol currency.Pair, f *wsTrade) trade.Data {
	side := order.Buy
	if f.IsBuyerMaker {
		side = order.Sell
	}
	at := f.EngineTime.Time()
	if at.IsZero() {
		at = f.EventTime.Time()
	}
	d := trade.Data{
		ID:        strconv.FormatInt(f.TradeID, 10),
		Venue:     venueName,
		Symbol:    symbol,
		Side:      side,
		Price:     f.Price.Decimal(),
		Amount:    f.Quantity.Decimal(),
		Timestamp: at,
	}
	d.DeriveCost()
	return d
}

// orderFromWS converts one order lifecycle event. Like the poll
// surface, the average fill price derives from the executed quote
// quantity.
func (e *Exchange) orderFromWS(u *wsOrderUpdate) order.Detail {
	symbol, _ := e.PairFromVenue(u.Symbol)
	side, _ := order.StringToSide(u.Side)
	tif, _ := order.StringToTimeInForce(u.TimeInForce)
	amount := u.Quantity.Decimal()
	filled := u.ExecutedQty.Decimal()
	trigger := u.TriggerPrice.Decimal()
	at := u.EngineTime.Time()
	if at.IsZero() {
		at = u.EventTime.Time()
	}
	d := order.Detail{
		ID:           u.OrderID,
		Venue:        venueName,
		Symbol:       symbol,
		Type:         orderTypeFromVenue(u.OrderType, !trigger.IsZero()),
		Side:         side,
		Amount:       amount,
		Price:        u.Price.Decimal(),
		TriggerPrice: trigger,
		Filled:       filled,
		Remaining:    amount.Sub(filled),
		Fee:          u.Fee.Decimal(),
		Status:       orderStatusFromVenue(u.Status),
		TimeInForce:  tif,
		Timestamp:    at,
	}
	if u.ClientID != 0 {
		d.ClientOrderID = strconv.FormatUint(uint64(u.ClientID), 10)
	}
	if filled.IsPositive() {
		d.AverageFillPrice = u.ExecutedQuote.Decimal().Div(filled)
	}
	return d
}

// positionFromWS converts one position event.
func (e *Exchange) positionFromWS(f *wsPosition) (futures.Position, bool) {
	side, size := futures.SideFromSize(f.NetQuantity.Decimal())
	if side == futures.UnknownSide {
		return futures.Position{}, false
	}
	symbol, err := e.PairFromVenue(f.Symbol)
	if err != nil {
		return futures.Position{}, false
	}
	at := f.EngineTime.Time()
	if at.IsZero() {
		at = f.EventTime.Time()
	}
	if at.IsZero() {
		at = time.Now()
	}
	pos := futures.Position{
		Venue:         venueName,
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    f.EntryPrice.Decimal(),
		MarkPrice:     f.MarkPrice.Decimal(),
		UnrealisedPNL: f.PnlUnrealized.Decimal(),
		MarginMode:    margin.Cross,
		Timestamp:     at,
	}
	if liq := f.EstLiqPrice.Decimal(); !liq.IsZero() {
		pos.LiquidationPrice = decimal.NullDecimal{Decimal: liq, Valid: true}
	}
	return pos, true
}
