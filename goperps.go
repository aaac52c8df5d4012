// Package goperps is a unified client library for perpetual futures
// venues. Every supported venue sits behind the exchange.IExchange
// contract: one constructor, one capability table, one record
// vocabulary, whatever the venue's native API looks like.
package goperps

import (
	"maps"
	"slices"
	"strings"

	"github.com/stratospect/goperps/config"
	"github.com/stratospect/goperps/errs"
	exchange "github.com/stratospect/goperps/exchanges"
	"github.com/stratospect/goperps/exchanges/aster"
	"github.com/stratospect/goperps/exchanges/backpack"
	"github.com/stratospect/goperps/exchanges/hyperliquid"
)

// constructors maps each venue name to its adapter factory.
var constructors = map[string]func(*config.Options) (exchange.IExchange, error){
	"aster":       func(o *config.Options) (exchange.IExchange, error) { return aster.New(o) },
	"backpack":    func(o *config.Options) (exchange.IExchange, error) { return backpack.New(o) },
	"hyperliquid": func(o *config.Options) (exchange.IExchange, error) { return hyperliquid.New(o) },
}

// New constructs the adapter for venue. Names are case-insensitive.
// The adapter comes back Uninitialized; call Initialize to verify
// venue connectivity before trading on it.
func New(venue string, opts *config.Options) (exchange.IExchange, error) {
	ctor, ok := constructors[strings.ToLower(venue)]
	if !ok {
		return nil, errs.New(venue, errs.ErrNotSupported,
			"unknown venue, have "+strings.Join(Venues(), ", "))
	}
	return ctor(opts)
}

// Venues returns the supported venue names, sorted.
func Venues() []string {
	return slices.Sorted(maps.Keys(constructors))
}
