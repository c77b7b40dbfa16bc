package domain

import "strings"

// Symbol is an exchange-local identifier for a tradeable pair, e.g. "btc_jpy"
// on bitbank or "BTCUSDT" on bybit.
type Symbol string

func (s Symbol) String() string { return string(s) }

// SymbolMapper translates a canonical (bitbank-spelled) symbol into a venue's
// native spelling. Mappers are pure and total.
type SymbolMapper func(Symbol) Symbol

// IdentitySymbol returns the symbol unchanged.
func IdentitySymbol(s Symbol) Symbol { return s }

// BybitSymbol maps "btc_jpy" to "BTCUSDT": the base asset upper-cased and
// quoted in USDT. Symbols without a quote separator are upper-cased as-is.
func BybitSymbol(s Symbol) Symbol {
	base, _, found := strings.Cut(string(s), "_")
	if !found || base == "" {
		return Symbol(strings.ToUpper(string(s)))
	}
	return Symbol(strings.ToUpper(base) + "USDT")
}

// IsCanonical reports whether s is spelled base_quote in lower-case letters
// and digits, e.g. "btc_jpy".
func (s Symbol) IsCanonical() bool {
	base, quote, found := strings.Cut(string(s), "_")
	return found && isLowerAlnum(base) && isLowerAlnum(quote)
}

func isLowerAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// MapperFor returns the symbol mapping used for venue.
func MapperFor(v Venue) SymbolMapper {
	switch v {
	case VenueBybit:
		return BybitSymbol
	default:
		return IdentitySymbol
	}
}

// MapSymbols applies the venue mapping to every configured symbol once,
// returning the native spellings in input order with duplicates removed.
func MapSymbols(v Venue, symbols []Symbol) []Symbol {
	mapper := MapperFor(v)
	seen := make(map[Symbol]struct{}, len(symbols))
	out := make([]Symbol, 0, len(symbols))
	for _, s := range symbols {
		native := mapper(s)
		if _, ok := seen[native]; ok {
			continue
		}
		seen[native] = struct{}{}
		out = append(out, native)
	}
	return out
}
