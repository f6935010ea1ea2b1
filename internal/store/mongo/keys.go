package mongo

import (
	"strings"

	"comanda/internal/domain"
)

// Counter names become field paths in $inc updates, so "." and "$" are
// swapped for their fullwidth forms on the way in and back on the way out.
var (
	keyEscaper   = strings.NewReplacer(".", "．", "$", "＄")
	keyUnescaper = strings.NewReplacer("．", ".", "＄", "$")
)

func escapeKey(k string) string {
	return keyEscaper.Replace(k)
}

func unescapeKey(k string) string {
	return keyUnescaper.Replace(k)
}

func mapKeys[V int | domain.Money](m map[string]V, fn func(string) string) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		if v != 0 {
			out[fn(k)] += v
		}
	}
	return out
}

func escapeSession(session domain.CashSession) domain.CashSession {
	session.Totals.ByPayment = mapKeys(session.Totals.ByPayment, escapeKey)
	session.Sold.Items = mapKeys(session.Sold.Items, escapeKey)
	session.Sold.Categories = mapKeys(session.Sold.Categories, escapeKey)
	return session
}

// unescapeSession also drops counters a decrement brought back to zero.
func unescapeSession(session domain.CashSession) domain.CashSession {
	session.Totals.ByPayment = mapKeys(session.Totals.ByPayment, unescapeKey)
	session.Sold.Items = mapKeys(session.Sold.Items, unescapeKey)
	session.Sold.Categories = mapKeys(session.Sold.Categories, unescapeKey)
	session.Normalize()
	return session
}
