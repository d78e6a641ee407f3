package quote

import (
	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
)

// Registry holds the venues the service quotes, keyed by vault address.
// Venues are registered at startup; the set never changes afterwards, so
// reads need no locking.
type Registry struct {
	byKey map[solana.PublicKey]*Venue
	order []*Venue
}

func NewRegistry(keys []solana.PublicKey) *Registry {
	r := &Registry{byKey: make(map[solana.PublicKey]*Venue, len(keys))}
	for _, k := range keys {
		if _, dup := r.byKey[k]; dup {
			continue
		}
		v := NewVenue(k)
		r.byKey[k] = v
		r.order = append(r.order, v)
	}
	return r
}

// Venues returns all venues in registration order.
func (r *Registry) Venues() []*Venue {
	return r.order
}

// Lookup finds a venue by vault address.
func (r *Registry) Lookup(key solana.PublicKey) (*Venue, error) {
	v, ok := r.byKey[key]
	if !ok {
		return nil, errs.NotFound("quote.Lookup", key.String())
	}
	return v, nil
}

// Route finds the first initialized venue whose asset/LP mint pair matches
// the request in either direction.
func (r *Registry) Route(inputMint, outputMint solana.PublicKey) (*Venue, error) {
	const op = "quote.Route"

	for _, v := range r.order {
		asset, lp := v.Mints()
		if asset.IsZero() {
			continue
		}
		if (inputMint == asset && outputMint == lp) ||
			(inputMint == lp && outputMint == asset) {
			return v, nil
		}
	}
	return nil, errs.InvalidMint(op, inputMint.String()+"/"+outputMint.String())
}
