// Package fetch retrieves raw Solana accounts for the quoting engine. The
// engine only sees the AccountFetcher interface; the RPC client lives here.
package fetch

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Account is a raw fetched account.
type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// AccountFetcher returns one slot per requested key, in order. A nil slot
// means the account does not exist.
type AccountFetcher interface {
	FetchAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error)
}

// RPCFetcher fetches accounts over JSON-RPC getMultipleAccounts.
type RPCFetcher struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewRPCFetcher connects to the given RPC endpoint. Reads use confirmed
// commitment; quoting does not need finalized state.
func NewRPCFetcher(endpoint string) *RPCFetcher {
	return &RPCFetcher{
		client:     rpc.New(endpoint),
		commitment: rpc.CommitmentConfirmed,
	}
}

func (f *RPCFetcher) FetchAccounts(ctx context.Context, keys []solana.PublicKey) ([]*Account, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	out, err := f.client.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
		Commitment: f.commitment,
		Encoding:   solana.EncodingBase64,
	})
	if err != nil {
		return nil, fmt.Errorf("getMultipleAccounts: %w", err)
	}
	if len(out.Value) != len(keys) {
		return nil, fmt.Errorf("getMultipleAccounts: requested %d accounts, got %d", len(keys), len(out.Value))
	}

	accounts := make([]*Account, len(keys))
	for i, acc := range out.Value {
		if acc == nil {
			continue
		}
		accounts[i] = &Account{
			Owner:    acc.Owner,
			Lamports: acc.Lamports,
			Data:     acc.Data.GetBinary(),
		}
	}
	return accounts, nil
}
