package quote

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
	"VoltrQuote/internal/fetch"
	"VoltrQuote/internal/vault"
)

// RequiredKeys lists the accounts a refresh reads: the vault record, the LP
// mint, the asset mint, and the idle token account. The last three are only
// known after the first refresh.
func (v *Venue) RequiredKeys() []solana.PublicKey {
	s := v.state.Load()
	if s == nil {
		return []solana.PublicKey{v.key}
	}
	return []solana.PublicKey{
		v.key,
		s.vault.Lp.Mint,
		s.vault.Asset.Mint,
		s.vault.Asset.IdleAta,
	}
}

// Refresh rebuilds the snapshot from chain state and publishes it
// atomically. Quotes served concurrently keep reading the previous snapshot
// until the swap. Any missing or undecodable account fails the whole
// refresh and leaves the previous snapshot in place.
//
// The vault record is fetched first because it names the other three
// accounts; a vault can be re-pointed at a different idle account between
// refreshes.
func (v *Venue) Refresh(ctx context.Context, f fetch.AccountFetcher) error {
	const op = "quote.Refresh"

	vaultAccounts, err := f.FetchAccounts(ctx, []solana.PublicKey{v.key})
	if err != nil {
		return err
	}
	if len(vaultAccounts) != 1 || vaultAccounts[0] == nil {
		return errs.NotFound(op, v.key.String())
	}
	decoded, err := vault.Decode(vaultAccounts[0].Data)
	if err != nil {
		return err
	}

	keys := []solana.PublicKey{
		decoded.Lp.Mint,
		decoded.Asset.Mint,
		decoded.Asset.IdleAta,
	}
	accounts, err := f.FetchAccounts(ctx, keys)
	if err != nil {
		return err
	}
	for i, acc := range accounts {
		if acc == nil {
			return errs.NotFound(op, keys[i].String())
		}
	}

	lpMint, err := fetch.DecodeMint(accounts[0].Data)
	if err != nil {
		return err
	}
	assetMint, err := fetch.DecodeMint(accounts[1].Data)
	if err != nil {
		return err
	}
	idle, err := fetch.DecodeTokenAccount(accounts[2].Data)
	if err != nil {
		return err
	}

	v.state.Store(&vaultState{
		vault:             decoded,
		lpSupply:          lpMint.Supply,
		lpDecimals:        lpMint.Decimals,
		assetDecimals:     assetMint.Decimals,
		assetTokenProgram: accounts[1].Owner,
		idleBalance:       idle.Amount,
		refreshedAt:       time.Now(),
	})
	return nil
}
