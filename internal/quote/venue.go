// Package quote turns refreshed vault state into deposit and redemption
// quotes. A Venue is purely computational: it reads an immutable snapshot
// published by Refresh and never touches the network itself.
package quote

import (
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
	vmath "VoltrQuote/internal/math"
	"VoltrQuote/internal/vault"
)

// DeadWeightBurn is the share quantity burned into the vault on the deposit
// that seeds an empty vault, an inflation-attack guard mirrored here so
// first-deposit quotes match what the program will actually mint.
const DeadWeightBurn = 1_000

// QuoteRequest asks for a conversion between the vault's asset mint and its
// LP mint. Direction is inferred from the mint pair.
type QuoteRequest struct {
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	Amount     uint64
}

// QuoteResult reports the expected output for a request.
// NotEnoughLiquidity marks capacity or liquidity shortfalls; those are
// answers, not failures.
type QuoteResult struct {
	InputMint          solana.PublicKey
	OutputMint         solana.PublicKey
	Amount             uint64
	ExpectedOutput     uint64
	NotEnoughLiquidity bool
}

// vaultState is one refresh's worth of chain state. Built whole, published
// via atomic pointer swap, never mutated after.
type vaultState struct {
	vault             *vault.Vault
	lpSupply          uint64
	lpDecimals        uint8
	assetDecimals     uint8
	assetTokenProgram solana.PublicKey
	idleBalance       uint64
	refreshedAt       time.Time
}

// Venue quotes one Voltr vault.
type Venue struct {
	key   solana.PublicKey
	state atomic.Pointer[vaultState]
}

func NewVenue(key solana.PublicKey) *Venue {
	return &Venue{key: key}
}

// Key is the vault account address.
func (v *Venue) Key() solana.PublicKey {
	return v.key
}

// Initialized reports whether at least one refresh has completed.
func (v *Venue) Initialized() bool {
	return v.state.Load() != nil
}

// Mints returns the vault's asset and LP mints. Zero keys before the first
// refresh.
func (v *Venue) Mints() (asset, lp solana.PublicKey) {
	s := v.state.Load()
	if s == nil {
		return solana.PublicKey{}, solana.PublicKey{}
	}
	return s.vault.Asset.Mint, s.vault.Lp.Mint
}

// Stats is the per-vault state summary served by the HTTP API and exported
// as gauges.
type Stats struct {
	VaultKey           solana.PublicKey
	AssetMint          solana.PublicKey
	LpMint             solana.PublicKey
	TotalAssetValue    uint64
	UnlockedAssetValue uint64
	LpSupply           uint64
	LpDecimals         uint8
	AssetDecimals      uint8
	IdleBalance        uint64
	MaxCap             uint64
	LastUpdatedTs      uint64
	RefreshedAt        time.Time
}

// Stats snapshots the venue at nowTs. nowTs == 0 falls back to the vault's
// own LastUpdatedTs.
func (v *Venue) Stats(nowTs uint64) (*Stats, error) {
	const op = "quote.Stats"

	s := v.state.Load()
	if s == nil {
		return nil, errs.NotFound(op, v.key.String())
	}
	if nowTs == 0 {
		nowTs = s.vault.LastUpdatedTs
	}
	unlocked, err := s.vault.UnlockedAssetValue(nowTs)
	if err != nil {
		return nil, err
	}
	return &Stats{
		VaultKey:           v.key,
		AssetMint:          s.vault.Asset.Mint,
		LpMint:             s.vault.Lp.Mint,
		TotalAssetValue:    s.vault.TotalAssetValue(),
		UnlockedAssetValue: unlocked,
		LpSupply:           s.lpSupply,
		LpDecimals:         s.lpDecimals,
		AssetDecimals:      s.assetDecimals,
		IdleBalance:        s.idleBalance,
		MaxCap:             s.vault.Configuration.MaxCap,
		LastUpdatedTs:      s.vault.LastUpdatedTs,
		RefreshedAt:        s.refreshedAt,
	}, nil
}

// estimateManagementFeeLp estimates the LP shares the program would mint for
// management fees accrued up to nowTs. The zero guards mirror the program's
// settlement entry conditions; callers get 0, never an error, when no fee
// would settle.
func (s *vaultState) estimateManagementFeeLp(nowTs, totalAssetValue, totalLpSupplyInclFees uint64) (uint64, error) {
	managementFeeBps, err := s.vault.TotalManagementFeeBps()
	if err != nil {
		return 0, err
	}

	if s.vault.FeeUpdate.LastManagementFeeUpdateTs == 0 ||
		totalAssetValue == 0 ||
		managementFeeBps == 0 {
		return 0, nil
	}

	elapsed := uint64(0)
	if nowTs > s.vault.FeeUpdate.LastManagementFeeUpdateTs {
		elapsed = nowTs - s.vault.FeeUpdate.LastManagementFeeUpdateTs
	}
	if elapsed == 0 {
		return 0, nil
	}

	feeInAsset, err := vmath.CalcManagementFeeInAsset(elapsed, totalAssetValue, managementFeeBps)
	if err != nil {
		return 0, err
	}
	if feeInAsset == 0 || feeInAsset >= totalAssetValue {
		return 0, nil
	}

	return vmath.CalcFeeLpToMint(feeInAsset, totalLpSupplyInclFees, totalAssetValue)
}

// Quote prices req against the current snapshot at nowTs (unix seconds).
// nowTs == 0 falls back to the vault's LastUpdatedTs.
func (v *Venue) Quote(req QuoteRequest, nowTs uint64) (QuoteResult, error) {
	const op = "quote.Quote"

	s := v.state.Load()
	if s == nil {
		return QuoteResult{}, errs.NotFound(op, v.key.String())
	}

	assetMint := s.vault.Asset.Mint
	lpMint := s.vault.Lp.Mint

	isDeposit := req.InputMint == assetMint && req.OutputMint == lpMint
	isRedeem := req.InputMint == lpMint && req.OutputMint == assetMint
	if !isDeposit && !isRedeem {
		return QuoteResult{}, errs.InvalidMint(op, req.InputMint.String())
	}

	if req.Amount == 0 {
		return QuoteResult{
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
		}, nil
	}

	if nowTs == 0 {
		nowTs = s.vault.LastUpdatedTs
	}

	totalAssetValue := s.vault.TotalAssetValue()
	totalLpInclFees, err := s.vault.TotalLpSupplyInclFees(s.lpSupply)
	if err != nil {
		return QuoteResult{}, err
	}

	mgmtFeeLp, err := s.estimateManagementFeeLp(nowTs, totalAssetValue, totalLpInclFees)
	if err != nil {
		return QuoteResult{}, err
	}
	totalLpAfterMgmtFee, ok := addNoOverflow(totalLpInclFees, mgmtFeeLp)
	if !ok {
		return QuoteResult{}, errs.Overflow(op)
	}

	if isRedeem {
		return s.quoteRedeem(req, nowTs, totalLpAfterMgmtFee)
	}
	return s.quoteDeposit(req, totalAssetValue, totalLpInclFees, totalLpAfterMgmtFee)
}

func (s *vaultState) quoteRedeem(req QuoteRequest, nowTs, totalLpAfterMgmtFee uint64) (QuoteResult, error) {
	const op = "quote.quoteRedeem"

	// Only instant redemptions can be priced; a waiting period means the
	// payout happens at a future valuation.
	if s.vault.Configuration.WithdrawalWaitingPeriod != 0 {
		return QuoteResult{}, errs.Unsupported(op, "withdrawal waiting period must be zero for instant redeems")
	}

	unlocked, err := s.vault.UnlockedAssetValue(nowTs)
	if err != nil {
		return QuoteResult{}, err
	}

	assetOut, err := vmath.CalcRedeemAssetOut(
		req.Amount, totalLpAfterMgmtFee, unlocked,
		s.vault.FeeConfiguration.RedemptionFee)
	if err != nil {
		return QuoteResult{}, err
	}

	if s.idleBalance < assetOut {
		return QuoteResult{
			InputMint:          req.InputMint,
			OutputMint:         req.OutputMint,
			Amount:             req.Amount,
			NotEnoughLiquidity: true,
		}, nil
	}

	return QuoteResult{
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		Amount:         req.Amount,
		ExpectedOutput: assetOut,
	}, nil
}

func (s *vaultState) quoteDeposit(req QuoteRequest, totalAssetValue, totalLpInclFees, totalLpAfterMgmtFee uint64) (QuoteResult, error) {
	shortfall := QuoteResult{
		InputMint:          req.InputMint,
		OutputMint:         req.OutputMint,
		Amount:             req.Amount,
		NotEnoughLiquidity: true,
	}

	// max_cap == 0 means uncapped.
	if maxCap := s.vault.Configuration.MaxCap; maxCap > 0 {
		newTotal := totalAssetValue + req.Amount
		if newTotal < totalAssetValue {
			newTotal = ^uint64(0)
		}
		if newTotal > maxCap {
			return shortfall, nil
		}
	}

	var lpBeforeDeadWeight uint64
	var err error
	if totalLpInclFees == 0 {
		lpBeforeDeadWeight, err = vmath.CalcInitLpToMint(req.Amount, s.assetDecimals, s.lpDecimals)
	} else {
		lpBeforeDeadWeight, err = vmath.CalcDepositLpToMint(
			req.Amount, totalLpAfterMgmtFee, totalAssetValue,
			s.vault.FeeConfiguration.IssuanceFee)
	}
	if err != nil {
		return QuoteResult{}, err
	}

	lpToMint := lpBeforeDeadWeight
	if s.vault.DeadWeight == 0 {
		if lpBeforeDeadWeight < DeadWeightBurn {
			return shortfall, nil
		}
		lpToMint = lpBeforeDeadWeight - DeadWeightBurn
	}

	return QuoteResult{
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		Amount:         req.Amount,
		ExpectedOutput: lpToMint,
	}, nil
}

func addNoOverflow(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
