package quote

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"VoltrQuote/internal/errs"
	"VoltrQuote/internal/testutil"
)

var (
	testVaultKey  = testutil.Pubkey(0x01)
	testAssetMint = testutil.Pubkey(0x02)
	testIdleAta   = testutil.Pubkey(0x03)
	testLpMint    = testutil.Pubkey(0x04)
)

type venueFixture struct {
	lpSupply      uint64
	lpDecimals    uint8
	assetDecimals uint8
	idleBalance   uint64
}

// refreshedVenue builds a venue whose snapshot comes from synthetic
// accounts served by a static fetcher, exercising the same decode path as
// production refreshes.
func refreshedVenue(t *testing.T, p testutil.VaultParams, fx venueFixture) *Venue {
	t.Helper()

	if p.AssetMint.IsZero() {
		p.AssetMint = testAssetMint
	}
	if p.IdleAta.IsZero() {
		p.IdleAta = testIdleAta
	}
	if p.LpMint.IsZero() {
		p.LpMint = testLpMint
	}
	if fx.lpDecimals == 0 {
		fx.lpDecimals = 9
	}
	if fx.assetDecimals == 0 {
		fx.assetDecimals = 6
	}

	f := testutil.NewStaticFetcher()
	f.Put(testVaultKey, testutil.Pubkey(0xEE), testutil.EncodeVault(p))
	f.Put(p.LpMint, solana.TokenProgramID, testutil.EncodeMint(fx.lpSupply, fx.lpDecimals))
	f.Put(p.AssetMint, solana.TokenProgramID, testutil.EncodeMint(0, fx.assetDecimals))
	f.Put(p.IdleAta, solana.TokenProgramID,
		testutil.EncodeTokenAccount(p.AssetMint, testVaultKey, fx.idleBalance))

	v := NewVenue(testVaultKey)
	if err := v.Refresh(context.Background(), f); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return v
}

func depositReq(amount uint64) QuoteRequest {
	return QuoteRequest{InputMint: testAssetMint, OutputMint: testLpMint, Amount: amount}
}

func redeemReq(amount uint64) QuoteRequest {
	return QuoteRequest{InputMint: testLpMint, OutputMint: testAssetMint, Amount: amount}
}

func TestQuoteUninitialized(t *testing.T) {
	v := NewVenue(testVaultKey)
	if v.Initialized() {
		t.Fatal("venue initialized before first refresh")
	}
	_, err := v.Quote(depositReq(1), 0)
	if !errors.Is(err, errs.ErrAccountNotFound) {
		t.Errorf("got %v, want account not found", err)
	}
}

func TestQuoteInvalidMintPair(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{TotalValue: 1_000}, venueFixture{lpSupply: 1_000})

	reqs := []QuoteRequest{
		{InputMint: testutil.Pubkey(0x99), OutputMint: testLpMint, Amount: 1},
		{InputMint: testAssetMint, OutputMint: testutil.Pubkey(0x99), Amount: 1},
		// Same-mint pairs are not a conversion.
		{InputMint: testAssetMint, OutputMint: testAssetMint, Amount: 1},
		{InputMint: testLpMint, OutputMint: testLpMint, Amount: 1},
	}
	for _, req := range reqs {
		if _, err := v.Quote(req, 0); !errors.Is(err, errs.ErrInvalidMint) {
			t.Errorf("req %v: got %v, want invalid mint", req, err)
		}
	}
}

func TestQuoteZeroAmount(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue: 1_000,
		// A waiting period would reject real redeems; zero input must
		// short-circuit before that check.
		WithdrawalWaitingPeriod: 86_400,
	}, venueFixture{lpSupply: 1_000})

	for _, req := range []QuoteRequest{depositReq(0), redeemReq(0)} {
		res, err := v.Quote(req, 0)
		if err != nil {
			t.Fatalf("Quote(%v): %v", req, err)
		}
		if res.ExpectedOutput != 0 || res.NotEnoughLiquidity {
			t.Errorf("got %+v, want zero output without liquidity flag", res)
		}
	}
}

func TestQuoteDeposit(t *testing.T) {
	// dead weight already burned, supply 500M net of it, no fee shares
	// accrued, management fee never settled: the supply baseline is exactly
	// 500M and the reference vector applies.
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:  600_000_000,
		IssuanceFee: 50,
		DeadWeight:  1_000,
	}, venueFixture{lpSupply: 499_999_000, idleBalance: 600_000_000})

	res, err := v.Quote(depositReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.NotEnoughLiquidity {
		t.Fatal("unexpected liquidity flag")
	}
	if res.ExpectedOutput != 829_159 {
		t.Errorf("got %d, want 829159", res.ExpectedOutput)
	}
}

func TestQuoteDepositMaxCap(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue: 900,
		MaxCap:     1_000,
		DeadWeight: 1_000,
	}, venueFixture{lpSupply: 900_000})

	// Exactly at cap is allowed.
	res, err := v.Quote(depositReq(100), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.NotEnoughLiquidity {
		t.Error("deposit to exactly max cap flagged as shortfall")
	}

	// One unit over the cap is a shortfall result, not an error.
	res, err = v.Quote(depositReq(101), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !res.NotEnoughLiquidity || res.ExpectedOutput != 0 {
		t.Errorf("got %+v, want liquidity shortfall", res)
	}
}

func TestQuoteDepositDeadWeightBurn(t *testing.T) {
	// Empty vault: initial mint path, same decimals both sides, the first
	// 1000 minted shares are burned into the vault.
	params := testutil.VaultParams{}
	fx := venueFixture{lpDecimals: 6, assetDecimals: 6}

	v := refreshedVenue(t, params, fx)

	res, err := v.Quote(depositReq(5_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.ExpectedOutput != 4_000 {
		t.Errorf("got %d, want 4000", res.ExpectedOutput)
	}

	// A deposit that cannot cover the burn is a shortfall.
	res, err = v.Quote(depositReq(999), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !res.NotEnoughLiquidity || res.ExpectedOutput != 0 {
		t.Errorf("got %+v, want liquidity shortfall", res)
	}

	// Covering the burn exactly mints zero but succeeds.
	res, err = v.Quote(depositReq(1_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.NotEnoughLiquidity || res.ExpectedOutput != 0 {
		t.Errorf("got %+v, want zero mint without liquidity flag", res)
	}
}

func TestQuoteDepositMonotone(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:  10_000_019,
		IssuanceFee: 37,
		DeadWeight:  1_000,
	}, venueFixture{lpSupply: 9_000_001})

	var prev uint64
	for amount := uint64(1); amount <= 2_000; amount += 13 {
		res, err := v.Quote(depositReq(amount), 0)
		if err != nil {
			t.Fatalf("amount=%d: %v", amount, err)
		}
		if res.ExpectedOutput < prev {
			t.Fatalf("output decreased: amount=%d out=%d prev=%d", amount, res.ExpectedOutput, prev)
		}
		prev = res.ExpectedOutput
	}
}

func TestQuoteRedeem(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:    20_000_000,
		RedemptionFee: 100,
		DeadWeight:    1_000,
	}, venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000})

	res, err := v.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.NotEnoughLiquidity {
		t.Fatal("unexpected liquidity flag")
	}
	if res.ExpectedOutput != 1_980_000 {
		t.Errorf("got %d, want 1980000", res.ExpectedOutput)
	}
}

func TestQuoteRedeemWaitingPeriod(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:              20_000_000,
		WithdrawalWaitingPeriod: 3_600,
	}, venueFixture{lpSupply: 10_000_000, idleBalance: 20_000_000})

	_, err := v.Quote(redeemReq(1_000_000), 0)
	if !errors.Is(err, errs.ErrUnsupportedOperation) {
		t.Errorf("got %v, want unsupported operation", err)
	}
}

func TestQuoteRedeemIdleGate(t *testing.T) {
	// Payout would be 1_980_000 but only 1_979_999 sits idle.
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:    20_000_000,
		RedemptionFee: 100,
		DeadWeight:    1_000,
	}, venueFixture{lpSupply: 9_999_000, idleBalance: 1_979_999})

	res, err := v.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !res.NotEnoughLiquidity || res.ExpectedOutput != 0 {
		t.Errorf("got %+v, want liquidity shortfall", res)
	}
}

func TestQuoteRedeemLockedProfit(t *testing.T) {
	// 1M of recent profit locked at the report, half decayed at now.
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:              20_000_000,
		DegradationDuration:     100,
		LastUpdatedLockedProfit: 1_000_000,
		LastReport:              10_000,
		DeadWeight:              1_000,
	}, venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000})

	// Halfway through the window: unlocked = 20M - 500k.
	res, err := v.Quote(redeemReq(1_000_000), 10_050)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.ExpectedOutput != 1_950_000 {
		t.Errorf("halfway: got %d, want 1950000", res.ExpectedOutput)
	}

	// Past the window the full value backs redemptions.
	res, err = v.Quote(redeemReq(1_000_000), 10_101)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.ExpectedOutput != 2_000_000 {
		t.Errorf("after window: got %d, want 2000000", res.ExpectedOutput)
	}
}

func TestQuoteClockFallback(t *testing.T) {
	// now == 0 falls back to the vault's LastUpdatedTs, which sits at the
	// report time: the full profit is still locked.
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:              20_000_000,
		DegradationDuration:     100,
		LastUpdatedLockedProfit: 1_000_000,
		LastReport:              10_000,
		LastUpdatedTs:           10_000,
		DeadWeight:              1_000,
	}, venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000})

	res, err := v.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if res.ExpectedOutput != 1_900_000 {
		t.Errorf("got %d, want 1900000", res.ExpectedOutput)
	}
}

func TestQuoteManagementFeeDilutesRedeem(t *testing.T) {
	// A year of 1% management fee inflates the share baseline, so each LP
	// redeems for less than the naive pro-rata value.
	base := testutil.VaultParams{
		TotalValue: 20_000_000,
		DeadWeight: 1_000,
	}
	fx := venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000}

	plain := refreshedVenue(t, base, fx)
	resPlain, err := plain.Quote(redeemReq(1_000_000), 1_000_000)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	withFee := base
	withFee.ManagerManagementFee = 100
	withFee.LastManagementFeeUpdateTs = 1
	feed := refreshedVenue(t, withFee, fx)
	resFee, err := feed.Quote(redeemReq(1_000_000), 1_000_000)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if resFee.ExpectedOutput >= resPlain.ExpectedOutput {
		t.Errorf("management fee did not dilute: with=%d without=%d",
			resFee.ExpectedOutput, resPlain.ExpectedOutput)
	}
}

func TestQuoteAccruedFeeSharesDiluteRedeem(t *testing.T) {
	base := testutil.VaultParams{
		TotalValue: 20_000_000,
		DeadWeight: 1_000,
	}
	fx := venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000}

	plain := refreshedVenue(t, base, fx)
	resPlain, err := plain.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	accrued := base
	accrued.AccumulatedLpManagerFees = 500_000
	diluted := refreshedVenue(t, accrued, fx)
	resAccrued, err := diluted.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}

	if resAccrued.ExpectedOutput >= resPlain.ExpectedOutput {
		t.Errorf("accrued fee shares did not dilute: with=%d without=%d",
			resAccrued.ExpectedOutput, resPlain.ExpectedOutput)
	}
}

func TestRefreshMissingAccount(t *testing.T) {
	f := testutil.NewStaticFetcher()
	v := NewVenue(testVaultKey)

	if err := v.Refresh(context.Background(), f); !errors.Is(err, errs.ErrAccountNotFound) {
		t.Errorf("got %v, want account not found", err)
	}
	if v.Initialized() {
		t.Error("failed refresh left venue initialized")
	}
}

func TestRefreshKeepsPreviousSnapshotOnFailure(t *testing.T) {
	params := testutil.VaultParams{TotalValue: 20_000_000, DeadWeight: 1_000}
	fx := venueFixture{lpSupply: 9_999_000, idleBalance: 20_000_000}
	v := refreshedVenue(t, params, fx)

	// Second refresh against an empty fetcher fails outright.
	if err := v.Refresh(context.Background(), testutil.NewStaticFetcher()); err == nil {
		t.Fatal("refresh against empty fetcher succeeded")
	}

	res, err := v.Quote(redeemReq(1_000_000), 0)
	if err != nil {
		t.Fatalf("Quote after failed refresh: %v", err)
	}
	if res.ExpectedOutput != 2_000_000 {
		t.Errorf("got %d, want 2000000 from previous snapshot", res.ExpectedOutput)
	}
}

func TestStats(t *testing.T) {
	v := refreshedVenue(t, testutil.VaultParams{
		TotalValue:    20_000_000,
		MaxCap:        50_000_000,
		LastUpdatedTs: 12_345,
		DeadWeight:    1_000,
	}, venueFixture{lpSupply: 9_999_000, idleBalance: 7_500_000})

	st, err := v.Stats(0)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalAssetValue != 20_000_000 {
		t.Errorf("total asset value: got %d", st.TotalAssetValue)
	}
	if st.UnlockedAssetValue != 20_000_000 {
		t.Errorf("unlocked: got %d", st.UnlockedAssetValue)
	}
	if st.LpSupply != 9_999_000 {
		t.Errorf("lp supply: got %d", st.LpSupply)
	}
	if st.IdleBalance != 7_500_000 {
		t.Errorf("idle balance: got %d", st.IdleBalance)
	}
	if st.MaxCap != 50_000_000 {
		t.Errorf("max cap: got %d", st.MaxCap)
	}
	if st.LastUpdatedTs != 12_345 {
		t.Errorf("last updated: got %d", st.LastUpdatedTs)
	}
}

func TestRegistryRoute(t *testing.T) {
	r := NewRegistry([]solana.PublicKey{testVaultKey})
	v, err := r.Lookup(testVaultKey)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// Uninitialized venues are not routable.
	if _, err := r.Route(testAssetMint, testLpMint); !errors.Is(err, errs.ErrInvalidMint) {
		t.Errorf("got %v, want invalid mint before refresh", err)
	}

	f := testutil.NewStaticFetcher()
	p := testutil.VaultParams{
		AssetMint: testAssetMint, IdleAta: testIdleAta, LpMint: testLpMint,
		TotalValue: 1_000, DeadWeight: 1_000,
	}
	f.Put(testVaultKey, testutil.Pubkey(0xEE), testutil.EncodeVault(p))
	f.Put(testLpMint, solana.TokenProgramID, testutil.EncodeMint(1_000, 9))
	f.Put(testAssetMint, solana.TokenProgramID, testutil.EncodeMint(0, 6))
	f.Put(testIdleAta, solana.TokenProgramID, testutil.EncodeTokenAccount(testAssetMint, testVaultKey, 1_000))
	if err := v.Refresh(context.Background(), f); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, pair := range [][2]solana.PublicKey{
		{testAssetMint, testLpMint},
		{testLpMint, testAssetMint},
	} {
		got, err := r.Route(pair[0], pair[1])
		if err != nil {
			t.Fatalf("Route(%s, %s): %v", pair[0], pair[1], err)
		}
		if got != v {
			t.Errorf("Route returned wrong venue")
		}
	}

	if _, err := r.Lookup(testutil.Pubkey(0x77)); !errors.Is(err, errs.ErrAccountNotFound) {
		t.Errorf("got %v, want account not found", err)
	}
}
