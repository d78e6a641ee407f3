package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"VoltrQuote/internal/observability"
	"VoltrQuote/internal/quote"
	"VoltrQuote/internal/testutil"
)

var (
	srvVaultKey  = testutil.Pubkey(0x01)
	srvAssetMint = testutil.Pubkey(0x02)
	srvIdleAta   = testutil.Pubkey(0x03)
	srvLpMint    = testutil.Pubkey(0x04)
)

func testServer(t *testing.T, p testutil.VaultParams, lpSupply, idleBalance uint64) (*Server, *quote.Registry) {
	t.Helper()

	p.AssetMint = srvAssetMint
	p.IdleAta = srvIdleAta
	p.LpMint = srvLpMint

	f := testutil.NewStaticFetcher()
	f.Put(srvVaultKey, testutil.Pubkey(0xEE), testutil.EncodeVault(p))
	f.Put(srvLpMint, solana.TokenProgramID, testutil.EncodeMint(lpSupply, 9))
	f.Put(srvAssetMint, solana.TokenProgramID, testutil.EncodeMint(0, 6))
	f.Put(srvIdleAta, solana.TokenProgramID,
		testutil.EncodeTokenAccount(srvAssetMint, srvVaultKey, idleBalance))

	registry := quote.NewRegistry([]solana.PublicKey{srvVaultKey})
	v, err := registry.Lookup(srvVaultKey)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if err := v.Refresh(context.Background(), f); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := New(Deps{
		Registry: registry,
		Health:   health,
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	return srv, registry
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleQuoteDeposit(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{
		TotalValue:  600_000_000,
		IssuanceFee: 50,
		DeadWeight:  1_000,
	}, 499_999_000, 600_000_000)
	h := srv.Router()

	rec := get(t, h, "/v1/quote?vault="+srvVaultKey.String()+
		"&input_mint="+srvAssetMint.String()+
		"&output_mint="+srvLpMint.String()+
		"&amount=1000000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp quoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ExpectedOutput != 829_159 {
		t.Errorf("expected_output: got %d, want 829159", resp.ExpectedOutput)
	}
	if resp.NotEnoughLiquidity {
		t.Error("unexpected liquidity flag")
	}
	if resp.VaultKey != srvVaultKey.String() {
		t.Errorf("vault_key: got %s", resp.VaultKey)
	}
	if resp.QuoteID == "" {
		t.Error("missing quote_id")
	}
}

func TestHandleQuoteRoutedByMints(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{
		TotalValue:    20_000_000,
		RedemptionFee: 100,
		DeadWeight:    1_000,
	}, 9_999_000, 20_000_000)
	h := srv.Router()

	// No vault param: routed by the mint pair (redeem direction).
	rec := get(t, h, "/v1/quote?input_mint="+srvLpMint.String()+
		"&output_mint="+srvAssetMint.String()+
		"&amount=1000000")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	var resp quoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ExpectedOutput != 1_980_000 {
		t.Errorf("expected_output: got %d, want 1980000", resp.ExpectedOutput)
	}
}

func TestHandleQuoteBadRequest(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{TotalValue: 1_000, DeadWeight: 1_000}, 1_000, 1_000)
	h := srv.Router()

	urls := []string{
		"/v1/quote",
		"/v1/quote?input_mint=notbase58&output_mint=" + srvLpMint.String() + "&amount=1",
		"/v1/quote?input_mint=" + srvAssetMint.String() + "&output_mint=" + srvLpMint.String() + "&amount=abc",
		"/v1/quote?vault=notbase58&input_mint=" + srvAssetMint.String() + "&output_mint=" + srvLpMint.String() + "&amount=1",
	}
	for _, url := range urls {
		if rec := get(t, h, url); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", url, rec.Code)
		}
	}
}

func TestHandleQuoteInvalidMintPair(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{TotalValue: 1_000, DeadWeight: 1_000}, 1_000, 1_000)
	h := srv.Router()

	other := testutil.Pubkey(0x55)
	rec := get(t, h, "/v1/quote?vault="+srvVaultKey.String()+
		"&input_mint="+other.String()+
		"&output_mint="+srvLpMint.String()+
		"&amount=1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "invalid_mint" {
		t.Errorf("code: got %q, want invalid_mint", resp.Code)
	}
}

func TestHandleQuoteWaitingPeriod(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{
		TotalValue:              20_000_000,
		WithdrawalWaitingPeriod: 3_600,
		DeadWeight:              1_000,
	}, 9_999_000, 20_000_000)
	h := srv.Router()

	rec := get(t, h, "/v1/quote?vault="+srvVaultKey.String()+
		"&input_mint="+srvLpMint.String()+
		"&output_mint="+srvAssetMint.String()+
		"&amount=1000000")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("got %d, want 422", rec.Code)
	}
}

func TestHandleQuoteUnknownVault(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{TotalValue: 1_000, DeadWeight: 1_000}, 1_000, 1_000)
	h := srv.Router()

	rec := get(t, h, "/v1/quote?vault="+testutil.Pubkey(0x77).String()+
		"&input_mint="+srvAssetMint.String()+
		"&output_mint="+srvLpMint.String()+
		"&amount=1")
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestHandleVaults(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{
		TotalValue:    20_000_000,
		MaxCap:        50_000_000,
		LastUpdatedTs: 12_345,
		DeadWeight:    1_000,
	}, 9_999_000, 7_500_000)
	h := srv.Router()

	rec := get(t, h, "/v1/vaults")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var vaults []vaultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &vaults); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(vaults) != 1 {
		t.Fatalf("got %d vaults, want 1", len(vaults))
	}
	v := vaults[0]
	if !v.Initialized {
		t.Error("vault not initialized")
	}
	if v.TotalAssetValue != 20_000_000 || v.LpSupply != 9_999_000 || v.IdleBalance != 7_500_000 {
		t.Errorf("got %+v", v)
	}

	rec = get(t, h, "/v1/vaults/"+srvVaultKey.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	rec = get(t, h, "/v1/vaults/"+testutil.Pubkey(0x77).String())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown vault: got %d, want 404", rec.Code)
	}
}

func TestHandleRecentQuotesDisabled(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{TotalValue: 1_000, DeadWeight: 1_000}, 1_000, 1_000)
	h := srv.Router()

	// No Postgres wired: the endpoint is absent, not broken.
	rec := get(t, h, "/v1/quotes/recent")
	if rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t, testutil.VaultParams{TotalValue: 1_000, DeadWeight: 1_000}, 1_000, 1_000)
	h := srv.Router()

	if rec := get(t, h, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d", rec.Code)
	}
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz: got %d", rec.Code)
	}

	srv.health.SetReady(false)
	if rec := get(t, h, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz after unready: got %d", rec.Code)
	}
}
