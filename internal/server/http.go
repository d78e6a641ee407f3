// Package server exposes the quoting engine over HTTP/JSON.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"VoltrQuote/internal/errs"
	"VoltrQuote/internal/observability"
	"VoltrQuote/internal/persistence"
	"VoltrQuote/internal/query"
	"VoltrQuote/internal/quote"
)

// Server serves quotes and vault state over HTTP. The wall clock is read
// once per request and threaded into the engine as an explicit timestamp.
type Server struct {
	registry *quote.Registry
	queries  *query.Service              // nil when Postgres is disabled
	quoteLog *persistence.QuoteLogWorker // nil when Postgres is disabled
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	log      zerolog.Logger
	now      func() time.Time
}

type Deps struct {
	Registry *quote.Registry
	Queries  *query.Service
	QuoteLog *persistence.QuoteLogWorker
	Metrics  *observability.Metrics
	Health   *observability.HealthChecker
	Log      zerolog.Logger
	Now      func() time.Time // defaults to time.Now
}

func New(deps Deps) *Server {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		registry: deps.Registry,
		queries:  deps.Queries,
		quoteLog: deps.QuoteLog,
		metrics:  deps.Metrics,
		health:   deps.Health,
		log:      deps.Log,
		now:      now,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/quote", s.handleQuote)
		r.Get("/vaults", s.handleVaults)
		r.Get("/vaults/{vault}", s.handleVault)
		r.Get("/quotes/recent", s.handleRecentQuotes)
	})

	return r
}

type quoteResponse struct {
	QuoteID            string `json:"quote_id"`
	VaultKey           string `json:"vault_key"`
	InputMint          string `json:"input_mint"`
	OutputMint         string `json:"output_mint"`
	Amount             uint64 `json:"amount"`
	ExpectedOutput     uint64 `json:"expected_output"`
	NotEnoughLiquidity bool   `json:"not_enough_liquidity"`
	SnapshotTs         uint64 `json:"snapshot_ts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	inputMint, err := solana.PublicKeyFromBase58(q.Get("input_mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid input_mint", "")
		return
	}
	outputMint, err := solana.PublicKeyFromBase58(q.Get("output_mint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid output_mint", "")
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", "")
		return
	}

	var venue *quote.Venue
	if vaultParam := q.Get("vault"); vaultParam != "" {
		vaultKey, err := solana.PublicKeyFromBase58(vaultParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid vault", "")
			return
		}
		venue, err = s.registry.Lookup(vaultKey)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown vault", errCode(err))
			return
		}
	} else {
		venue, err = s.registry.Route(inputMint, outputMint)
		if err != nil {
			writeError(w, http.StatusBadRequest, "no vault for mint pair", errCode(err))
			return
		}
	}

	nowTs := uint64(s.now().Unix())
	req := quote.QuoteRequest{InputMint: inputMint, OutputMint: outputMint, Amount: amount}

	direction := "redeem"
	if asset, _ := venue.Mints(); inputMint == asset {
		direction = "deposit"
	}

	start := time.Now()
	res, err := venue.Quote(req, nowTs)
	if s.metrics != nil {
		s.metrics.QuoteDuration.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		status := quoteErrorStatus(err)
		if s.metrics != nil {
			s.metrics.QuoteRequests.WithLabelValues(direction, "error").Inc()
			s.metrics.QuoteErrors.WithLabelValues(direction, errCode(err)).Inc()
		}
		writeError(w, status, err.Error(), errCode(err))
		return
	}

	if s.metrics != nil {
		s.metrics.QuoteRequests.WithLabelValues(direction, "ok").Inc()
		if res.NotEnoughLiquidity {
			s.metrics.QuoteShortfalls.WithLabelValues(direction, "liquidity").Inc()
		}
	}

	var snapshotTs uint64
	if st, err := venue.Stats(nowTs); err == nil {
		snapshotTs = st.LastUpdatedTs
	}

	resp := quoteResponse{
		QuoteID:            uuid.NewString(),
		VaultKey:           venue.Key().String(),
		InputMint:          res.InputMint.String(),
		OutputMint:         res.OutputMint.String(),
		Amount:             res.Amount,
		ExpectedOutput:     res.ExpectedOutput,
		NotEnoughLiquidity: res.NotEnoughLiquidity,
		SnapshotTs:         snapshotTs,
	}

	if s.quoteLog != nil {
		s.quoteLog.Submit(persistence.QuoteRow{
			QuoteID:            resp.QuoteID,
			VaultKey:           resp.VaultKey,
			Direction:          direction,
			InputMint:          resp.InputMint,
			OutputMint:         resp.OutputMint,
			Amount:             resp.Amount,
			ExpectedOutput:     resp.ExpectedOutput,
			NotEnoughLiquidity: resp.NotEnoughLiquidity,
			SnapshotTs:         resp.SnapshotTs,
			QuotedAt:           s.now(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type vaultResponse struct {
	VaultKey           string    `json:"vault_key"`
	AssetMint          string    `json:"asset_mint"`
	LpMint             string    `json:"lp_mint"`
	TotalAssetValue    uint64    `json:"total_asset_value"`
	UnlockedAssetValue uint64    `json:"unlocked_asset_value"`
	LpSupply           uint64    `json:"lp_supply"`
	LpDecimals         uint8     `json:"lp_decimals"`
	AssetDecimals      uint8     `json:"asset_decimals"`
	IdleBalance        uint64    `json:"idle_balance"`
	MaxCap             uint64    `json:"max_cap"`
	LastUpdatedTs      uint64    `json:"last_updated_ts"`
	RefreshedAt        time.Time `json:"refreshed_at"`
	Initialized        bool      `json:"initialized"`
}

func (s *Server) vaultResponse(v *quote.Venue, nowTs uint64) vaultResponse {
	resp := vaultResponse{
		VaultKey:    v.Key().String(),
		Initialized: v.Initialized(),
	}
	st, err := v.Stats(nowTs)
	if err != nil {
		return resp
	}
	resp.AssetMint = st.AssetMint.String()
	resp.LpMint = st.LpMint.String()
	resp.TotalAssetValue = st.TotalAssetValue
	resp.UnlockedAssetValue = st.UnlockedAssetValue
	resp.LpSupply = st.LpSupply
	resp.LpDecimals = st.LpDecimals
	resp.AssetDecimals = st.AssetDecimals
	resp.IdleBalance = st.IdleBalance
	resp.MaxCap = st.MaxCap
	resp.LastUpdatedTs = st.LastUpdatedTs
	resp.RefreshedAt = st.RefreshedAt
	return resp
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	nowTs := uint64(s.now().Unix())
	venues := s.registry.Venues()
	out := make([]vaultResponse, 0, len(venues))
	for _, v := range venues {
		out = append(out, s.vaultResponse(v, nowTs))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	vaultKey, err := solana.PublicKeyFromBase58(chi.URLParam(r, "vault"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vault", "")
		return
	}
	v, err := s.registry.Lookup(vaultKey)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown vault", errCode(err))
		return
	}
	writeJSON(w, http.StatusOK, s.vaultResponse(v, uint64(s.now().Unix())))
}

func (s *Server) handleRecentQuotes(w http.ResponseWriter, r *http.Request) {
	if s.queries == nil {
		writeError(w, http.StatusNotFound, "quote log disabled", "")
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		limit = n
	}

	records, err := s.queries.RecentQuotes(r.Context(), q.Get("vault"), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("recent quotes query failed")
		writeError(w, http.StatusInternalServerError, "query failed", "")
		return
	}
	if records == nil {
		records = []query.QuoteRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// quoteErrorStatus maps engine failures to HTTP statuses. Bad mint pairs
// are client errors; a configured waiting period makes instant quotes
// impossible rather than wrong; everything else is internal.
func quoteErrorStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidMint):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrAccountNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errCode(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Code.String()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
