package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the quoting service.
type Metrics struct {
	// --- Quoting ---
	QuoteRequests   *prometheus.CounterVec
	QuoteDuration   *prometheus.HistogramVec
	QuoteShortfalls *prometheus.CounterVec
	QuoteErrors     *prometheus.CounterVec

	// --- Refresh ---
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	RefreshErrors   *prometheus.CounterVec

	// --- Per-vault state ---
	VaultTotalAssetValue    *prometheus.GaugeVec
	VaultUnlockedAssetValue *prometheus.GaugeVec
	VaultLpSupply           *prometheus.GaugeVec
	VaultIdleBalance        *prometheus.GaugeVec
	VaultSnapshotAge        *prometheus.GaugeVec

	// --- Quote log ---
	QuoteLogWritten  prometheus.Counter
	QuoteLogBatchDur prometheus.Histogram
	QuoteLogErrors   *prometheus.CounterVec
	QuoteLogRetry    prometheus.Counter
	QuoteLogDrops    prometheus.Counter

	// --- Publishing ---
	PublishTotal prometheus.Counter
	PublishDrops prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	quoteBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	refreshBuckets := []float64{
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
	}

	return &Metrics{
		// Quoting
		QuoteRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_quote_requests_total",
			Help: "Quote requests served",
		}, []string{"direction", "status"}),

		QuoteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voltr_quote_duration_seconds",
			Help:    "Time to compute one quote",
			Buckets: quoteBuckets,
		}, []string{"direction"}),

		QuoteShortfalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_quote_shortfalls_total",
			Help: "Quotes answered with not_enough_liquidity",
		}, []string{"direction", "reason"}),

		QuoteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_quote_errors_total",
			Help: "Quote failures by error code",
		}, []string{"direction", "code"}),

		// Refresh
		RefreshTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_refresh_total",
			Help: "Vault state refreshes completed",
		}, []string{"vault"}),

		RefreshDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voltr_refresh_duration_seconds",
			Help:    "Time to refresh one vault (RPC round trips included)",
			Buckets: refreshBuckets,
		}, []string{"vault"}),

		RefreshErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_refresh_errors_total",
			Help: "Failed refreshes",
		}, []string{"vault"}),

		// Per-vault state
		VaultTotalAssetValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltr_vault_total_asset_value",
			Help: "Vault total asset value (native units)",
		}, []string{"vault"}),

		VaultUnlockedAssetValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltr_vault_unlocked_asset_value",
			Help: "Vault asset value net of still-locked profit",
		}, []string{"vault"}),

		VaultLpSupply: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltr_vault_lp_supply",
			Help: "LP mint circulating supply",
		}, []string{"vault"}),

		VaultIdleBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltr_vault_idle_balance",
			Help: "Idle token account balance backing instant redeems",
		}, []string{"vault"}),

		VaultSnapshotAge: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltr_vault_snapshot_age_seconds",
			Help: "Age of the snapshot quotes are being served from",
		}, []string{"vault"}),

		// Quote log
		QuoteLogWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voltr_quote_log_written_total",
			Help: "Quote rows written to Postgres",
		}),

		QuoteLogBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voltr_quote_log_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		QuoteLogErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltr_quote_log_errors_total",
			Help: "Quote log write errors",
		}, []string{"error_type"}),

		QuoteLogRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voltr_quote_log_retry_total",
			Help: "Quote log write retries",
		}),

		QuoteLogDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voltr_quote_log_drops_total",
			Help: "Quotes dropped due to full log channel",
		}),

		// Publishing
		PublishTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voltr_publish_total",
			Help: "Vault updates published to JetStream",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voltr_publish_drops_total",
			Help: "Vault updates dropped (publisher unavailable or slow)",
		}),
	}
}
