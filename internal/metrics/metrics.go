// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 台帳（ledger.Recorder）とHTTPハンドラーから利用する。
type Collector struct {
	signaturesCreated  prometheus.Counter
	duplicatesRejected prometheus.Counter
	validationFailures *prometheus.CounterVec
	resets             prometheus.Counter
	storageErrors      *prometheus.CounterVec
	legacyMigrated     prometheus.Counter
	signatures         prometheus.Gauge
	exports            *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signaturesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presenze_signatures_created_total",
			Help: "登録された署名の合計数",
		}),
		duplicatesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presenze_duplicates_rejected_total",
			Help: "署名済みのメールアドレスによる再署名を拒否した合計数",
		}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presenze_validation_failures_total",
			Help: "エラーコード別の入力検証エラー数",
		}, []string{"code"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presenze_ledger_resets_total",
			Help: "台帳リセットの合計数",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presenze_storage_errors_total",
			Help: "操作別の永続化層エラー数",
		}, []string{"op"}),
		legacyMigrated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presenze_legacy_records_migrated_total",
			Help: "旧スキーマから変換したレコードの合計数",
		}),
		signatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presenze_signatures",
			Help: "台帳に登録されている署名数",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presenze_exports_total",
			Help: "結果別のCSVエクスポート数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "presenze_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signaturesCreated,
		c.duplicatesRejected,
		c.validationFailures,
		c.resets,
		c.storageErrors,
		c.legacyMigrated,
		c.signatures,
		c.exports,
		c.httpStatus,
	)

	return c
}

// SignatureCreated は署名の登録を記録する。
func (c *Collector) SignatureCreated() {
	c.signaturesCreated.Inc()
}

// DuplicateRejected は重複署名の拒否を記録する。
func (c *Collector) DuplicateRejected() {
	c.duplicatesRejected.Inc()
}

// ValidationFailed は入力検証エラーを記録する。
func (c *Collector) ValidationFailed(code string) {
	c.validationFailures.WithLabelValues(code).Inc()
}

// LedgerReset は台帳リセットを記録する。
func (c *Collector) LedgerReset() {
	c.resets.Inc()
}

// StorageError は永続化層のエラーを記録する。
func (c *Collector) StorageError(op string) {
	c.storageErrors.WithLabelValues(op).Inc()
}

// LegacyMigrated は旧スキーマから変換したレコード数を記録する。
func (c *Collector) LegacyMigrated(n int) {
	c.legacyMigrated.Add(float64(n))
}

// SetSignatures は現在の署名数を記録する。
func (c *Collector) SetSignatures(n int) {
	c.signatures.Set(float64(n))
}

// RecordExport はCSVエクスポートの結果（ok, empty, error）を記録する。
func (c *Collector) RecordExport(result string) {
	c.exports.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のメトリクスの収集に失敗しても、収集できた分は返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
