package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	TxSubmittedTotal      *prometheus.CounterVec
	TxStageFailuresTotal  *prometheus.CounterVec
	TxTrackOutcomeTotal   *prometheus.CounterVec
	TxPollAttemptsTotal   prometheus.Counter
	SignerBusyTotal       prometheus.Counter
	RPCDuration           *prometheus.HistogramVec
	TrackerResumedTotal   prometheus.Counter
	ConfirmWorkerInFlight prometheus.Gauge
}

// Business 在 monitor.Init 之前为 nil，下面的 Record* 函数都做了 nil 判断，
// 所以 CLI 和单元测试可以不初始化 Prometheus 直接调用核心逻辑
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		TxSubmittedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_tx_submitted_total",
			Help: "Transactions accepted by the node, by signer kind",
		}, []string{"signer"}),
		TxStageFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_tx_stage_failures_total",
			Help: "Submission failures by stage (build, estimate, sign, broadcast)",
		}, []string{"stage"}),
		TxTrackOutcomeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_tx_track_outcome_total",
			Help: "Terminal confirmation tracking outcomes",
		}, []string{"status"}),
		TxPollAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_tx_poll_attempts_total",
			Help: "Receipt poll attempts",
		}),
		SignerBusyTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_signer_busy_total",
			Help: "External signer requests rejected because one was already pending",
		}),
		RPCDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wallet_rpc_duration_seconds",
			Help:    "JSON-RPC call latency by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "result"}),
		TrackerResumedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "wallet_tracker_resumed_total",
			Help: "Timed out transactions re-queued by the resume job",
		}),
		ConfirmWorkerInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wallet_confirm_worker_inflight",
			Help: "Transactions currently tracked by the confirmation worker",
		}),
	}
}

func RecordSubmitted(signerKind string) {
	if Business != nil {
		Business.TxSubmittedTotal.WithLabelValues(signerKind).Inc()
	}
}

func RecordStageFailure(stage string) {
	if Business != nil {
		Business.TxStageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

func RecordTrackOutcome(status string) {
	if Business != nil {
		Business.TxTrackOutcomeTotal.WithLabelValues(status).Inc()
	}
}

func RecordPollAttempt() {
	if Business != nil {
		Business.TxPollAttemptsTotal.Inc()
	}
}

func RecordSignerBusy() {
	if Business != nil {
		Business.SignerBusyTotal.Inc()
	}
}

func RecordResumed(n int) {
	if Business != nil {
		Business.TrackerResumedTotal.Add(float64(n))
	}
}

// ObserveRPC 记录一次 RPC 调用耗时
func ObserveRPC(method string, start time.Time, err error) {
	if Business == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	Business.RPCDuration.WithLabelValues(method, result).Observe(time.Since(start).Seconds())
}

func TrackWorkerInFlight(delta float64) {
	if Business != nil {
		Business.ConfirmWorkerInFlight.Add(delta)
	}
}
