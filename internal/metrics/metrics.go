// Package metrics счётчики Prometheus для журнала прохождений, каталога и кошелька.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pesapoll"

// Metrics набор счётчиков сервиса. Методы допускают nil-получатель.
type Metrics struct {
	completions  prometheus.Counter
	credited     prometheus.Counter
	rejections   *prometheus.CounterVec
	catalogFetch *prometheus.CounterVec
	withdrawals  prometheus.Counter
	withdrawn    prometheus.Counter
	casConflicts prometheus.Counter
}

// New регистрирует счётчики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		completions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "survey_completions_total",
			Help:      "Survey completions recorded in the ledger.",
		}),
		credited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_credited_ksh_total",
			Help:      "Rewards credited to user balances.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "survey_rejections_total",
			Help:      "Survey starts or submissions rejected by the guard.",
		}, []string{"reason"}),
		catalogFetch: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_fetches_total",
			Help:      "Upstream catalog fetch attempts by source and result.",
		}, []string{"source", "result"}),
		withdrawals: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Accepted withdrawal requests.",
		}),
		withdrawn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_ksh_total",
			Help:      "Amount withdrawn.",
		}),
		casConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_conflicts_total",
			Help:      "Ledger transactions abandoned after exhausting retries.",
		}),
	}
}

// Completed учитывает прохождение и начисленную сумму.
func (m *Metrics) Completed(payout int64) {
	if m == nil {
		return
	}
	m.completions.Inc()
	if payout > 0 {
		m.credited.Add(float64(payout))
	}
}

// Rejected учитывает отказ с причиной reason.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// CatalogFetch учитывает обращение к источнику каталога.
func (m *Metrics) CatalogFetch(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.catalogFetch.WithLabelValues(source, result).Inc()
}

// Withdrawn учитывает вывод средств.
func (m *Metrics) Withdrawn(amount int64) {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
	m.withdrawn.Add(float64(amount))
}

// Conflict учитывает транзакцию, брошенную после исчерпания повторов.
func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}
