package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrelay_actions_total",
			Help: "Protocol actions processed, by action and outcome.",
		},
		[]string{"action", "status"},
	)

	sweptRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrelay_swept_records_total",
			Help: "Records removed by garbage-collection sweeps, by table.",
		},
		[]string{"table"},
	)

	feesChargedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authrelay_fees_charged_units_total",
			Help: "Fee amounts charged in minimal asset units, by symbol.",
		},
		[]string{"symbol"},
	)
)

func observeAction(action string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	actionsTotal.WithLabelValues(action, status).Inc()
}
