package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	strataControllerReconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_controller_reconcile_total",
			Help: "Number of reconciliations by controller.",
		},
		[]string{"controller"},
	)
	strataControllerReconcileErrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_controller_reconcile_error_total",
			Help: "Number of reconciliation errors by controller.",
		},
		[]string{"controller"},
	)

	clusterMembersReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strata_clustermember_reaped_total",
			Help: "Total number of expired ClusterMembers deleted.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		strataControllerReconcileTotal,
		strataControllerReconcileErrorTotal,
		clusterMembersReapedTotal,
	)
}
