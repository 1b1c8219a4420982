package controllers

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	strataapi "github.com/anvil-platform/strata/api/v1alpha1"
)

const clusterMemberControllerName = "clustermember"

// ClusterMemberReconciler removes ClusterMember records whose lease lapsed
// more than GracePeriod ago. Deletion is idempotent, so every node may run
// it without leader election.
//
// RBAC:
// +kubebuilder:rbac:groups=cluster.strata.dev,resources=clustermembers,verbs=get;list;watch;create;update;patch;delete
type ClusterMemberReconciler struct {
	client.Client
	Scheme      *runtime.Scheme
	GracePeriod time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *ClusterMemberReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx).WithValues(
		"controller", "ClusterMember",
		"namespace", req.Namespace,
		"member", req.Name,
	)
	strataControllerReconcileTotal.WithLabelValues(clusterMemberControllerName).Inc()

	var member strataapi.ClusterMember
	if err := r.Get(ctx, req.NamespacedName, &member); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	if member.DeletionTimestamp != nil {
		return ctrl.Result{}, nil
	}

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	deadline := member.ExpiresAt().Add(r.GracePeriod)
	if now.Before(deadline) {
		return ctrl.Result{RequeueAfter: deadline.Sub(now)}, nil
	}

	if err := r.Delete(ctx, &member); client.IgnoreNotFound(err) != nil {
		strataControllerReconcileErrorTotal.WithLabelValues(clusterMemberControllerName).Inc()
		logger.Error(err, "failed to delete expired member")
		return ctrl.Result{}, err
	}
	clusterMembersReapedTotal.Inc()
	logger.Info("reaped expired member",
		"address", member.Spec.Host,
		"port", member.Spec.Port,
		"expiredFor", now.Sub(member.ExpiresAt()).String(),
	)
	return ctrl.Result{}, nil
}

func (r *ClusterMemberReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&strataapi.ClusterMember{}).
		Complete(r)
}
