package kubernetes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	strataapi "github.com/anvil-platform/strata/api/v1alpha1"
	"github.com/anvil-platform/strata/internal/cluster"
)

type fakeHealth struct {
	healthy bool
	err     error
	reports int
}

func (f *fakeHealth) Healthy()            { f.healthy, f.err = true, nil; f.reports++ }
func (f *fakeHealth) Unhealthy(err error) { f.healthy, f.err = false, err; f.reports++ }

var now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	if err := strataapi.AddToScheme(scheme); err != nil {
		t.Fatalf("AddToScheme(strata): %v", err)
	}
	return scheme
}

func peer(name, host string, port int32, renewed time.Time) *strataapi.ClusterMember {
	renew := metav1.NewMicroTime(renewed)
	return &strataapi.ClusterMember{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "strata",
			Labels:    map[string]string{strataapi.LabelClusterName: "oap"},
		},
		Spec: strataapi.ClusterMemberSpec{
			ClusterName:          "oap",
			Host:                 host,
			Port:                 port,
			Props:                map[string]string{cluster.PropVersion: "1.0.0"},
			RenewTime:            &renew,
			LeaseDurationSeconds: 30,
		},
	}
}

func newCoordinator(t *testing.T, c client.Client, opts Options) (*Coordinator, *fakeHealth) {
	t.Helper()
	opts.Namespace = "strata"
	opts.ClusterName = "oap"
	coord := NewCoordinator(c, cluster.NewNodeChecker(), opts)
	coord.now = func() time.Time { return now }
	health := &fakeHealth{}
	coord.SetHealthChecker(health)
	return coord, health
}

func selfInstance() cluster.Instance {
	return cluster.Instance{
		Address: cluster.NewAddress("10.0.0.5", 11800),
		Props:   map[string]string{cluster.PropVersion: "1.0.0", cluster.PropRole: "Mixed"},
	}
}

func TestRegisterRemote_PublishesMember(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	coord, health := newCoordinator(t, cl, Options{LeaseDuration: 20 * time.Second})

	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))
	require.True(t, health.healthy)

	var list strataapi.ClusterMemberList
	require.NoError(t, cl.List(ctx, &list, client.InNamespace("strata")))
	require.Len(t, list.Items, 1)
	m := list.Items[0]
	require.Equal(t, "oap", m.Labels[strataapi.LabelClusterName])
	require.Equal(t, "10.0.0.5", m.Spec.Host)
	require.EqualValues(t, 11800, m.Spec.Port)
	require.EqualValues(t, 20, m.Spec.LeaseDurationSeconds)
	require.Equal(t, "Mixed", m.Spec.Props[cluster.PropRole])
}

func TestRegisterRemote_UsesInternalAddress(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	coord, _ := newCoordinator(t, cl, Options{InternalComHost: "oap-0.oap-internal", InternalComPort: 11900})

	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))

	nodes, err := coord.QueryRemoteNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Equal(t, cluster.Address{Host: "oap-0.oap-internal", Port: 11900, Self: true}, nodes[0].Address)
}

func TestRegisterRemote_ReplacesPreviousRecord(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	coord, _ := newCoordinator(t, cl, Options{})

	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))
	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))

	var list strataapi.ClusterMemberList
	require.NoError(t, cl.List(ctx, &list, client.InNamespace("strata")))
	require.Len(t, list.Items, 1)
}

func TestRegisterRemote_FailureFlipsHealth(t *testing.T) {
	boom := errors.New("apiserver unavailable")
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			return boom
		},
	}).Build()
	coord, health := newCoordinator(t, cl, Options{})

	err := coord.RegisterRemote(context.Background(), selfInstance())

	var regErr *cluster.RegistrationError
	require.True(t, errors.As(err, &regErr), "expected RegistrationError, got %v", err)
	require.ErrorIs(t, err, boom)
	require.False(t, health.healthy)
}

func TestQueryRemoteNodes_SkipsExpiredAndMarksSelf(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(
		peer("peer-live", "10.0.0.7", 11800, now.Add(-5*time.Second)),
		peer("peer-expired", "10.0.0.8", 11800, now.Add(-time.Minute)),
		func() *strataapi.ClusterMember {
			other := peer("other-cluster", "10.0.0.9", 11800, now)
			other.Labels[strataapi.LabelClusterName] = "other"
			return other
		}(),
	).Build()
	coord, health := newCoordinator(t, cl, Options{})
	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))

	nodes, err := coord.QueryRemoteNodes(ctx)
	require.NoError(t, err)
	cluster.SortInstances(nodes)

	require.Len(t, nodes, 2)
	require.Equal(t, cluster.Address{Host: "10.0.0.5", Port: 11800, Self: true}, nodes[0].Address)
	require.Equal(t, cluster.Address{Host: "10.0.0.7", Port: 11800}, nodes[1].Address)
	require.Equal(t, "peer-live", nodes[1].ID)
	require.True(t, health.healthy)
}

func TestQueryRemoteNodes_InvalidMemberListStillReturned(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(
		peer("peer-live", "10.0.0.7", 11800, now),
	).Build()
	coord, health := newCoordinator(t, cl, Options{})

	// Role Mixed, but this node never registered.
	nodes, err := coord.QueryRemoteNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.False(t, health.healthy)
	require.ErrorContains(t, health.err, "self")
}

func TestQueryRemoteNodes_ListFailure(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).WithInterceptorFuncs(interceptor.Funcs{
		List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
			return context.DeadlineExceeded
		},
	}).Build()
	coord, health := newCoordinator(t, cl, Options{})

	_, err := coord.QueryRemoteNodes(context.Background())
	var qErr *cluster.QueryError
	require.True(t, errors.As(err, &qErr), "expected QueryError, got %v", err)
	require.False(t, health.healthy)
}

func TestRenew_RefreshesAndRecreates(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	coord, _ := newCoordinator(t, cl, Options{})
	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))
	name := coord.registered.Name

	coord.now = func() time.Time { return now.Add(10 * time.Second) }
	require.NoError(t, coord.Renew(ctx))

	var got strataapi.ClusterMember
	require.NoError(t, cl.Get(ctx, client.ObjectKey{Namespace: "strata", Name: name}, &got))
	require.True(t, got.Spec.RenewTime.Time.Equal(now.Add(10*time.Second)), "renewTime=%v", got.Spec.RenewTime)

	// The record disappears, for example reaped during a partition.
	require.NoError(t, cl.Delete(ctx, &got))
	require.NoError(t, coord.Renew(ctx))
	require.NoError(t, cl.Get(ctx, client.ObjectKey{Namespace: "strata", Name: name}, &got))
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	cl := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	coord, _ := newCoordinator(t, cl, Options{})
	require.NoError(t, coord.RegisterRemote(ctx, selfInstance()))
	name := coord.registered.Name

	require.NoError(t, coord.Deregister(ctx))
	err := cl.Get(ctx, client.ObjectKey{Namespace: "strata", Name: name}, &strataapi.ClusterMember{})
	require.True(t, apierrors.IsNotFound(err), "expected NotFound, got %v", err)
	require.NoError(t, coord.Deregister(ctx))
}
