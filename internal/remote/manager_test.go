package remote

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anvil-platform/strata/internal/cluster"
)

type fakeQuery struct {
	mu        sync.Mutex
	instances []cluster.Instance
	err       error
}

func (q *fakeQuery) set(instances ...cluster.Instance) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.instances, q.err = instances, nil
}

func (q *fakeQuery) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.err = err
}

func (q *fakeQuery) QueryRemoteNodes(ctx context.Context) ([]cluster.Instance, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	out := make([]cluster.Instance, len(q.instances))
	copy(out, q.instances)
	return out, nil
}

type fakeClient struct {
	addr     cluster.Address
	mu       sync.Mutex
	connects int
	closes   int
}

func (c *fakeClient) Address() cluster.Address { return c.addr }

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return nil
}

func (c *fakeClient) Push(ctx context.Context, worker string, payload []byte) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type fakeGauge struct{ v float64 }

func (g *fakeGauge) Set(v float64) { g.v = v }
func (g *fakeGauge) Inc()          { g.v++ }
func (g *fakeGauge) Dec()          { g.v-- }
func (g *fakeGauge) Add(v float64) { g.v += v }

type factoryRecorder struct {
	mu      sync.Mutex
	created map[string]*fakeClient
}

func (f *factoryRecorder) build(addr cluster.Address) Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{addr: addr}
	if f.created == nil {
		f.created = map[string]*fakeClient{}
	}
	f.created[addr.Key()] = c
	return c
}

func node(host string, port int, self bool) cluster.Instance {
	return cluster.Instance{Address: cluster.Address{Host: host, Port: port, Self: self}}
}

func newTestManager(q cluster.NodesQuery) (*Manager, *factoryRecorder, *fakeGauge) {
	f := &factoryRecorder{}
	g := &fakeGauge{}
	return NewManager(q, ManagerOptions{Factory: f.build, ClusterSize: g}), f, g
}

func keys(s *Snapshot) []string {
	var out []string
	for _, a := range s.Addresses() {
		out = append(out, a.Key())
	}
	return out
}

func TestRefresh_DeduplicatesByAddress(t *testing.T) {
	q := &fakeQuery{}
	a1 := node("10.0.0.1", 11800, false)
	a1.ID = "registration-1"
	a2 := node("10.0.0.1", 11800, false)
	a2.ID = "registration-2"
	q.set(a1, a2)
	m, _, gauge := newTestManager(q)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := m.RemoteClients().Len(); got != 1 {
		t.Fatalf("expected 1 client, got %d", got)
	}
	if gauge.v != 1 {
		t.Fatalf("expected cluster_size 1, got %v", gauge.v)
	}
}

func TestRefresh_DeterministicOrder(t *testing.T) {
	members := []cluster.Instance{
		node("10.0.0.2", 11800, false),
		node("10.0.0.1", 11801, false),
		node("10.0.0.1", 11800, true),
		node("10.0.0.10", 11800, false),
	}
	reversed := make([]cluster.Instance, len(members))
	for i := range members {
		reversed[len(members)-1-i] = members[i]
	}

	q1, q2 := &fakeQuery{}, &fakeQuery{}
	q1.set(members...)
	q2.set(reversed...)
	m1, _, _ := newTestManager(q1)
	m2, _, _ := newTestManager(q2)
	_ = m1.Refresh(context.Background())
	_ = m2.Refresh(context.Background())

	want := []string{"10.0.0.1:11800", "10.0.0.1:11801", "10.0.0.10:11800", "10.0.0.2:11800"}
	if diff := cmp.Diff(want, keys(m1.RemoteClients())); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(keys(m1.RemoteClients()), keys(m2.RemoteClients())); diff != "" {
		t.Fatalf("nodes disagree on order (-m1 +m2):\n%s", diff)
	}
}

func TestRefresh_UnchangedMembersKeepSnapshot(t *testing.T) {
	q := &fakeQuery{}
	q.set(node("10.0.0.1", 11800, true), node("10.0.0.2", 11800, false))
	m, f, _ := newTestManager(q)

	_ = m.Refresh(context.Background())
	first := m.RemoteClients()
	_ = m.Refresh(context.Background())
	second := m.RemoteClients()

	if first != second {
		t.Fatalf("expected the same snapshot after an unchanged refresh")
	}
	if len(f.created) != 2 {
		t.Fatalf("expected 2 clients created, got %d", len(f.created))
	}
	for key, c := range f.created {
		if c.closes != 0 || c.connects != 1 {
			t.Fatalf("client %s: connects=%d closes=%d", key, c.connects, c.closes)
		}
	}
}

func TestRefresh_ReconciliationDiff(t *testing.T) {
	q := &fakeQuery{}
	a, b, c, d := node("10.0.0.1", 11800, false), node("10.0.0.2", 11800, false), node("10.0.0.3", 11800, false), node("10.0.0.4", 11800, false)
	q.set(a, b, c)
	m, f, gauge := newTestManager(q)
	_ = m.Refresh(context.Background())

	before := m.RemoteClients()
	clientA, clientB, clientC := before.At(0), before.At(1), before.At(2)

	q.set(d, c, b)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	after := m.RemoteClients()

	if diff := cmp.Diff([]string{"10.0.0.2:11800", "10.0.0.3:11800", "10.0.0.4:11800"}, keys(after)); diff != "" {
		t.Fatalf("unexpected pool (-want +got):\n%s", diff)
	}
	if after.At(0) != clientB || after.At(1) != clientC {
		t.Fatalf("expected B and C clients to be reused")
	}
	if got := clientA.(*fakeClient).closes; got != 1 {
		t.Fatalf("expected A closed once, got %d", got)
	}
	if clientB.(*fakeClient).closes != 0 || clientC.(*fakeClient).closes != 0 {
		t.Fatalf("unchanged clients must not be closed")
	}
	clientD := f.created["10.0.0.4:11800"]
	if clientD == nil || after.At(2) != Client(clientD) || clientD.connects != 1 {
		t.Fatalf("expected a fresh connected client for D")
	}
	if gauge.v != 3 {
		t.Fatalf("expected cluster_size 3, got %v", gauge.v)
	}
}

func TestRefresh_NeverClosesSelf(t *testing.T) {
	q := &fakeQuery{}
	q.set(node("10.0.0.1", 11800, true), node("10.0.0.2", 11800, false))
	m, _, _ := newTestManager(q)
	_ = m.Refresh(context.Background())
	self := m.RemoteClients().At(0).(*fakeClient)
	if !self.addr.Self {
		t.Fatalf("expected first client to be self")
	}

	// The backend briefly reports the peer only.
	q.set(node("10.0.0.2", 11800, false))
	_ = m.Refresh(context.Background())

	if self.closes != 0 {
		t.Fatalf("self client was closed")
	}
	if diff := cmp.Diff([]string{"10.0.0.2:11800"}, keys(m.RemoteClients())); diff != "" {
		t.Fatalf("unexpected pool (-want +got):\n%s", diff)
	}
}

func TestRefresh_QueryFailureKeepsPool(t *testing.T) {
	q := &fakeQuery{}
	q.set(node("10.0.0.1", 11800, true))
	m, _, _ := newTestManager(q)
	_ = m.Refresh(context.Background())
	before := m.RemoteClients()

	boom := errors.New("backend unreachable")
	q.fail(boom)
	if err := m.Refresh(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected query error, got %v", err)
	}
	if m.RemoteClients() != before {
		t.Fatalf("pool changed after a failed query")
	}
}

func TestClose_ReleasesEveryClient(t *testing.T) {
	q := &fakeQuery{}
	q.set(node("10.0.0.1", 11800, true), node("10.0.0.2", 11800, false))
	m, f, _ := newTestManager(q)
	_ = m.Refresh(context.Background())

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.RemoteClients().Len() != 0 {
		t.Fatalf("expected an empty pool")
	}
	for key, c := range f.created {
		if c.closes != 1 {
			t.Fatalf("client %s closed %d times", key, c.closes)
		}
	}
}

func TestStart_RefreshesUntilCancelled(t *testing.T) {
	q := &fakeQuery{}
	q.set(node("10.0.0.1", 11800, true))
	m, _, _ := newTestManager(q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	for m.RemoteClients().Len() == 0 {
		select {
		case <-done:
			t.Fatalf("Start returned early")
		default:
		}
	}
	cancel()
	<-done
}
