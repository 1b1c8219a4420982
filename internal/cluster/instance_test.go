package cluster

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func addrs(in []Instance) []string {
	out := make([]string, 0, len(in))
	for _, i := range in {
		out = append(out, i.Address.Key())
	}
	return out
}

func TestAddress_EqualityIgnoresSelf(t *testing.T) {
	a := Address{Host: "10.0.0.1", Port: 11800, Self: true}
	b := Address{Host: "10.0.0.1", Port: 11800}
	if !a.Equal(b) || a.Key() != b.Key() {
		t.Fatalf("expected %v and %v to be equal", a, b)
	}
	if a.Equal(Address{Host: "10.0.0.1", Port: 11801}) {
		t.Fatalf("expected different ports to differ")
	}
}

func TestSortInstances_IndependentOfInputOrder(t *testing.T) {
	base := []Instance{
		{ID: "1", Address: NewAddress("10.0.0.2", 11800)},
		{ID: "2", Address: NewAddress("10.0.0.1", 11801)},
		{ID: "3", Address: NewAddress("10.0.0.1", 11800)},
		{ID: "4", Address: NewAddress("10.0.0.10", 9000)},
	}

	a := append([]Instance(nil), base...)
	b := append([]Instance(nil), base...)
	rand.New(rand.NewSource(7)).Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })

	SortInstances(a)
	SortInstances(b)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("sorted lists differ (-a +b):\n%s", diff)
	}
	want := []string{"10.0.0.1:11800", "10.0.0.1:11801", "10.0.0.10:9000", "10.0.0.2:11800"}
	if diff := cmp.Diff(want, addrs(a)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestDistinct_KeepsFirstPerAddress(t *testing.T) {
	in := []Instance{
		{ID: "old", Address: NewAddress("10.0.0.1", 11800)},
		{ID: "other", Address: NewAddress("10.0.0.2", 11800)},
		{ID: "new", Address: NewAddress("10.0.0.1", 11800)},
	}
	out := Distinct(in)
	if len(out) != 2 || out[0].ID != "old" || out[1].ID != "other" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestMarkSelf(t *testing.T) {
	in := []Instance{
		{Address: Address{Host: "a", Port: 1, Self: true}},
		{Address: NewAddress("b", 1)},
	}
	self := NewAddress("b", 1)
	MarkSelf(in, &self)
	if in[0].Address.Self || !in[1].Address.Self {
		t.Fatalf("unexpected self flags: %+v", in)
	}
	MarkSelf(in, nil)
	if in[1].Address.Self {
		t.Fatalf("expected no self without a registered address")
	}
}
