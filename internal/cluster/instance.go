package cluster

import (
	"cmp"
	"net"
	"sort"
	"strconv"
	"strings"
)

// Instance property keys.
const (
	PropVersion = "version"
	PropRole    = "role"
)

// Address identifies a node by host and port. Self is informational and
// never part of equality.
type Address struct {
	Host string
	Port int
	Self bool
}

func NewAddress(host string, port int) Address {
	return Address{Host: host, Port: port}
}

// Key is the host:port form used for equality and map keys.
func (a Address) Key() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) String() string { return a.Key() }

func (a Address) Equal(b Address) bool {
	return a.Host == b.Host && a.Port == b.Port
}

// Compare orders addresses by host, then port.
func (a Address) Compare(b Address) int {
	if c := strings.Compare(a.Host, b.Host); c != 0 {
		return c
	}
	return cmp.Compare(a.Port, b.Port)
}

// Instance is a cluster member as seen through the coordination backend.
type Instance struct {
	// ID is the registration id. A restarted process gets a new ID for the
	// same address.
	ID      string
	Address Address
	Props   map[string]string
}

// SortInstances orders instances by address.
func SortInstances(in []Instance) {
	sort.SliceStable(in, func(i, j int) bool {
		return in[i].Address.Compare(in[j].Address) < 0
	})
}

// Distinct keeps the first instance for every address.
func Distinct(in []Instance) []Instance {
	seen := make(map[string]struct{}, len(in))
	out := make([]Instance, 0, len(in))
	for _, inst := range in {
		key := inst.Address.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, inst)
	}
	return out
}

// MarkSelf sets Address.Self on every instance whose address equals self.
func MarkSelf(in []Instance, self *Address) {
	for i := range in {
		in[i].Address.Self = self != nil && in[i].Address.Equal(*self)
	}
}
