package model

import (
	"fmt"
	"net"
	"strconv"

	"github.com/devrev/ringkv/internal/util"
)

// NodeDescriptor identifies a storage node and the hash interval it owns.
// The owned interval is (RangeStart, RangeEnd] read clockwise; RangeEnd is
// always the node's own NameHash and RangeStart its predecessor's.
type NodeDescriptor struct {
	Name       string    `json:"name"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	NameHash   util.Hash `json:"name_hash"`
	RangeStart util.Hash `json:"range_start"`
	RangeEnd   util.Hash `json:"range_end"`
}

// NewNodeDescriptor creates a descriptor that owns the whole ring, as for a
// node that is alone in it
func NewNodeDescriptor(name, host string, port int) NodeDescriptor {
	h := util.HashString(name)
	return NodeDescriptor{
		Name:       name,
		Host:       host,
		Port:       port,
		NameHash:   h,
		RangeStart: h,
		RangeEnd:   h,
	}
}

// Addr returns the host:port the node serves clients on
func (d NodeDescriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Owns reports whether the node is responsible for hash h
func (d NodeDescriptor) Owns(h util.Hash) bool {
	switch d.RangeStart.Compare(d.RangeEnd) {
	case 0:
		// only node on the ring
		return true
	case -1:
		return d.RangeStart.Less(h) && h.Compare(d.RangeEnd) <= 0
	default:
		return d.RangeStart.Less(h) || h.Compare(d.RangeEnd) <= 0
	}
}

// Range returns the owned interval as a HashRange
func (d NodeDescriptor) Range() HashRange {
	return HashRange{Low: d.RangeStart, High: d.RangeEnd}
}

// String implements fmt.Stringer
func (d NodeDescriptor) String() string {
	return fmt.Sprintf("%s@%s (%s, %s]", d.Name, d.Addr(), d.RangeStart, d.RangeEnd)
}

// HashRange is a clockwise interval on the ring. Low > High means the
// interval wraps past the origin.
type HashRange struct {
	Low  util.Hash `json:"low"`
	High util.Hash `json:"high"`
}

// Wraps reports whether the range crosses the ring origin
func (r HashRange) Wraps() bool {
	return r.High.Less(r.Low)
}

// Contains reports whether h lies strictly between Low and High, clockwise.
// Both bounds are exclusive.
func (r HashRange) Contains(h util.Hash) bool {
	if r.Wraps() {
		return r.Low.Less(h) || h.Less(r.High)
	}
	return r.Low.Less(h) && h.Less(r.High)
}

// String implements fmt.Stringer
func (r HashRange) String() string {
	return fmt.Sprintf("(%s, %s)", r.Low, r.High)
}
