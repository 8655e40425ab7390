package ring

import (
	"fmt"

	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/util"
	"github.com/google/btree"
)

// Ring is an immutable view of ring membership. Descriptors are kept in a
// B-tree ordered by name hash; ownership is a successor lookup.
type Ring struct {
	tree   *btree.BTreeG[model.NodeDescriptor]
	byName map[string]model.NodeDescriptor
}

func lessByHash(a, b model.NodeDescriptor) bool {
	return a.NameHash.Less(b.NameHash)
}

// Member is the identity of a node joining the ring
type Member struct {
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Build hashes the members onto the ring and computes each node's range
// from its predecessor, so the ranges partition the hash space exactly once
func Build(members []Member) (*Ring, error) {
	nodes := make([]model.NodeDescriptor, 0, len(members))
	for _, m := range members {
		nodes = append(nodes, model.NewNodeDescriptor(m.Name, m.Host, m.Port))
	}
	return assemble(nodes, true)
}

// New builds a ring from descriptors as supplied by the coordinator,
// keeping their range boundaries untouched
func New(nodes []model.NodeDescriptor) (*Ring, error) {
	return assemble(nodes, false)
}

func assemble(nodes []model.NodeDescriptor, computeRanges bool) (*Ring, error) {
	r := &Ring{
		tree:   btree.NewG[model.NodeDescriptor](2, lessByHash),
		byName: make(map[string]model.NodeDescriptor, len(nodes)),
	}

	for _, n := range nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node descriptor without name")
		}
		if _, dup := r.byName[n.Name]; dup {
			return nil, fmt.Errorf("duplicate node %s", n.Name)
		}
		if existing, clash := r.tree.Get(n); clash {
			return nil, fmt.Errorf("nodes %s and %s hash to the same position", existing.Name, n.Name)
		}
		r.tree.ReplaceOrInsert(n)
		r.byName[n.Name] = n
	}

	if computeRanges {
		r.recomputeRanges()
	}
	return r, nil
}

// recomputeRanges sets every RangeStart to the predecessor's NameHash
func (r *Ring) recomputeRanges() {
	ordered := r.Nodes()
	if len(ordered) == 0 {
		return
	}
	prev := ordered[len(ordered)-1]
	for _, n := range ordered {
		n.RangeStart = prev.NameHash
		n.RangeEnd = n.NameHash
		r.tree.ReplaceOrInsert(n)
		r.byName[n.Name] = n
		prev = n
	}
}

// Len returns the number of nodes on the ring
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	return r.tree.Len()
}

// Nodes returns descriptors in clockwise order starting at the origin
func (r *Ring) Nodes() []model.NodeDescriptor {
	if r == nil {
		return nil
	}
	out := make([]model.NodeDescriptor, 0, r.tree.Len())
	r.tree.Ascend(func(n model.NodeDescriptor) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Lookup finds a node by name
func (r *Ring) Lookup(name string) (model.NodeDescriptor, bool) {
	if r == nil {
		return model.NodeDescriptor{}, false
	}
	n, ok := r.byName[name]
	return n, ok
}

// Successor returns the node owning hash h: the first node clockwise whose
// name hash is >= h, wrapping to the lowest node past the top of the ring
func (r *Ring) Successor(h util.Hash) (model.NodeDescriptor, bool) {
	if r.Len() == 0 {
		return model.NodeDescriptor{}, false
	}
	var found model.NodeDescriptor
	ok := false
	r.tree.AscendGreaterOrEqual(model.NodeDescriptor{NameHash: h}, func(n model.NodeDescriptor) bool {
		found, ok = n, true
		return false
	})
	if !ok {
		return r.tree.Min()
	}
	return found, true
}

// Owner returns the node responsible for key
func (r *Ring) Owner(key string) (model.NodeDescriptor, bool) {
	return r.Successor(util.HashString(key))
}

// With returns a new ring with member added and ranges recomputed, plus the
// range the new node takes over from its successor and that successor's name
func (r *Ring) With(m Member) (*Ring, model.HashRange, string, error) {
	members := r.members()
	members = append(members, m)
	next, err := Build(members)
	if err != nil {
		return nil, model.HashRange{}, "", err
	}
	added, _ := next.Lookup(m.Name)
	if next.Len() == 1 {
		return next, added.Range(), "", nil
	}
	succ := next.after(added.NameHash)
	return next, added.Range(), succ.Name, nil
}

// Without returns a new ring with name removed, plus the range the removed
// node owned and the successor that inherits it
func (r *Ring) Without(name string) (*Ring, model.HashRange, string, error) {
	removed, ok := r.Lookup(name)
	if !ok {
		return nil, model.HashRange{}, "", fmt.Errorf("node %s not in ring", name)
	}
	members := make([]Member, 0, r.Len()-1)
	for _, m := range r.members() {
		if m.Name != name {
			members = append(members, m)
		}
	}
	next, err := Build(members)
	if err != nil {
		return nil, model.HashRange{}, "", err
	}
	if next.Len() == 0 {
		return next, removed.Range(), "", nil
	}
	succ, _ := next.Successor(removed.NameHash)
	return next, removed.Range(), succ.Name, nil
}

// after returns the node strictly clockwise of h
func (r *Ring) after(h util.Hash) model.NodeDescriptor {
	var found model.NodeDescriptor
	ok := false
	r.tree.AscendGreaterOrEqual(model.NodeDescriptor{NameHash: h}, func(n model.NodeDescriptor) bool {
		if n.NameHash == h {
			return true
		}
		found, ok = n, true
		return false
	})
	if !ok {
		found, _ = r.tree.Min()
	}
	return found
}

func (r *Ring) members() []Member {
	nodes := r.Nodes()
	out := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Member{Name: n.Name, Host: n.Host, Port: n.Port})
	}
	return out
}
