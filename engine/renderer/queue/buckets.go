package queue

import (
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/node"
)

const (
	sideFront = iota
	sideBack
)

func side(cull gpu.CullMode) int {
	if cull == gpu.CullModeFront {
		return sideFront
	}
	return sideBack
}

// Buckets partitions nodes by cull side, then by node kind. A Buckets value
// is never modified once published by the queue.
type Buckets struct {
	nodes [2][node.KindCount][]*node.Node
}

func (b *Buckets) add(n *node.Node) {
	s := side(n.Cull)
	b.nodes[s][n.Kind] = append(b.nodes[s][n.Kind], n)
}

// Nodes returns the bucket of one cull side and kind.
func (b *Buckets) Nodes(cull gpu.CullMode, kind node.Kind) []*node.Node {
	if b == nil || kind >= node.KindCount {
		return nil
	}
	return b.nodes[side(cull)][kind]
}

func (b *Buckets) Len() int {
	if b == nil {
		return 0
	}
	n := 0
	for s := range b.nodes {
		for k := range b.nodes[s] {
			n += len(b.nodes[s][k])
		}
	}
	return n
}

// Each visits front nodes then back nodes, kind by kind.
func (b *Buckets) Each(fn func(n *node.Node)) {
	if b == nil {
		return
	}
	for s := range b.nodes {
		for k := range b.nodes[s] {
			for _, n := range b.nodes[s][k] {
				fn(n)
			}
		}
	}
}

// Contains is true when n sits in the bucket matching its side and kind.
func (b *Buckets) Contains(n *node.Node) bool {
	for _, o := range b.Nodes(n.Cull, n.Kind) {
		if o == n {
			return true
		}
	}
	return false
}
