// Package igp computes all-pairs shortest paths over the internal
// subgraph, preserving equal-cost multipath first-hop sets.
// Per-source computations are independent, so they run concurrently
// across an errgroup bounded by GOMAXPROCS.
package igp

import (
	"container/heap"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/netlab/bgpsim/internal/topology"
)

// Entry is the distance and first-hop set from one source to one
// target, preserving ties.
type Entry struct {
	Distance  float64
	FirstHops map[topology.RouterID]struct{}
}

// Table is the all-pairs distance table: Table[source][target].
// A missing (source, target) entry means target is unreachable from
// source (treated as +∞).
type Table map[topology.RouterID]map[topology.RouterID]Entry

// Compute recomputes the full all-pairs table over the internal
// subgraph of g (only Internal-kind routers and their links
// participate — external attachments carry no interior weight and are
// resolved separately by the router's BGP next-hop step).
func Compute(g *topology.Graph) Table {
	internal := make([]topology.RouterID, 0)
	for _, id := range g.Routers() {
		r, _ := g.Router(id)
		if r.Kind == topology.Internal {
			internal = append(internal, id)
		}
	}

	results := make([]map[topology.RouterID]Entry, len(internal))
	var eg errgroup.Group
	eg.SetLimit(max(1, runtime.GOMAXPROCS(0)))
	for i, src := range internal {
		i, src := i, src
		eg.Go(func() error {
			results[i] = shortestPathsFrom(g, src, internal)
			return nil
		})
	}
	_ = eg.Wait() // shortestPathsFrom never errors

	table := make(Table, len(internal))
	for i, src := range internal {
		table[src] = results[i]
	}
	return table
}

type heapItem struct {
	id   topology.RouterID
	dist float64
}

type priorityQueue []heapItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(heapItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// shortestPathsFrom runs Dijkstra from src over the internal subgraph,
// recording every first-hop that achieves the best known distance to
// each target (ECMP).
func shortestPathsFrom(g *topology.Graph, src topology.RouterID, internal []topology.RouterID) map[topology.RouterID]Entry {
	internalSet := make(map[topology.RouterID]struct{}, len(internal))
	for _, id := range internal {
		internalSet[id] = struct{}{}
	}

	dist := map[topology.RouterID]float64{src: 0}
	firstHop := map[topology.RouterID]map[topology.RouterID]struct{}{src: {}}
	visited := make(map[topology.RouterID]bool)

	pq := &priorityQueue{{id: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		top := heap.Pop(pq).(heapItem)
		u := top.id
		if visited[u] {
			continue
		}
		visited[u] = true

		for _, v := range g.Neighbors(u) {
			if _, ok := internalSet[v]; !ok {
				continue // external attachments don't participate in IGP
			}
			w, _ := g.Weight(u, v)
			cand := dist[u] + w

			cur, known := dist[v]
			switch {
			case !known || cand < cur-epsilon:
				dist[v] = cand
				if u == src {
					firstHop[v] = map[topology.RouterID]struct{}{v: {}}
				} else {
					firstHop[v] = cloneSet(firstHop[u])
				}
				heap.Push(pq, heapItem{id: v, dist: cand})
			case math.Abs(cand-cur) <= epsilon:
				// Equal-cost: merge in this path's first-hop set.
				var hops map[topology.RouterID]struct{}
				if u == src {
					hops = map[topology.RouterID]struct{}{v: {}}
				} else {
					hops = firstHop[u]
				}
				for h := range hops {
					firstHop[v][h] = struct{}{}
				}
			}
		}
	}

	out := make(map[topology.RouterID]Entry, len(dist))
	for id, d := range dist {
		if id == src {
			continue
		}
		out[id] = Entry{Distance: d, FirstHops: firstHop[id]}
	}
	return out
}

func cloneSet(s map[topology.RouterID]struct{}) map[topology.RouterID]struct{} {
	out := make(map[topology.RouterID]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

const epsilon = 1e-9
