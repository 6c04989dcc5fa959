package retrieval

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/askneu/askneu/pkg/models"
)

// merger keeps the best candidates seen so far in a bounded heap keyed
// by raw distance, collapsing duplicates by document ID. It is safe
// for concurrent use by fan-out workers.
type merger struct {
	mu       sync.Mutex
	limit    int
	byDoc    map[string]*mergeItem
	heap     mergeHeap
	received int
}

type mergeItem struct {
	cand  models.Candidate
	index int
}

func newMerger(limit int) *merger {
	return &merger{
		limit: limit,
		byDoc: make(map[string]*mergeItem),
	}
}

// worse orders candidates from best to worst: lower distance wins,
// ties broken by collection ID then document ID ascending. The heap
// keeps the worst kept candidate at its root so it can be evicted.
func worse(a, b models.Candidate) bool {
	if a.RawDistance != b.RawDistance {
		return a.RawDistance > b.RawDistance
	}
	if a.CollectionID != b.CollectionID {
		return a.CollectionID > b.CollectionID
	}
	return a.DocID > b.DocID
}

// Add merges a batch of shard results and returns the total number of
// candidates received so far, which drives the early-stop threshold.
func (m *merger) Add(candidates []models.Candidate) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.received += len(candidates)

	for _, cand := range candidates {
		if existing, ok := m.byDoc[cand.DocID]; ok {
			// Duplicate doc: keep the lower distance.
			if worse(existing.cand, cand) {
				existing.cand = cand
				heap.Fix(&m.heap, existing.index)
			}
			continue
		}

		if len(m.byDoc) < m.limit {
			item := &mergeItem{cand: cand}
			m.byDoc[cand.DocID] = item
			heap.Push(&m.heap, item)
			continue
		}

		// At capacity: replace the worst kept candidate if this one
		// is strictly better.
		root := m.heap[0]
		if worse(root.cand, cand) {
			delete(m.byDoc, root.cand.DocID)
			root.cand = cand
			m.byDoc[cand.DocID] = root
			heap.Fix(&m.heap, 0)
		}
	}

	return m.received
}

// Received returns the total number of candidates accepted so far.
func (m *merger) Received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Results returns the kept candidates ordered best-first: ascending
// raw distance, ties by collection ID then document ID. The ordering
// is a pure function of the accepted candidates.
func (m *merger) Results() []models.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Candidate, 0, len(m.heap))
	for _, item := range m.heap {
		out = append(out, item.cand)
	}
	sort.Slice(out, func(i, j int) bool {
		return worse(out[j], out[i])
	})
	return out
}

// mergeHeap is a max-heap on "worseness": the root is the worst kept
// candidate.
type mergeHeap []*mergeItem

func (h mergeHeap) Len() int { return len(h) }

func (h mergeHeap) Less(i, j int) bool { return worse(h[i].cand, h[j].cand) }

func (h mergeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *mergeHeap) Push(x any) {
	item := x.(*mergeItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
