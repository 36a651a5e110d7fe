// Copyright 2026 The Tabletop Sync Authors
// SPDX-License-Identifier: Apache-2.0

package materializer

import (
	"container/heap"

	"github.com/tabletop-sync/core/eventlog"
)

// topologicalOrder orders records for folding: in-degree is counted
// only over parents present in the input set (orphan parents — events
// referenced but not included — are tolerated and ignored). Ready
// events are emitted from a priority queue keyed by (lamport_clock
// ASC, event_id ordinal ASC), so ties resolve identically on every
// replica. Any records never reached (a cycle; should not occur since
// events are content-addressed, but handled defensively) are appended
// at the end, also ordered by (lamport_clock, event_id) (spec §4.E).
func topologicalOrder(records []*eventlog.EventRecord) []*eventlog.EventRecord {
	byID := make(map[string]*eventlog.EventRecord, len(records))
	for _, record := range records {
		byID[record.EventID] = record
	}

	inDegree := make(map[string]int, len(records))
	children := make(map[string][]string, len(records))
	for _, record := range records {
		degree := 0
		for _, parent := range record.Parents {
			if _, present := byID[parent]; present {
				degree++
				children[parent] = append(children[parent], record.EventID)
			}
		}
		inDegree[record.EventID] = degree
	}

	ready := &eventHeap{}
	heap.Init(ready)
	for _, record := range records {
		if inDegree[record.EventID] == 0 {
			heap.Push(ready, record)
		}
	}

	ordered := make([]*eventlog.EventRecord, 0, len(records))
	emitted := make(map[string]bool, len(records))

	for ready.Len() > 0 {
		record := heap.Pop(ready).(*eventlog.EventRecord)
		ordered = append(ordered, record)
		emitted[record.EventID] = true

		for _, childID := range children[record.EventID] {
			inDegree[childID]--
			if inDegree[childID] == 0 {
				heap.Push(ready, byID[childID])
			}
		}
	}

	if len(ordered) < len(records) {
		var remaining []*eventlog.EventRecord
		for _, record := range records {
			if !emitted[record.EventID] {
				remaining = append(remaining, record)
			}
		}
		remainder := &eventHeap{}
		heap.Init(remainder)
		for _, record := range remaining {
			heap.Push(remainder, record)
		}
		for remainder.Len() > 0 {
			ordered = append(ordered, heap.Pop(remainder).(*eventlog.EventRecord))
		}
	}

	return ordered
}

// eventHeap is a container/heap priority queue of event records keyed
// by (lamport_clock ASC, event_id ordinal ASC).
type eventHeap []*eventlog.EventRecord

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].LamportClock != h[j].LamportClock {
		return h[i].LamportClock < h[j].LamportClock
	}
	return h[i].EventID < h[j].EventID
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) {
	*h = append(*h, x.(*eventlog.EventRecord))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
