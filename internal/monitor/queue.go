package monitor

import (
	"bytes"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// entry is one scheduled check. The queue may hold several entries for
// the same address; stale duplicates are dropped at pop time by the
// processing set.
type entry struct {
	due  time.Time
	addr common.Address
}

// updateQueue is a min-heap ordered by due time, ties broken by address
// for deterministic pops.
type updateQueue []entry

func (q updateQueue) Len() int { return len(q) }

func (q updateQueue) Less(i, j int) bool {
	if !q[i].due.Equal(q[j].due) {
		return q[i].due.Before(q[j].due)
	}
	return bytes.Compare(q[i].addr[:], q[j].addr[:]) < 0
}

func (q updateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *updateQueue) Push(x interface{}) { *q = append(*q, x.(entry)) }

func (q *updateQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
