package processor

import "container/heap"

// queueItem wraps a Request with the insertion sequence number used to
// break priority ties in submission order (earlier submission wins).
type queueItem struct {
	req Request
	seq int64
}

// priorityQueue orders queueItems by descending priority, then by
// ascending sequence number. It implements container/heap.Interface; no
// library in the example pack offers a priority queue, so this one small
// ordering structure is built on the standard library.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].req.Priority() != pq[j].req.Priority() {
		return pq[i].req.Priority() > pq[j].req.Priority()
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x any) { *pq = append(*pq, x.(*queueItem)) }

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

func (pq *priorityQueue) removeByID(id string) (*queueItem, bool) {
	for i, it := range *pq {
		if it.req.ID() == id {
			heap.Remove(pq, i)
			return it, true
		}
	}
	return nil, false
}
