package service

import (
	"sync"

	id "vigil/pkg/domain"
)

// Queue holds subjects waiting for evaluation in insertion order. A subject
// already waiting keeps its original position when pushed again.
type Queue struct {
	mu     sync.Mutex
	order  []id.SubjectID
	queued map[id.SubjectID]struct{}
}

func NewQueue() *Queue {
	return &Queue{queued: make(map[id.SubjectID]struct{})}
}

// Push returns false when the subject was already waiting.
func (q *Queue) Push(subject id.SubjectID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[subject]; ok {
		return false
	}
	q.queued[subject] = struct{}{}
	q.order = append(q.order, subject)
	return true
}

// PopBatch removes up to n subjects from the front.
func (q *Queue) PopBatch(n int) []id.SubjectID {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || len(q.order) == 0 {
		return nil
	}
	if n > len(q.order) {
		n = len(q.order)
	}
	batch := make([]id.SubjectID, n)
	copy(batch, q.order[:n])
	q.order = append(q.order[:0:0], q.order[n:]...)
	for _, s := range batch {
		delete(q.queued, s)
	}
	return batch
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
