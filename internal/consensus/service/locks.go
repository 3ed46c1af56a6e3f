package service

import (
	"context"
	"hash/fnv"
	"sync"

	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// subjectLocks serializes writes per subject using sharded mutexes keyed by
// a hash of the subject id, so unrelated subjects rarely contend.
const numSubjectShards = 128

type subjectLocks struct {
	shards [numSubjectShards]sync.Mutex
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{}
}

// lock acquires the subject's shard and returns the release func.
func (l *subjectLocks) lock(ctx context.Context, subject id.SubjectID) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "subject lock aborted: context cancelled")
	}
	mu := &l.shards[hashSubject(subject)%numSubjectShards]
	mu.Lock()

	// The wait may have outlived the caller.
	if err := ctx.Err(); err != nil {
		mu.Unlock()
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "subject lock aborted: context cancelled")
	}
	return mu.Unlock, nil
}

func hashSubject(subject id.SubjectID) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(subject[:])
	return h.Sum32()
}
