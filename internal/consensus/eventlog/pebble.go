package eventlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

// Key layout:
//
//	e/<subject:16><seq:8>              -> record
//	f/<subject:16><source>\x00<fp:32>  -> event id
//	i/<event:16>                       -> subject:16 seq:8
//	m/seq                              -> last assigned seq
var (
	prefixEvent       = []byte("e/")
	prefixFingerprint = []byte("f/")
	prefixIndex       = []byte("i/")
	keySeq            = []byte("m/seq")
)

// record is the stored form of an event. Evidence is zstd-compressed.
type record struct {
	ID          id.EventID         `json:"id"`
	Seq         uint64             `json:"seq"`
	SubjectID   id.SubjectID       `json:"subject_id"`
	Source      id.EvidenceSource  `json:"source"`
	Confidence  float64            `json:"confidence"`
	Status      models.EventStatus `json:"status"`
	Reference   string             `json:"reference,omitempty"`
	Evidence    []byte             `json:"evidence,omitempty"`
	ObservedAt  time.Time          `json:"observed_at"`
	ReceivedAt  time.Time          `json:"received_at"`
	Supersedes  *id.EventID        `json:"supersedes,omitempty"`
	ResolvedBy  *id.UserID         `json:"resolved_by,omitempty"`
	Fingerprint models.Fingerprint `json:"fingerprint"`
}

// PebbleLog persists the log in a Pebble database. Appends are synced
// before they are acknowledged.
type PebbleLog struct {
	db      *pebble.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu  sync.Mutex // serializes appends and the seq counter
	seq uint64
}

// OpenPebble opens (or creates) the log at path.
func OpenPebble(path string) (*PebbleLog, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(16 << 20),
		MemTableSize: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = encoder.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	l := &PebbleLog{db: db, encoder: encoder, decoder: decoder}

	raw, err := l.get(keySeq)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("read seq: %w", err)
	}
	if len(raw) == 8 {
		l.seq = binary.BigEndian.Uint64(raw)
	}
	return l, nil
}

func (l *PebbleLog) Close() error {
	l.decoder.Close()
	_ = l.encoder.Close()
	return l.db.Close()
}

func (l *PebbleLog) Append(_ context.Context, e *models.Event) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fpKey := fingerprintKey(e.SubjectID, e.Source, e.Fingerprint)
	existing, err := l.get(fpKey)
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	idx, err := l.get(indexKey(e.ID))
	if err != nil {
		return false, fmt.Errorf("check event id: %w", err)
	}
	if idx != nil {
		return false, fmt.Errorf("event %s: %w", e.ID, sentinel.ErrConflict)
	}

	seq := l.seq + 1
	value, err := l.encode(e, seq)
	if err != nil {
		return false, err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	eventID := uuid.UUID(e.ID)
	subject := uuid.UUID(e.SubjectID)

	batch := l.db.NewBatch()
	defer batch.Close()
	for _, kv := range [][2][]byte{
		{eventKey(e.SubjectID, seq), value},
		{fpKey, eventID[:]},
		{indexKey(e.ID), append(append([]byte{}, subject[:]...), seqBuf[:]...)},
		{keySeq, seqBuf[:]},
	} {
		if err := batch.Set(kv[0], kv[1], nil); err != nil {
			return false, fmt.Errorf("stage append: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("commit append: %w", err)
	}
	l.seq = seq
	e.Seq = seq
	return true, nil
}

func (l *PebbleLog) Get(_ context.Context, eventID id.EventID) (*models.Event, error) {
	idx, err := l.get(indexKey(eventID))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	if len(idx) != 24 {
		return nil, fmt.Errorf("event %s: %w", eventID, sentinel.ErrNotFound)
	}
	var subject id.SubjectID
	copy(subject[:], idx[:16])
	raw, err := l.get(eventKey(subject, binary.BigEndian.Uint64(idx[16:])))
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("event %s: %w", eventID, sentinel.ErrNotFound)
	}
	return l.decode(raw)
}

func (l *PebbleLog) ListBySubject(_ context.Context, subject id.SubjectID) ([]*models.Event, error) {
	var events []*models.Event
	err := l.iteratePrefix(subjectPrefix(subject), func(_, value []byte) error {
		e, err := l.decode(value)
		if err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Subjects returns every subject ordered by the seq of its first event.
func (l *PebbleLog) Subjects(_ context.Context) ([]id.SubjectID, error) {
	first := make(map[id.SubjectID]uint64)
	err := l.iteratePrefix(prefixEvent, func(key, _ []byte) error {
		if len(key) != len(prefixEvent)+24 {
			return nil
		}
		var subject id.SubjectID
		copy(subject[:], key[len(prefixEvent):len(prefixEvent)+16])
		if _, seen := first[subject]; !seen {
			first[subject] = binary.BigEndian.Uint64(key[len(prefixEvent)+16:])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	subjects := make([]id.SubjectID, 0, len(first))
	for s := range first {
		subjects = append(subjects, s)
	}
	sort.Slice(subjects, func(i, j int) bool { return first[subjects[i]] < first[subjects[j]] })
	return subjects, nil
}

func (l *PebbleLog) encode(e *models.Event, seq uint64) ([]byte, error) {
	rec := record{
		ID:          e.ID,
		Seq:         seq,
		SubjectID:   e.SubjectID,
		Source:      e.Source,
		Confidence:  e.Confidence,
		Status:      e.Status,
		Reference:   e.Reference,
		ObservedAt:  e.ObservedAt,
		ReceivedAt:  e.ReceivedAt,
		Supersedes:  e.Supersedes,
		ResolvedBy:  e.ResolvedBy,
		Fingerprint: e.Fingerprint,
	}
	if len(e.Evidence) > 0 {
		rec.Evidence = l.encoder.EncodeAll(e.Evidence, nil)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return value, nil
}

func (l *PebbleLog) decode(value []byte) (*models.Event, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	e := &models.Event{
		ID:          rec.ID,
		Seq:         rec.Seq,
		SubjectID:   rec.SubjectID,
		Source:      rec.Source,
		Confidence:  rec.Confidence,
		Status:      rec.Status,
		Reference:   rec.Reference,
		ObservedAt:  rec.ObservedAt,
		ReceivedAt:  rec.ReceivedAt,
		Supersedes:  rec.Supersedes,
		ResolvedBy:  rec.ResolvedBy,
		Fingerprint: rec.Fingerprint,
	}
	if len(rec.Evidence) > 0 {
		evidence, err := l.decoder.DecodeAll(rec.Evidence, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress evidence: %w", err)
		}
		e.Evidence = evidence
	}
	return e, nil
}

// get returns a copy of the value, or nil when the key is absent.
func (l *PebbleLog) get(key []byte) ([]byte, error) {
	value, closer, err := l.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (l *PebbleLog) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func eventKey(subject id.SubjectID, seq uint64) []byte {
	key := subjectPrefix(subject)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func subjectPrefix(subject id.SubjectID) []byte {
	u := uuid.UUID(subject)
	key := make([]byte, 0, len(prefixEvent)+24)
	key = append(key, prefixEvent...)
	return append(key, u[:]...)
}

func fingerprintKey(subject id.SubjectID, source id.EvidenceSource, fp models.Fingerprint) []byte {
	u := uuid.UUID(subject)
	key := make([]byte, 0, len(prefixFingerprint)+16+len(source)+1+32)
	key = append(key, prefixFingerprint...)
	key = append(key, u[:]...)
	key = append(key, source...)
	key = append(key, 0)
	return append(key, fp[:]...)
}

func indexKey(eventID id.EventID) []byte {
	u := uuid.UUID(eventID)
	return append(append([]byte{}, prefixIndex...), u[:]...)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
