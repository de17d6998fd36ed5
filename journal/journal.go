package journal

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"lukechampine.com/blake3"

	"creditnet/core/events"
)

var (
	bucketEvents  = []byte("events")
	bucketCursors = []byte("cursors")

	// ErrEmptyType is returned when an event without a type tag is appended.
	ErrEmptyType = errors.New("event type must not be empty")
	// ErrEmptyConsumer is returned when a cursor operation names no consumer.
	ErrEmptyConsumer = errors.New("consumer name must not be empty")
	// ErrDigestMismatch is returned by Verify when a stored envelope no longer
	// matches its recorded digest.
	ErrDigestMismatch = errors.New("journal envelope digest mismatch")
	// ErrSequenceGap is returned by Verify when the event bucket is missing a
	// sequence number.
	ErrSequenceGap = errors.New("journal sequence gap")
)

const subscribePageSize = 256

// Envelope is the durable form of an emitted ledger event. Consumers key
// redelivery off Seq and deduplicate off Digest.
type Envelope struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Digest     string            `json:"digest"`
	EmittedAt  int64             `json:"emittedAt"`
}

// Journal persists every emitted ledger event in an append-only BoltDB log and
// tracks per-consumer delivery cursors. Delivery is at-least-once: a consumer
// that crashes between reading an envelope and acking it sees the envelope
// again on restart.
type Journal struct {
	db    *bolt.DB
	nowFn func() time.Time
	errFn func(error)

	mu     sync.Mutex
	notify chan struct{}
}

// NewJournal opens (and migrates) the BoltDB-backed journal at path.
func NewJournal(path string, options *bolt.Options) (*Journal, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEvents, bucketCursors} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{
		db:     db,
		nowFn:  time.Now,
		notify: make(chan struct{}),
	}, nil
}

// Close releases the underlying Bolt database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// SetNowFunc overrides the timestamp source used for EmittedAt.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now != nil {
		j.nowFn = now
	}
}

// SetErrorFunc installs a sink for append and subscription failures that have
// no caller to return to, such as errors inside Emit.
func (j *Journal) SetErrorFunc(fn func(error)) {
	j.errFn = fn
}

// Emit implements events.Emitter. Append failures are routed to the error
// sink; the emitting ledger operation has already committed and must not be
// unwound by a journalling fault.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	record := evt.Record()
	if record == nil {
		return
	}
	if _, err := j.Append(record.Type, record.Attributes); err != nil {
		j.fail(fmt.Errorf("journal append %s: %w", record.Type, err))
	}
}

// Append assigns the next sequence number to the event and persists its
// envelope. The returned envelope carries the blake3 digest of the canonical
// payload.
func (j *Journal) Append(evtType string, attrs map[string]string) (Envelope, error) {
	if evtType == "" {
		return Envelope{}, ErrEmptyType
	}
	env := Envelope{
		Type:      evtType,
		EmittedAt: j.nowFn().Unix(),
	}
	if len(attrs) > 0 {
		env.Attributes = make(map[string]string, len(attrs))
		for key, value := range attrs {
			env.Attributes[key] = value
		}
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketEvents)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		env.Seq = seq
		digest, err := canonicalDigest(env)
		if err != nil {
			return err
		}
		env.Digest = hex.EncodeToString(digest[:])
		encoded, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), encoded)
	})
	if err != nil {
		return Envelope{}, err
	}
	j.broadcast()
	return env, nil
}

// Replay invokes fn for every stored envelope with sequence >= from, in
// order. Iteration stops at the first error from fn.
func (j *Journal) Replay(from uint64, fn func(Envelope) error) error {
	return j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for key, value := cursor.Seek(seqKey(from)); key != nil; key, value = cursor.Next() {
			var env Envelope
			if err := json.Unmarshal(value, &env); err != nil {
				return fmt.Errorf("decode envelope %x: %w", key, err)
			}
			if err := fn(env); err != nil {
				return err
			}
		}
		return nil
	})
}

// Subscribe streams stored envelopes with sequence >= from and then follows
// live appends until ctx is cancelled. The channel is closed on cancellation
// or on a read failure (routed to the error sink).
func (j *Journal) Subscribe(ctx context.Context, from uint64) <-chan Envelope {
	out := make(chan Envelope, subscribePageSize)
	go func() {
		defer close(out)
		next := from
		if next == 0 {
			next = 1
		}
		for {
			// Arm the append signal before paging so an append that lands
			// between the page read and the wait is not missed.
			wait := j.appendSignal()
			batch, err := j.page(next, subscribePageSize)
			if err != nil {
				j.fail(fmt.Errorf("journal subscribe: %w", err))
				return
			}
			for _, env := range batch {
				select {
				case out <- env:
					next = env.Seq + 1
				case <-ctx.Done():
					return
				}
			}
			if len(batch) == subscribePageSize {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}()
	return out
}

// Ack records that consumer has processed every envelope up to and including
// seq. Cursors only move forward, so redelivered acks are harmless.
func (j *Journal) Ack(consumer string, seq uint64) error {
	if consumer == "" {
		return ErrEmptyConsumer
	}
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCursors)
		if raw := bucket.Get([]byte(consumer)); len(raw) == 8 {
			if binary.BigEndian.Uint64(raw) >= seq {
				return nil
			}
		}
		return bucket.Put([]byte(consumer), seqKey(seq))
	})
}

// Cursor reports the highest acked sequence for consumer. The boolean is
// false when the consumer has never acked.
func (j *Journal) Cursor(consumer string) (uint64, bool, error) {
	if consumer == "" {
		return 0, false, ErrEmptyConsumer
	}
	var (
		seq uint64
		ok  bool
	)
	err := j.db.View(func(tx *bolt.Tx) error {
		if raw := tx.Bucket(bucketCursors).Get([]byte(consumer)); len(raw) == 8 {
			seq = binary.BigEndian.Uint64(raw)
			ok = true
		}
		return nil
	})
	return seq, ok, err
}

// LastSeq reports the sequence of the newest stored envelope, zero when the
// journal is empty.
func (j *Journal) LastSeq() (uint64, error) {
	var last uint64
	err := j.db.View(func(tx *bolt.Tx) error {
		if key, _ := tx.Bucket(bucketEvents).Cursor().Last(); len(key) == 8 {
			last = binary.BigEndian.Uint64(key)
		}
		return nil
	})
	return last, err
}

// Verify walks the whole journal, recomputing every digest and checking that
// sequence numbers are contiguous from 1.
func (j *Journal) Verify() error {
	expected := uint64(1)
	return j.Replay(0, func(env Envelope) error {
		if env.Seq != expected {
			return fmt.Errorf("%w: have %d, want %d", ErrSequenceGap, env.Seq, expected)
		}
		expected++
		digest, err := canonicalDigest(env)
		if err != nil {
			return err
		}
		if env.Digest != hex.EncodeToString(digest[:]) {
			return fmt.Errorf("%w at seq %d", ErrDigestMismatch, env.Seq)
		}
		return nil
	})
}

// page collects up to limit envelopes starting at from. Reads are batched so
// no Bolt transaction stays open across a blocking channel send.
func (j *Journal) page(from uint64, limit int) ([]Envelope, error) {
	var batch []Envelope
	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEvents).Cursor()
		for key, value := cursor.Seek(seqKey(from)); key != nil && len(batch) < limit; key, value = cursor.Next() {
			var env Envelope
			if err := json.Unmarshal(value, &env); err != nil {
				return fmt.Errorf("decode envelope %x: %w", key, err)
			}
			batch = append(batch, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (j *Journal) appendSignal() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.notify
}

func (j *Journal) broadcast() {
	j.mu.Lock()
	defer j.mu.Unlock()
	close(j.notify)
	j.notify = make(chan struct{})
}

func (j *Journal) fail(err error) {
	if j.errFn != nil {
		j.errFn(err)
	}
}

func canonicalDigest(env Envelope) ([32]byte, error) {
	var zero [32]byte
	buf := bytes.NewBuffer(nil)
	if err := binary.Write(buf, binary.BigEndian, env.Seq); err != nil {
		return zero, err
	}
	if err := writeDelimited(buf, []byte(env.Type)); err != nil {
		return zero, err
	}
	keys := make([]string, 0, len(env.Attributes))
	for key := range env.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if err := binary.Write(buf, binary.BigEndian, uint32(len(keys))); err != nil {
		return zero, err
	}
	for _, key := range keys {
		if err := writeDelimited(buf, []byte(key)); err != nil {
			return zero, err
		}
		if err := writeDelimited(buf, []byte(env.Attributes[key])); err != nil {
			return zero, err
		}
	}
	if err := binary.Write(buf, binary.BigEndian, env.EmittedAt); err != nil {
		return zero, err
	}
	return blake3.Sum256(buf.Bytes()), nil
}

func writeDelimited(buf *bytes.Buffer, data []byte) error {
	length := uint32(0)
	if data != nil {
		length = uint32(len(data))
	}
	if err := binary.Write(buf, binary.BigEndian, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	if _, err := buf.Write(data); err != nil {
		return err
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
