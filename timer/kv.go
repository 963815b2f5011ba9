package timer

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/couchbase/gocb/v2"

	"github.com/couchbase/eventing-consumer/logging"
	"github.com/couchbase/eventing-consumer/stats"
)

// KV errors, normalized so the store logic stays client-agnostic.
var (
	ErrorKeyExists   = errors.New("timer.keyExists")
	ErrorKeyMissing  = errors.New("timer.keyMissing")
	ErrorCasMismatch = errors.New("timer.casMismatch")
)

// Result of one KV operation. Callback-and-cookie plumbing from the KV
// client is flattened into this record.
type Result struct {
	Value []byte
	Cas   uint64
}

// kvStore is the slice of the KV client the timer store needs. The gocb
// implementation is below; tests substitute an in-memory one.
type kvStore interface {
	Insert(key string, value []byte) (Result, error)
	Upsert(key string, value []byte) (Result, error)
	Replace(key string, value []byte, cas uint64) (Result, error)
	Get(key string) (Result, error)
	Delete(key string, cas uint64) error
	Counter(key string, initial uint64) (uint64, error)
}

const (
	kvTimeout    = 2500 * time.Millisecond
	kvRetries    = 5
	kvRetryDelay = 200 * time.Millisecond
)

// gocbStore drives one collection synchronously; each worker thread
// owns its own instance, so no call here ever re-enters from a client
// callback.
type gocbStore struct {
	coll    *gocb.Collection
	metrics *stats.Metrics
}

func newGocbStore(bucket *gocb.Bucket, metrics *stats.Metrics) *gocbStore {
	return &gocbStore{coll: bucket.DefaultCollection(), metrics: metrics}
}

// retriable says whether an error is worth the fixed-backoff loop.
func retriable(err error) bool {
	return errors.Is(err, gocb.ErrTemporaryFailure) ||
		errors.Is(err, gocb.ErrTimeout)
}

// withRetry runs op up to kvRetries times with fixed backoff.
func (s *gocbStore) withRetry(what string, op func() error) error {
	var err error
	for attempt := 0; attempt < kvRetries; attempt++ {
		if err = op(); err == nil || !retriable(err) {
			return err
		}
		logging.Debugf("gocbStore %v retriable failure, attempt %v: %v", what, attempt+1, err)
		time.Sleep(kvRetryDelay)
	}
	stats.Incr(&s.metrics.LcbRetryFailure)
	return err
}

func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gocb.ErrDocumentExists):
		return ErrorKeyExists
	case errors.Is(err, gocb.ErrDocumentNotFound):
		return ErrorKeyMissing
	case errors.Is(err, gocb.ErrCasMismatch):
		return ErrorCasMismatch
	default:
		return err
	}
}

func (s *gocbStore) Insert(key string, value []byte) (Result, error) {
	var res Result
	err := s.withRetry("insert", func() error {
		out, err := s.coll.Insert(key, json.RawMessage(value),
			&gocb.InsertOptions{Timeout: kvTimeout})
		if err != nil {
			return err
		}
		res.Cas = uint64(out.Cas())
		return nil
	})
	return res, normalize(err)
}

func (s *gocbStore) Upsert(key string, value []byte) (Result, error) {
	var res Result
	err := s.withRetry("upsert", func() error {
		out, err := s.coll.Upsert(key, json.RawMessage(value),
			&gocb.UpsertOptions{Timeout: kvTimeout})
		if err != nil {
			return err
		}
		res.Cas = uint64(out.Cas())
		return nil
	})
	return res, normalize(err)
}

func (s *gocbStore) Replace(key string, value []byte, cas uint64) (Result, error) {
	var res Result
	err := s.withRetry("replace", func() error {
		out, err := s.coll.Replace(key, json.RawMessage(value),
			&gocb.ReplaceOptions{Cas: gocb.Cas(cas), Timeout: kvTimeout})
		if err != nil {
			return err
		}
		res.Cas = uint64(out.Cas())
		return nil
	})
	return res, normalize(err)
}

func (s *gocbStore) Get(key string) (Result, error) {
	var res Result
	err := s.withRetry("get", func() error {
		out, err := s.coll.Get(key, &gocb.GetOptions{Timeout: kvTimeout})
		if err != nil {
			return err
		}
		var raw json.RawMessage
		if err := out.Content(&raw); err != nil {
			return err
		}
		res.Value = raw
		res.Cas = uint64(out.Cas())
		return nil
	})
	return res, normalize(err)
}

func (s *gocbStore) Delete(key string, cas uint64) error {
	err := s.withRetry("delete", func() error {
		_, err := s.coll.Remove(key, &gocb.RemoveOptions{
			Cas: gocb.Cas(cas), Timeout: kvTimeout})
		return err
	})
	return normalize(err)
}

func (s *gocbStore) Counter(key string, initial uint64) (uint64, error) {
	var val uint64
	err := s.withRetry("counter", func() error {
		out, err := s.coll.Binary().Increment(key, &gocb.IncrementOptions{
			Initial: int64(initial), Delta: 1, Timeout: kvTimeout})
		if err != nil {
			return err
		}
		val = out.Content()
		return nil
	})
	return val, normalize(err)
}
