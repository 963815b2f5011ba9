package timer

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbase/eventing-consumer/stats"
)

// fakeKV is an in-memory kvStore with CAS semantics.
type fakeKV struct {
	mu     sync.Mutex
	docs   map[string][]byte
	cas    map[string]uint64
	casSeq uint64
}

func newFakeKV() *fakeKV {
	return &fakeKV{docs: make(map[string][]byte), cas: make(map[string]uint64)}
}

func (f *fakeKV) nextCas() uint64 {
	f.casSeq++
	return f.casSeq
}

func (f *fakeKV) Insert(key string, value []byte) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[key]; ok {
		return Result{}, ErrorKeyExists
	}
	f.docs[key] = append([]byte(nil), value...)
	f.cas[key] = f.nextCas()
	return Result{Cas: f.cas[key]}, nil
}

func (f *fakeKV) Upsert(key string, value []byte) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[key] = append([]byte(nil), value...)
	f.cas[key] = f.nextCas()
	return Result{Cas: f.cas[key]}, nil
}

func (f *fakeKV) Replace(key string, value []byte, cas uint64) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[key]; !ok {
		return Result{}, ErrorKeyMissing
	}
	if cas != 0 && f.cas[key] != cas {
		return Result{}, ErrorCasMismatch
	}
	f.docs[key] = append([]byte(nil), value...)
	f.cas[key] = f.nextCas()
	return Result{Cas: f.cas[key]}, nil
}

func (f *fakeKV) Get(key string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.docs[key]
	if !ok {
		return Result{}, ErrorKeyMissing
	}
	return Result{Value: append([]byte(nil), data...), Cas: f.cas[key]}, nil
}

func (f *fakeKV) Delete(key string, cas uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[key]; !ok {
		return ErrorKeyMissing
	}
	if cas != 0 && f.cas[key] != cas {
		return ErrorCasMismatch
	}
	delete(f.docs, key)
	delete(f.cas, key)
	return nil
}

func (f *fakeKV) Counter(key string, initial uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[key]; !ok {
		f.docs[key] = []byte("counter")
		f.cas[key] = initial
		return initial, nil
	}
	f.cas[key]++
	return f.cas[key], nil
}

const testNow = int64(1700000000)

func testStore(t *testing.T, partitions ...int64) (*Store, *fakeKV) {
	t.Helper()
	kv := newFakeKV()
	s := newStore(kv, "evt::fn1", partitions, stats.NewMetrics(), 0)
	s.now = func() int64 { return testNow }
	return s, kv
}

func TestSetTimerExpandsSpan(t *testing.T) {
	s, _ := testStore(t, 4)
	s.SyncSpan()

	ev := &Event{
		AlarmTime: testNow + 30,
		Reference: "r1",
		Callback:  "cb",
		Context:   `{"n":1}`,
		Partition: 4,
	}
	require.NoError(t, s.SetTimer(ev))
	s.SyncSpan()

	span, ok := s.SpanSnapshot(4)
	require.True(t, ok)
	require.LessOrEqual(t, span.Start, ev.AlarmTime)
	require.GreaterOrEqual(t, span.Stop, ev.AlarmTime)
}

func TestSetTimerDuplicateIsNotFatal(t *testing.T) {
	s, _ := testStore(t, 4)
	ev := &Event{AlarmTime: testNow, Reference: "r1", Callback: "cb", Partition: 4}
	require.NoError(t, s.SetTimer(ev))
	dup := &Event{AlarmTime: testNow, Reference: "r1", Callback: "cb", Partition: 4}
	require.NoError(t, s.SetTimer(dup))
}

func TestSetTimerUnownedPartition(t *testing.T) {
	s, _ := testStore(t, 4)
	ev := &Event{AlarmTime: testNow, Reference: "r1", Callback: "cb", Partition: 9}
	require.Error(t, s.SetTimer(ev))
}

func TestIteratorFiresAndShrinks(t *testing.T) {
	s, kv := testStore(t, 4)
	ev := &Event{
		AlarmTime: testNow - 1,
		Reference: "r1",
		Callback:  "cb",
		Context:   `{"k":"v"}`,
		Partition: 4,
	}
	require.NoError(t, s.SetTimer(ev))

	it := s.GetIterator()
	got, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "r1", got.Reference)
	require.Equal(t, "cb", got.Callback)
	require.Equal(t, `{"k":"v"}`, got.Context)

	it.AckFired(got)
	_, ok = it.Next()
	require.False(t, ok)

	span, found := s.SpanSnapshot(4)
	require.True(t, found)
	require.Greater(t, span.Start, testNow-1)

	// the fired event document is gone
	_, err := kv.Get(eventKey("evt::fn1", 4, testNow-1, "r1"))
	require.Equal(t, ErrorKeyMissing, err)
}

func TestIteratorOrdering(t *testing.T) {
	s, _ := testStore(t, 2, 7)
	require.NoError(t, s.SetTimer(&Event{
		AlarmTime: testNow - 1, Reference: "b", Callback: "cb", Partition: 7}))
	require.NoError(t, s.SetTimer(&Event{
		AlarmTime: testNow - 2, Reference: "a", Callback: "cb", Partition: 2}))
	require.NoError(t, s.SetTimer(&Event{
		AlarmTime: testNow - 2, Reference: "c", Callback: "cb", Partition: 2}))

	it := s.GetIterator()
	var order []string
	for {
		ev, ok := it.Next()
		if !ok {
			break
		}
		order = append(order, ev.Reference)
		it.AckFired(ev)
	}
	require.Equal(t, []string{"a", "c", "b"}, order)
}

func TestLargeContextCompression(t *testing.T) {
	s, kv := testStore(t, 4)
	bigCtx := `{"blob":"` + strings.Repeat("x", 4096) + `"}`
	ev := &Event{
		AlarmTime: testNow - 1,
		Reference: "big",
		Callback:  "cb",
		Context:   bigCtx,
		Partition: 4,
	}
	require.NoError(t, s.SetTimer(ev))

	// stored form is compressed
	res, err := kv.Get(eventKey("evt::fn1", 4, testNow-1, "big"))
	require.NoError(t, err)
	require.Contains(t, string(res.Value), `"compressed":true`)
	require.Less(t, len(res.Value), len(bigCtx))

	// loaded form round-trips
	loaded, err := s.loadEvent(4, testNow-1, "big")
	require.NoError(t, err)
	require.Equal(t, bigCtx, loaded.Context)
	require.False(t, loaded.Compressed)
}

func TestDeleteTimerPrunesIndex(t *testing.T) {
	s, kv := testStore(t, 4)
	require.NoError(t, s.SetTimer(&Event{
		AlarmTime: testNow, Reference: "r1", Callback: "cb", Partition: 4}))
	require.NoError(t, s.SetTimer(&Event{
		AlarmTime: testNow, Reference: "r2", Callback: "cb", Partition: 4}))

	require.NoError(t, s.DeleteTimer(&Event{
		AlarmTime: testNow, Reference: "r1", Partition: 4}))

	res, err := kv.Get(indexKey("evt::fn1", 4, testNow))
	require.NoError(t, err)
	refs, err := decodeIndex(res.Value)
	require.NoError(t, err)
	require.Equal(t, []string{"r2"}, refs)

	// removing the last ref deletes the index document
	require.NoError(t, s.DeleteTimer(&Event{
		AlarmTime: testNow, Reference: "r2", Partition: 4}))
	_, err = kv.Get(indexKey("evt::fn1", 4, testNow))
	require.Equal(t, ErrorKeyMissing, err)
}

func TestUpdatePartitionsDropsAndAdds(t *testing.T) {
	s, _ := testStore(t, 1, 2)
	s.UpdatePartitions(map[int64]bool{2: true, 3: true})

	parts := s.Partitions()
	require.Equal(t, []int64{2, 3}, parts)

	_, ok := s.SpanSnapshot(1)
	require.False(t, ok)
}
