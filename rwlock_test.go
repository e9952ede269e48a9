package fibre

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRWLockReadersConcurrent checks multiple readers can hold the lock
// at the same time (never serialized against each other).
func TestRWLockReadersConcurrent(t *testing.T) {
	es := newTestScope(t, 4)
	l := NewRWLock()
	const readers = 6

	var active, maxActive int64
	var wg sync.WaitGroup
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "reader"})
		f.Start(func() {
			l.RLock()
			n := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&maxActive)
				if n <= old || atomic.CompareAndSwapInt64(&maxActive, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			l.RUnlock()
			wg.Done()
		})
	}
	wg.Wait()
	require.Greater(t, atomic.LoadInt64(&maxActive), int64(1))
}

// TestRWLockWriterExcludesReaders checks a writer holding the lock is
// never observed alongside an active reader.
func TestRWLockWriterExcludesReaders(t *testing.T) {
	es := newTestScope(t, 4)
	l := NewRWLock()
	const rounds = 200

	var shared int64
	var wg sync.WaitGroup
	wg.Add(2)

	writer := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "writer"})
	writer.Start(func() {
		for i := 0; i < rounds; i++ {
			l.Lock()
			atomic.AddInt64(&shared, 1000)
			v := atomic.LoadInt64(&shared)
			require.True(t, v >= 1000)
			atomic.AddInt64(&shared, -1000)
			l.Unlock()
		}
		wg.Done()
	})
	reader := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "reader"})
	reader.Start(func() {
		for i := 0; i < rounds; i++ {
			l.RLock()
			v := atomic.LoadInt64(&shared)
			require.True(t, v == 0 || v >= 1000)
			l.RUnlock()
		}
		wg.Done()
	})
	wg.Wait()
}

// TestRWLockWriterPriority checks that once a writer is waiting, a new
// reader arriving afterward does not jump ahead of it.
func TestRWLockWriterPriority(t *testing.T) {
	es := newTestScope(t, 4)
	l := NewRWLock()

	l.RLock() // hold as a reader so the writer below must wait

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	writer := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "writer"})
	writer.Start(func() {
		l.Lock()
		mu.Lock()
		order = append(order, "writer")
		mu.Unlock()
		l.Unlock()
		wg.Done()
	})
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.writerWait == 1
	}, time.Second, time.Millisecond)

	newReader := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "late-reader"})
	newReader.Start(func() {
		l.RLock()
		mu.Lock()
		order = append(order, "reader")
		mu.Unlock()
		l.RUnlock()
		wg.Done()
	})

	l.RUnlock() // release the held read lock, letting the writer proceed first
	wg.Wait()

	require.Equal(t, []string{"writer", "reader"}, order)
}

func TestRWLockTryVariants(t *testing.T) {
	l := NewRWLock()
	require.True(t, l.TryRLock())
	require.True(t, l.TryRLock())
	require.False(t, l.TryLock())
	l.RUnlock()
	l.RUnlock()
	require.True(t, l.TryLock())
	require.False(t, l.TryRLock())
	require.False(t, l.TryLock())
	l.Unlock()
}

// TestRWLockRLockTimeout checks RLockTimeout gives up once the deadline
// elapses while a writer holds the lock, then succeeds once the writer
// releases it within a fresh deadline.
func TestRWLockRLockTimeout(t *testing.T) {
	es := newTestScope(t, 4)
	l := NewRWLock()
	l.Lock()

	var timedOutResult, acquiredResult bool
	var wg sync.WaitGroup
	wg.Add(1)
	f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "reader"})
	f.Start(func() {
		timedOutResult = l.RLockTimeout(es.timerQueue, 20*time.Millisecond)
		wg.Done()
	})
	wg.Wait()
	require.False(t, timedOutResult)

	wg.Add(1)
	g := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "reader2"})
	g.Start(func() {
		acquiredResult = l.RLockTimeout(es.timerQueue, time.Second)
		wg.Done()
	})
	time.Sleep(10 * time.Millisecond)
	l.Unlock()
	wg.Wait()
	require.True(t, acquiredResult)
	l.RUnlock()
}

// TestRWLockLockTimeout checks LockTimeout gives up once the deadline
// elapses while a reader holds the lock, then succeeds once that reader
// releases it within a fresh deadline.
func TestRWLockLockTimeout(t *testing.T) {
	es := newTestScope(t, 4)
	l := NewRWLock()
	l.RLock()

	var timedOutResult, acquiredResult bool
	var wg sync.WaitGroup
	wg.Add(1)
	f := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "writer"})
	f.Start(func() {
		timedOutResult = l.LockTimeout(es.timerQueue, 20*time.Millisecond)
		wg.Done()
	})
	wg.Wait()
	require.False(t, timedOutResult)

	wg.Add(1)
	g := NewFibre(FibreAttrs{Cluster: es.mainCluster, Name: "writer2"})
	g.Start(func() {
		acquiredResult = l.LockTimeout(es.timerQueue, time.Second)
		wg.Done()
	})
	time.Sleep(10 * time.Millisecond)
	l.RUnlock()
	wg.Wait()
	require.True(t, acquiredResult)
	l.Unlock()
}
