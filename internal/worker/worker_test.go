package worker

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"thpool/internal/events"
	"thpool/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestPool(t *testing.T, numWorkers int, configure func(*PoolConfig)) *Pool {
	t.Helper()

	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	config.Logger = logger.New(io.Discard, logger.LevelDebug)
	if configure != nil {
		configure(&config)
	}

	pool, err := InitWithConfig(config)
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)
	return pool
}

// collect はバッファ済みのイベントを種類ごとに数える
func collect(ch <-chan events.Event) map[events.EventType]int {
	counts := make(map[events.EventType]int)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return counts
			}
			counts[ev.Type]++
		default:
			return counts
		}
	}
}

func TestInit(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()

	pool := newTestPool(t, 4, func(c *PoolConfig) { c.Events = bus })

	assert.Equal(t, 4, pool.NumWorkers())
	assert.True(t, pool.Alive())
	assert.NotEmpty(t, pool.ID())
	assert.Equal(t, 0, pool.QueueLength())
	assert.Same(t, bus, pool.Events())

	// Init は全ワーカーの起動を待ってから返る
	assert.Equal(t, 4, collect(ch)[events.EventWorkerStarted])
}

func TestInitNegativeWorkers(t *testing.T) {
	pool := newTestPool(t, -5, nil)
	assert.Equal(t, 0, pool.NumWorkers())
}

func TestInitDefaultCollaborators(t *testing.T) {
	pool, err := Init(1)
	require.NoError(t, err)
	defer pool.Destroy()

	assert.NotNil(t, pool.Metrics())
	assert.Nil(t, pool.Events())
}

func TestFIFOWithSingleWorker(t *testing.T) {
	pool := newTestPool(t, 1, nil)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		err := pool.Submit(func(arg any) {
			defer wg.Done()
			mu.Lock()
			order = append(order, arg.(int))
			mu.Unlock()
		}, i)
		require.NoError(t, err)
	}
	wg.Wait()

	expected := make([]int, 20)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
}

func TestNoLostWork(t *testing.T) {
	const jobs = 1000
	pool := newTestPool(t, 8, nil)

	seen := make([]atomic.Int32, jobs)
	var wg sync.WaitGroup
	wg.Add(jobs)

	for i := range jobs {
		require.NoError(t, pool.Submit(func(arg any) {
			seen[arg.(int)].Add(1)
			wg.Done()
		}, i))
	}
	wg.Wait()

	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "job %d", i)
	}
	assert.Eventually(t, func() bool {
		return pool.Metrics().CompletedJobs() == jobs
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(jobs), pool.Metrics().SubmittedJobs())
}

func TestConcurrentSubmission(t *testing.T) {
	const producers = 10
	const jobsPerProducer = 200
	const total = producers * jobsPerProducer

	pool := newTestPool(t, 4, nil)

	var counter atomic.Int64
	seen := make([]atomic.Int32, total)

	var g errgroup.Group
	for p := range producers {
		g.Go(func() error {
			for j := range jobsPerProducer {
				err := pool.Submit(func(arg any) {
					seen[arg.(int)].Add(1)
					counter.Add(1)
				}, p*jobsPerProducer+j)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Eventually(t, func() bool {
		return counter.Load() == total
	}, 5*time.Second, time.Millisecond)

	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "job %d", i)
	}
	assert.Equal(t, 0, pool.QueueLength())
}

func TestQueueLengthIndependentOfSemaphore(t *testing.T) {
	pool := newTestPool(t, 0, nil)

	for i := range 5 {
		require.NoError(t, pool.Submit(func(any) {}, i))
		assert.Equal(t, i+1, pool.QueueLength())
	}

	pool.mu.Lock()
	pool.queue.Pop()
	pool.queue.Pop()
	pool.mu.Unlock()

	assert.Equal(t, 3, pool.QueueLength())
	// セマフォのカウントは実際のキュー長とは別物
	assert.Equal(t, 5, pool.sem.Value())
}

func TestZeroWorkerPool(t *testing.T) {
	var discarded []any
	var executed atomic.Int32

	pool := newTestPool(t, 0, func(c *PoolConfig) {
		c.OnDiscard = func(arg any) { discarded = append(discarded, arg) }
	})

	for i := range 10 {
		require.NoError(t, pool.Submit(func(any) { executed.Add(1) }, i))
	}
	assert.Equal(t, 10, pool.QueueLength())

	// ワーカーがいないので誰もセマフォを消費しない
	assert.Equal(t, 10, pool.sem.Value())
	assert.Equal(t, uint64(0), pool.Metrics().CompletedJobs())

	pool.Destroy()

	assert.Equal(t, 0, pool.QueueLength())
	assert.Equal(t, int32(0), executed.Load())
	assert.Len(t, discarded, 10)
	assert.ElementsMatch(t, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, discarded)
	assert.Equal(t, uint64(10), pool.Metrics().DiscardedJobs())
}

func TestDestroyDiscardsQueuedJobs(t *testing.T) {
	var discarded atomic.Int32
	pool := newTestPool(t, 1, func(c *PoolConfig) {
		c.OnDiscard = func(any) { discarded.Add(1) }
	})

	running := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(func(any) {
		close(running)
		<-release
	}, nil))
	<-running

	var late atomic.Int32
	for i := range 3 {
		require.NoError(t, pool.Submit(func(any) { late.Add(1) }, i))
	}
	assert.Equal(t, 3, pool.QueueLength())

	done := make(chan struct{})
	go func() {
		pool.Destroy()
		close(done)
	}()

	require.Eventually(t, func() bool { return !pool.Alive() }, time.Second, time.Millisecond)

	select {
	case <-done:
		t.Fatal("Destroy returned while a job was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Destroy")
	}

	assert.Equal(t, int32(0), late.Load(), "queued jobs must not run after shutdown begins")
	assert.Equal(t, int32(3), discarded.Load())
	assert.Equal(t, 0, pool.QueueLength())
	assert.Equal(t, uint64(1), pool.Metrics().CompletedJobs())
}

func TestWakeRacingDestroyDoesNotPopQueuedJob(t *testing.T) {
	var discarded []any
	pool := newTestPool(t, 1, func(c *PoolConfig) {
		c.OnDiscard = func(arg any) { discarded = append(discarded, arg) }
	})

	running := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, pool.Submit(func(any) {
		close(running)
		<-release
	}, "blocker"))
	<-running

	var queuedRan atomic.Bool
	require.NoError(t, pool.Submit(func(any) { queuedRan.Store(true) }, "queued"))

	// ロックを握ったままワーカーを解放すると、ワーカーは "queued" の post で起床し
	// 最初の alive チェックを通過して pop 直前のロック待ちに入る
	pool.mu.Lock()
	close(release)
	require.Eventually(t, func() bool {
		return pool.Metrics().CompletedJobs() == 1 && pool.sem.Value() == 0
	}, time.Second, time.Millisecond)

	// destroy と同じく停止フラグをロック下で落とす
	pool.alive.Store(false)
	pool.mu.Unlock()

	pool.Destroy()

	assert.False(t, queuedRan.Load(), "a job still queued when shutdown began must never run")
	assert.Equal(t, []any{"queued"}, discarded)
	assert.Equal(t, uint64(1), pool.Metrics().CompletedJobs())
	assert.Equal(t, uint64(1), pool.Metrics().DiscardedJobs())
}

func TestJobPoppedBeforeShutdownRunsToCompletion(t *testing.T) {
	pool := newTestPool(t, 1, nil)

	popped := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, pool.Submit(func(any) {
		close(popped)
		<-release
		finished.Store(true)
	}, nil))
	<-popped

	done := make(chan struct{})
	go func() {
		pool.Destroy()
		close(done)
	}()
	require.Eventually(t, func() bool { return !pool.Alive() }, time.Second, time.Millisecond)

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Destroy")
	}

	assert.True(t, finished.Load())
	assert.Equal(t, uint64(1), pool.Metrics().CompletedJobs())
	assert.Equal(t, uint64(0), pool.Metrics().DiscardedJobs())
}

func TestDestroyWaitsForRunningJob(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(t, 2, func(c *PoolConfig) { c.Events = bus })

	running := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, pool.Submit(func(any) {
		close(running)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	}, nil))
	<-running

	pool.Destroy()

	assert.True(t, finished.Load(), "a dequeued job is always run to completion")
	counts := collect(ch)
	assert.Equal(t, 2, counts[events.EventWorkerStopped])
	assert.Equal(t, 1, counts[events.EventPoolDestroyed])
}

func TestDestroyIdempotent(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(t, 3, func(c *PoolConfig) { c.Events = bus })

	pool.Destroy()
	pool.Destroy()

	assert.False(t, pool.Alive())
	assert.Equal(t, 1, collect(ch)[events.EventPoolDestroyed])
}

func TestSubmitErrors(t *testing.T) {
	pool := newTestPool(t, 1, nil)

	assert.ErrorIs(t, pool.Submit(nil, 1), ErrNilFunc)

	pool.Destroy()
	assert.ErrorIs(t, pool.Submit(func(any) {}, 1), ErrPoolClosed)
	assert.Equal(t, 0, pool.QueueLength())
}

func TestRunningFlagIsPerPool(t *testing.T) {
	a := newTestPool(t, 2, nil)
	b := newTestPool(t, 2, nil)

	a.Destroy()
	assert.False(t, a.Alive())
	assert.True(t, b.Alive())

	var wg sync.WaitGroup
	var counter atomic.Int32
	for i := range 50 {
		wg.Add(1)
		require.NoError(t, b.Submit(func(any) {
			counter.Add(1)
			wg.Done()
		}, i))
	}
	wg.Wait()
	assert.Equal(t, int32(50), counter.Load())
}

func TestJobPanicDoesNotKillWorker(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(t, 1, func(c *PoolConfig) { c.Events = bus })

	require.NoError(t, pool.Submit(func(any) { panic("boom") }, nil))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func(any) { close(done) }, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}

	require.Eventually(t, func() bool {
		return pool.Metrics().CompletedJobs() == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), pool.Metrics().FailedJobs())
	assert.Equal(t, 1, collect(ch)[events.EventJobPanicked])
}

func TestWorkerInitFailure(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	cause := errors.New("no thread-local state")

	config := DefaultPoolConfig()
	config.NumWorkers = 4
	config.Logger = logger.New(io.Discard, logger.LevelDebug)
	config.Events = bus
	config.WorkerInit = func(id int) error {
		if id == 2 {
			return cause
		}
		return nil
	}

	pool, err := InitWithConfig(config)
	require.Error(t, err)
	assert.Nil(t, pool)
	assert.ErrorIs(t, err, ErrWorkerStart)
	assert.ErrorIs(t, err, cause)

	// 起動済みのワーカーは全て停止・join 済み
	counts := collect(ch)
	assert.Equal(t, 3, counts[events.EventWorkerStarted])
	assert.Equal(t, 3, counts[events.EventWorkerStopped])
	assert.Equal(t, 1, counts[events.EventWorkerFailed])
	assert.Equal(t, 1, counts[events.EventPoolDestroyed])
}

func TestSignalWaitFailureStopsWorkers(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(t, 2, func(c *PoolConfig) { c.Events = bus })

	pool.sem.Close()

	failed := 0
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-ch:
				if ev.Type == events.EventWorkerFailed {
					failed++
				}
			default:
				return failed == 2
			}
		}
	}, time.Second, 5*time.Millisecond)

	// プロセスは継続し、Destroy も正常に返る
	assert.True(t, pool.Alive())
	pool.Destroy()
	assert.False(t, pool.Alive())
}
