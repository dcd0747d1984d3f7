package worker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"thpool/internal/events"
	"thpool/internal/jobqueue"
	"thpool/internal/logger"
	"thpool/internal/metrics"
	"thpool/internal/semaphore"

	"github.com/google/uuid"
)

var (
	// ErrNilFunc は nil 関数を Submit したときに返される
	ErrNilFunc = errors.New("worker: nil job function")
	// ErrPoolClosed は Destroy 後に Submit したときに返される
	ErrPoolClosed = errors.New("worker: pool destroyed")
	// ErrWorkerStart はワーカーの起動に失敗したときに返される
	ErrWorkerStart = errors.New("worker: failed to start worker")
)

// Func はワーカーが実行するジョブ関数
type Func = jobqueue.Func

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers int // ワーカー数（負数は0として扱う）

	Logger  *logger.Logger   // nil なら logger.Default
	Metrics *metrics.Metrics // nil なら新規作成
	Events  *events.Bus      // nil ならイベントを発行しない

	// WorkerInit は各ワーカーがループに入る前に呼ばれる。
	// エラーを返すと Init 全体が失敗する
	WorkerInit func(workerID int) error

	// OnDiscard は Destroy 時に実行されずに捨てられたジョブの引数ごとに呼ばれる
	OnDiscard func(arg any)
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 1,
	}
}

// Pool は固定数のワーカーと共有ジョブキューを管理する
type Pool struct {
	id         string
	component  string
	numWorkers int

	mu    sync.Mutex // queue を保護する
	queue *jobqueue.Queue
	sem   *semaphore.Counting
	alive atomic.Bool
	wg    sync.WaitGroup

	destroyOnce sync.Once

	log        *logger.Logger
	metrics    *metrics.Metrics
	bus        *events.Bus
	workerInit func(workerID int) error
	onDiscard  func(arg any)
}

// Init は numWorkers 個のワーカーを持つプールを作成する
func Init(numWorkers int) (*Pool, error) {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return InitWithConfig(config)
}

// InitWithConfig は設定を指定してプールを作成し、全ワーカーの起動を待つ
func InitWithConfig(config PoolConfig) (*Pool, error) {
	numWorkers := max(config.NumWorkers, 0)

	id := uuid.NewString()
	p := &Pool{
		id:         id,
		component:  "pool-" + id[:8],
		numWorkers: numWorkers,
		queue:      jobqueue.New(),
		sem:        semaphore.New(),
		log:        config.Logger,
		metrics:    config.Metrics,
		bus:        config.Events,
		workerInit: config.WorkerInit,
		onDiscard:  config.OnDiscard,
	}
	if p.log == nil {
		p.log = logger.Default
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	p.alive.Store(true)

	started := make(chan error, numWorkers)
	for i := range numWorkers {
		p.wg.Add(1)
		go p.worker(i, started)
	}

	var startErr error
	for range numWorkers {
		if err := <-started; err != nil && startErr == nil {
			startErr = fmt.Errorf("%w: %w", ErrWorkerStart, err)
		}
	}
	if startErr != nil {
		// 起動済みのワーカーを止めてから返す
		p.Destroy()
		return nil, startErr
	}

	p.log.Info(p.component, "WorkerPool started with %d workers", numWorkers)
	return p, nil
}

// worker は個々のワーカーゴルーチン
func (p *Pool) worker(id int, started chan<- error) {
	defer p.wg.Done()

	if p.workerInit != nil {
		if err := p.workerInit(id); err != nil {
			p.log.Error(p.component, "worker %d failed to start: %v", id, err)
			p.publish(events.NewWorkerFailedEvent(p.id, id, err))
			started <- err
			return
		}
	}

	p.log.Debug(p.component, "worker %d started", id)
	p.publish(events.NewWorkerStartedEvent(p.id, id))
	started <- nil

	defer func() {
		p.log.Debug(p.component, "worker %d stopped", id)
		p.publish(events.NewWorkerStoppedEvent(p.id, id))
	}()

	for {
		if err := p.sem.Wait(); err != nil {
			p.log.Error(p.component, "worker %d: waiting for work: %v", id, err)
			p.publish(events.NewWorkerFailedEvent(p.id, id, err))
			return
		}

		// 停止中の起床はポイズンピル。キューには触れない
		if !p.alive.Load() {
			return
		}

		// alive はロック下で書き換えられるので、pop の直前に見直す。
		// ここで true なら、取り出したジョブは停止開始前に pop されたものとして最後まで実行する
		p.mu.Lock()
		if !p.alive.Load() {
			p.mu.Unlock()
			return
		}
		job := p.queue.Pop()
		p.mu.Unlock()

		if job == nil {
			continue
		}
		p.run(id, job)
	}
}

// run はジョブをロックの外で実行する。panic はワーカーを止めない
func (p *Pool) run(workerID int, job *jobqueue.Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job panicked: %v", r)
			p.metrics.RecordFailure(time.Since(start))
			p.log.Error(p.component, "worker %d: %v", workerID, err)
			p.publish(events.NewJobPanickedEvent(p.id, workerID, err))
			return
		}
		p.metrics.RecordSuccess(time.Since(start))
	}()

	job.Run()
}

// Submit はジョブをキューに追加し、ワーカーを1つ起こす
func (p *Pool) Submit(fn Func, arg any) error {
	if fn == nil {
		return ErrNilFunc
	}
	if !p.alive.Load() {
		return ErrPoolClosed
	}

	job := jobqueue.NewJob(fn, arg)

	p.mu.Lock()
	p.queue.Push(job)
	length := p.queue.Len()
	p.mu.Unlock()

	p.metrics.RecordSubmitted()
	// push が見えるようになってからロックの外で起こす
	p.sem.Post()

	p.log.Debug(p.component, "job pushed, queue length = %d", length)
	return nil
}

// Destroy はプールを停止する。
// 全ワーカーの終了を待ってから、キューに残ったジョブを実行せずに破棄する。
// 2回目以降の呼び出しは何もしない
func (p *Pool) Destroy() {
	p.destroyOnce.Do(p.destroy)
}

func (p *Pool) destroy() {
	// pop と停止開始の前後関係をロックで確定させる
	p.mu.Lock()
	p.alive.Store(false)
	p.mu.Unlock()

	// 待機中の全ワーカーを起こす
	for range p.numWorkers {
		p.sem.Post()
	}
	p.wg.Wait()

	var abandoned []any
	p.mu.Lock()
	discarded := p.queue.Drain(func(job *jobqueue.Job) {
		abandoned = append(abandoned, job.Arg())
	})
	p.mu.Unlock()

	p.sem.Close()

	if p.onDiscard != nil {
		for _, arg := range abandoned {
			p.onDiscard(arg)
		}
	}
	p.metrics.RecordDiscarded(discarded)

	if discarded > 0 {
		p.log.Warn(p.component, "WorkerPool stopped, %d queued jobs discarded", discarded)
	} else {
		p.log.Info(p.component, "WorkerPool stopped")
	}
	p.publish(events.NewPoolDestroyedEvent(p.id, discarded))
}

func (p *Pool) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

// QueueLength はキュー内のジョブ数を返す（診断用）
func (p *Pool) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// ID はプールの識別子を返す
func (p *Pool) ID() string {
	return p.id
}

// Alive は Destroy が呼ばれていなければ true を返す
func (p *Pool) Alive() bool {
	return p.alive.Load()
}

// Metrics はプールのメトリクスを返す
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}

// Events はプールのイベントバスを返す（未設定なら nil）
func (p *Pool) Events() *events.Bus {
	return p.bus
}
