package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"thpool/internal/api"
	"thpool/internal/config"
	"thpool/internal/events"
	"thpool/internal/logger"
	"thpool/internal/metrics"
	"thpool/internal/worker"

	"golang.org/x/sync/errgroup"
)

// task はデモ用ジョブの引数
type task struct {
	producer int
	seq      int
	out      io.Writer
	outMu    *sync.Mutex
	duration time.Duration
	done     *sync.WaitGroup
}

// work はデモ用ジョブ本体
func work(arg any) {
	t := arg.(*task)
	defer t.done.Done()

	t.outMu.Lock()
	fmt.Fprintf(t.out, "producer %d: job %d running\n", t.producer, t.seq)
	t.outMu.Unlock()

	if t.duration > 0 {
		time.Sleep(t.duration)
	}
}

// Report はデモ実行結果
type Report struct {
	PoolID   string
	Workers  int
	Snapshot metrics.Snapshot
	Elapsed  time.Duration
}

// String はレポートを整形して返す
func (r Report) String() string {
	var b strings.Builder
	b.WriteString("====================================\n")
	fmt.Fprintf(&b, "Pool:       %s\n", r.PoolID)
	fmt.Fprintf(&b, "Workers:    %d\n", r.Workers)
	fmt.Fprintf(&b, "Submitted:  %d\n", r.Snapshot.SubmittedJobs)
	fmt.Fprintf(&b, "Completed:  %d\n", r.Snapshot.CompletedJobs)
	fmt.Fprintf(&b, "Failed:     %d\n", r.Snapshot.FailedJobs)
	fmt.Fprintf(&b, "Discarded:  %d\n", r.Snapshot.DiscardedJobs)
	fmt.Fprintf(&b, "Avg/P99:    %v / %v\n", r.Snapshot.AverageLatency, r.Snapshot.P99Latency)
	fmt.Fprintf(&b, "Elapsed:    %v\n", r.Elapsed.Round(time.Millisecond))
	b.WriteString("====================================")
	return b.String()
}

// runDemo はプールを作成してジョブを投入し、完了か ctx のキャンセルを待ってから破棄する
func runDemo(ctx context.Context, settings config.Settings, out io.Writer) (Report, error) {
	start := time.Now()

	bus := events.NewBusWithBuffer(settings.EventBuffer)
	defer bus.Close()

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.NumWorkers = settings.Workers
	poolConfig.Logger = logger.Default
	poolConfig.Metrics = metrics.NewWithConfig(metrics.Config{MaxLatencySamples: settings.LatencySamples})
	poolConfig.Events = bus
	// 破棄されたジョブも完了扱いにして待機を解放する
	poolConfig.OnDiscard = func(arg any) {
		arg.(*task).done.Done()
	}

	pool, err := worker.InitWithConfig(poolConfig)
	if err != nil {
		return Report{}, fmt.Errorf("failed to create pool: %w", err)
	}
	defer pool.Destroy()

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if settings.ServerEnabled {
		srv := api.NewServer(settings.ServerAddr, pool)
		go func() {
			if err := srv.Start(serverCtx); err != nil {
				logger.Error("", "サーバーエラー: %v", err)
			}
		}()
	}

	var outMu sync.Mutex
	var done sync.WaitGroup
	done.Add(settings.Jobs)

	producers := max(settings.Producers, 1)
	var g errgroup.Group
	for p := range producers {
		g.Go(func() error {
			// ジョブをプロデューサー間で均等に分割する
			for seq := p; seq < settings.Jobs; seq += producers {
				t := &task{
					producer: p,
					seq:      seq,
					out:      out,
					outMu:    &outMu,
					duration: settings.JobDuration,
					done:     &done,
				}
				if err := pool.Submit(work, t); err != nil {
					return fmt.Errorf("producer %d: %w", p, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	finished := make(chan struct{})
	go func() {
		done.Wait()
		close(finished)
	}()

	if settings.Workers == 0 {
		logger.Warn("", "pool has no workers, %d queued jobs will be discarded", pool.QueueLength())
	} else {
		select {
		case <-finished:
		case <-ctx.Done():
			logger.Warn("", "interrupted with %d jobs still queued", pool.QueueLength())
		}
	}

	pool.Destroy()

	return Report{
		PoolID:   pool.ID(),
		Workers:  pool.NumWorkers(),
		Snapshot: pool.Metrics().Snapshot(),
		Elapsed:  time.Since(start),
	}, nil
}
