package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 計算用に保持するサンプル数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{MaxLatencySamples: 1000}
}

// Metrics はジョブ実行のメトリクスを収集する
type Metrics struct {
	submittedJobs  atomic.Uint64
	completedJobs  atomic.Uint64
	failedJobs     atomic.Uint64
	discardedJobs  atomic.Uint64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	latencies         []time.Duration
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = DefaultConfig().MaxLatencySamples
	}
	return &Metrics{
		startTime:         time.Now(),
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
	}
}

// RecordSubmitted は投入されたジョブを記録する
func (m *Metrics) RecordSubmitted() {
	m.submittedJobs.Add(1)
}

// RecordSuccess は正常終了したジョブを記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.completedJobs.Add(1)
	m.record(latency)
}

// RecordFailure は panic で終了したジョブを記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.completedJobs.Add(1)
	m.failedJobs.Add(1)
	m.record(latency)
}

// RecordDiscarded は実行されずに破棄されたジョブを記録する
func (m *Metrics) RecordDiscarded(n int) {
	if n > 0 {
		m.discardedJobs.Add(uint64(n))
	}
}

func (m *Metrics) record(latency time.Duration) {
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))

	m.mu.Lock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	}
	m.mu.Unlock()
}

// SubmittedJobs は投入されたジョブ数を返す
func (m *Metrics) SubmittedJobs() uint64 {
	return m.submittedJobs.Load()
}

// CompletedJobs は実行を終えたジョブ数を返す（失敗を含む）
func (m *Metrics) CompletedJobs() uint64 {
	return m.completedJobs.Load()
}

// FailedJobs は panic したジョブ数を返す
func (m *Metrics) FailedJobs() uint64 {
	return m.failedJobs.Load()
}

// DiscardedJobs は破棄されたジョブ数を返す
func (m *Metrics) DiscardedJobs() uint64 {
	return m.discardedJobs.Load()
}

// OverallJPS は開始からの平均 JPS を返す
func (m *Metrics) OverallJPS() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.completedJobs.Load()) / elapsed
}

// AverageLatency は平均実行時間を返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.completedJobs.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency は P99 実行時間を返す（サンプルベース）
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// FailureRate は失敗率を返す（0.0〜1.0）
func (m *Metrics) FailureRate() float64 {
	total := m.completedJobs.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failedJobs.Load()) / float64(total)
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	SubmittedJobs  uint64        `json:"submitted_jobs"`
	CompletedJobs  uint64        `json:"completed_jobs"`
	FailedJobs     uint64        `json:"failed_jobs"`
	DiscardedJobs  uint64        `json:"discarded_jobs"`
	OverallJPS     float64       `json:"overall_jps"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	P99Latency     time.Duration `json:"p99_latency_ns"`
	FailureRate    float64       `json:"failure_rate"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		SubmittedJobs:  m.SubmittedJobs(),
		CompletedJobs:  m.CompletedJobs(),
		FailedJobs:     m.FailedJobs(),
		DiscardedJobs:  m.DiscardedJobs(),
		OverallJPS:     m.OverallJPS(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		FailureRate:    m.FailureRate(),
		Elapsed:        time.Since(m.startTime),
	}
}
