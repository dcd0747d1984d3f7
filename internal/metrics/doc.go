// Package metrics provides job execution metrics for a worker pool.
//
// Metrics counts submitted, completed, failed (panicked) and discarded jobs
// and samples execution latency. It is thread-safe and cheap enough to be
// updated from every worker on every job.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	m.RecordSubmitted()
//	start := time.Now()
//	// ... run job ...
//	m.RecordSuccess(time.Since(start))
//
//	fmt.Printf("Done: %d, JPS: %.2f, P99: %v\n",
//	    m.CompletedJobs(), m.OverallJPS(), m.P99Latency())
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    MaxLatencySamples: 5000, // More samples for P99 accuracy
//	}
//	m := metrics.NewWithConfig(config)
//
// # Thread Safety
//
// Counters are atomic; the latency sample buffer is guarded by a mutex.
package metrics
