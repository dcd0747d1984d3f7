// Package worker provides a fixed-size goroutine pool for deferred jobs.
//
// The Pool starts a fixed number of worker goroutines that pull jobs (a
// function plus one argument) from a shared FIFO queue. Submitting a job
// pushes it onto the queue under the pool mutex and then posts one unit on a
// counting semaphore; an idle worker wakes on that unit, pops one job under
// the mutex and runs it outside the mutex.
//
// # Basic Usage
//
//	pool, err := worker.Init(4) // 4 workers
//	if err != nil {
//	    return err
//	}
//	defer pool.Destroy()
//
//	for i := 0; i < 100; i++ {
//	    pool.Submit(func(arg any) {
//	        // do work with arg
//	    }, i)
//	}
//
// # Configuration
//
// Use InitWithConfig to attach collaborators:
//
//	config := worker.DefaultPoolConfig()
//	config.NumWorkers = 8
//	config.Logger = logger.New(os.Stderr, logger.LevelDebug)
//	config.Events = events.NewBus()
//	pool, err := worker.InitWithConfig(config)
//
// # Shutdown
//
// Destroy marks the pool as stopping, wakes every worker with a poison pill
// and waits for all of them to exit. A job that is already running finishes
// first. Jobs still queued are discarded without being run; set
// PoolConfig.OnDiscard to release their arguments. Submit must not be called
// concurrently with or after Destroy.
//
// A pool with zero workers is valid: it queues jobs and never runs them.
package worker
