// Package jobqueue provides the FIFO job queue shared by a worker pool.
//
// A Queue is an intrusive doubly linked list: every Job carries its own
// prev/next links, so Push and Pop are O(1) and never allocate.
//
// # Basic Usage
//
//	q := jobqueue.New()
//
//	mu.Lock()
//	q.Push(jobqueue.NewJob(fn, arg))
//	mu.Unlock()
//
//	mu.Lock()
//	job := q.Pop() // nil when empty
//	mu.Unlock()
//	if job != nil {
//	    job.Run()
//	}
//
// # Thread Safety
//
// A Queue is NOT safe for concurrent use. The owner must guard every call,
// including Len, with a single mutex. The length is an explicit field that
// changes in the same critical section as the links, so Len always matches
// the number of jobs reachable from the head.
package jobqueue
