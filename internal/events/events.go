// Package events provides lifecycle notifications for worker pools.
//
// A pool publishes an Event whenever a worker starts, stops or fails, when a
// job panics, and when the pool is destroyed. Subscribers receive events on a
// buffered channel from a Bus; slow subscribers lose events rather than block
// the pool.
package events

import "time"

// EventType はイベントの種類
type EventType string

const (
	// EventWorkerStarted はワーカーがループに入ったとき
	EventWorkerStarted EventType = "worker_started"
	// EventWorkerStopped はワーカーがループを抜けたとき
	EventWorkerStopped EventType = "worker_stopped"
	// EventWorkerFailed はワーカーの起動または待機に失敗したとき
	EventWorkerFailed EventType = "worker_failed"
	// EventJobPanicked はジョブが panic したとき
	EventJobPanicked EventType = "job_panicked"
	// EventPoolDestroyed は全ワーカーが停止しキューを破棄し終えたとき
	EventPoolDestroyed EventType = "pool_destroyed"
)

// Event はプールのライフサイクルイベント
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	PoolID    string    `json:"pool_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData はイベント固有のデータ
type EventData struct {
	WorkerID  int    `json:"worker_id"`
	Discarded int    `json:"discarded,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewWorkerStartedEvent はワーカー起動イベントを作成する
func NewWorkerStartedEvent(poolID string, workerID int) Event {
	return Event{
		Type:      EventWorkerStarted,
		Timestamp: time.Now(),
		PoolID:    poolID,
		Data:      EventData{WorkerID: workerID},
	}
}

// NewWorkerStoppedEvent はワーカー停止イベントを作成する
func NewWorkerStoppedEvent(poolID string, workerID int) Event {
	return Event{
		Type:      EventWorkerStopped,
		Timestamp: time.Now(),
		PoolID:    poolID,
		Data:      EventData{WorkerID: workerID},
	}
}

// NewWorkerFailedEvent はワーカー失敗イベントを作成する
func NewWorkerFailedEvent(poolID string, workerID int, err error) Event {
	return Event{
		Type:      EventWorkerFailed,
		Timestamp: time.Now(),
		PoolID:    poolID,
		Data:      EventData{WorkerID: workerID, Error: errString(err)},
	}
}

// NewJobPanickedEvent はジョブ panic イベントを作成する
func NewJobPanickedEvent(poolID string, workerID int, err error) Event {
	return Event{
		Type:      EventJobPanicked,
		Timestamp: time.Now(),
		PoolID:    poolID,
		Data:      EventData{WorkerID: workerID, Error: errString(err)},
	}
}

// NewPoolDestroyedEvent はプール破棄イベントを作成する
func NewPoolDestroyedEvent(poolID string, discarded int) Event {
	return Event{
		Type:      EventPoolDestroyed,
		Timestamp: time.Now(),
		PoolID:    poolID,
		Data:      EventData{Discarded: discarded},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
