package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// Bus はプールのイベントを購読者に配る。
// 配送はノンブロッキングで、バッファが埋まった購読者の分は捨てて Dropped に数える
type Bus struct {
	mu sync.RWMutex
	// 受信側チャネルから送信側チャネルを引く
	subscribers map[<-chan Event]chan Event
	bufferSize  int
	closed      bool

	dropped atomic.Uint64
}

// NewBus はデフォルトのバッファサイズでバスを作成する
func NewBus() *Bus {
	return NewBusWithBuffer(defaultBufferSize)
}

// NewBusWithBuffer は購読者ごとに size 件までバッファするバスを作成する
func NewBusWithBuffer(size int) *Bus {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Bus{
		subscribers: make(map[<-chan Event]chan Event),
		bufferSize:  size,
	}
}

// Subscribe はイベントを受け取るチャネルを返す。
// Close 済みのバスからは閉じたチャネルが返る
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = ch
	return ch
}

// Unsubscribe は購読を解除してチャネルを閉じる。未登録のチャネルは無視する
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(sub)
	}
}

// Publish は全購読者にイベントを送る。ワーカーを止めないためブロックしない
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// SubscriberCount は購読者数を返す
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped はバッファ溢れで配送できなかった件数を返す
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close は全購読者のチャネルを閉じる。以降の Publish は何もしない
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for ch, sub := range b.subscribers {
		close(sub)
		delete(b.subscribers, ch)
	}
}
