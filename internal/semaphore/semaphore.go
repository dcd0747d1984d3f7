// Package semaphore provides an unbounded counting semaphore.
//
// Unlike golang.org/x/sync/semaphore.Weighted, which starts full and caps the
// count at its size, Counting starts at zero and grows with every Post. This
// is the shape a producer/consumer pool needs: one Post per queued unit of
// work, one Wait per unit consumed.
package semaphore

import (
	"errors"
	"sync"
)

// ErrClosed は閉じられたセマフォで Wait したときに返される
var ErrClosed = errors.New("semaphore: closed")

// Counting はゼロから始まるカウンティングセマフォ
type Counting struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	closed bool
}

// New は値 0 のセマフォを作成する
func New() *Counting {
	s := &Counting{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Post はカウントを1増やし、待機者を1つ起こす
func (s *Counting) Post() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.cond.Signal()
}

// Wait はカウントが正になるまでブロックし、1減らす。
// カウントが残っていれば Close 後でも消費できる
func (s *Counting) Wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.count == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.count == 0 {
		return ErrClosed
	}
	s.count--
	return nil
}

// Close は全待機者を起こし、以降の空 Wait を失敗させる
func (s *Counting) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Value は現在のカウントを返す（診断用）
func (s *Counting) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
