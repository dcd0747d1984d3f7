// Package api exposes a worker pool's diagnostics over HTTP.
//
// GET /api/status and GET /api/metrics return JSON snapshots; /ws is a
// websocket that streams pool lifecycle events and a status frame every
// second. The endpoints are read-only and informational: nothing served
// here should drive control decisions.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"thpool/internal/events"
	"thpool/internal/logger"
	"thpool/internal/metrics"
	"thpool/internal/worker"

	"golang.org/x/net/websocket"
)

// Server はプールの診断用 API サーバー
type Server struct {
	addr string
	pool *worker.Pool

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しい API サーバーを作成する
func NewServer(addr string, pool *worker.Pool) *Server {
	return &Server{
		addr:      addr,
		pool:      pool,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go s.broadcastLoop(ctx)
	go s.forwardEvents(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	PoolID      string `json:"pool_id"`
	Alive       bool   `json:"alive"`
	Workers     int    `json:"workers"`
	QueueLength int    `json:"queue_length"`
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		PoolID:      s.pool.ID(),
		Alive:       s.pool.Alive(),
		Workers:     s.pool.NumWorkers(),
		QueueLength: s.pool.QueueLength(),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	metrics.Snapshot
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	P99LatencyMs float64 `json:"p99_latency_ms"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.pool.Metrics().Snapshot()
	s.writeJSON(w, MetricsResponse{
		Snapshot:     snap,
		AvgLatencyMs: float64(snap.AverageLatency) / float64(time.Millisecond),
		P99LatencyMs: float64(snap.P99Latency) / float64(time.Millisecond),
	})
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

// ClientCount は接続中の websocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data interface{}) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// forwardEvents はプールのイベントを websocket クライアントに転送する
func (s *Server) forwardEvents(ctx context.Context) {
	bus := s.pool.Events()
	if bus == nil {
		return
	}

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(eventMessage{Type: "event", Event: ev})
		}
	}
}

type eventMessage struct {
	Type  string       `json:"type"`
	Event events.Event `json:"event"`
}

type statusMessage struct {
	Type   string         `json:"type"`
	Status StatusResponse `json:"status"`
}

func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.ClientCount() == 0 {
				continue
			}
			s.broadcast(statusMessage{Type: "status", Status: s.status()})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
