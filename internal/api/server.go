package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"chaos-runner/internal/chaos"
	"chaos-runner/internal/events"
	"chaos-runner/internal/logger"
	"chaos-runner/internal/registry"
	"chaos-runner/internal/scenario"
)

// Engine はサーバーが参照する実行中のエンジン。*scenario.Engine が実装する。
type Engine interface {
	Snapshot() scenario.Snapshot
	Handles() []registry.HandleInfo
	LastResult() *scenario.Result
	Cancel() bool
}

// Config はAPIサーバーの設定
type Config struct {
	Addr           string
	StatusInterval time.Duration // WebSocket へのステータス配信間隔
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8080",
		StatusInterval: 1 * time.Second,
	}
}

// Server はAPIサーバー
type Server struct {
	config  Config
	engine  Engine
	bus     *events.Bus
	metrics http.Handler
	catalog func() []chaos.Descriptor

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
	wg     sync.WaitGroup
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(config Config, engine Engine, bus *events.Bus) *Server {
	if config.StatusInterval <= 0 {
		config.StatusInterval = DefaultConfig().StatusInterval
	}
	return &Server{
		config:    config,
		engine:    engine,
		bus:       bus,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetMetricsHandler は /metrics のハンドラを設定する
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// SetCatalog は /api/injectors が返す Injector 一覧の取得元を設定する
func (s *Server) SetCatalog(fn func() []chaos.Descriptor) {
	s.catalog = fn
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/handles", s.handleHandles)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/injectors", s.handleInjectors)
	mux.HandleFunc("/api/scenario/stop", s.handleScenarioStop)

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))
	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// バックグラウンドでイベントとステータスを配信
	var sub <-chan events.Event
	if s.bus != nil {
		sub = s.bus.Subscribe()
	}
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	s.wg.Add(1)
	go s.broadcastLoop(loopCtx, sub)

	logger.Info("", "API Server starting on http://%s", s.config.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	err := s.server.ListenAndServe()
	stopLoop()
	s.wg.Wait()
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.Snapshot())
}

func (s *Server) handleHandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handles := s.engine.Handles()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := handles[:0:0]
		for _, h := range handles {
			if h.State == state {
				filtered = append(filtered, h)
			}
		}
		handles = filtered
	}
	if handles == nil {
		handles = []registry.HandleInfo{}
	}
	s.writeJSON(w, handles)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.engine.LastResult()
	if result == nil {
		http.Error(w, "No result yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, result)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Simulated   bool   `json:"simulated"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := scenario.ListPresets()
	presets := make([]PresetInfo, 0, len(names))
	for _, name := range names {
		p, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{Name: p.Name, Description: p.Description, Simulated: p.Simulated})
	}
	s.writeJSON(w, presets)
}

func (s *Server) handleInjectors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		s.writeJSON(w, []chaos.Descriptor{})
		return
	}
	s.writeJSON(w, s.catalog())
}

func (s *Server) handleScenarioStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.engine.Cancel() {
		http.Error(w, "No scenario running", http.StatusConflict)
		return
	}
	logger.Warn("", "scenario stop requested via API")
	s.writeJSON(w, map[string]string{"status": "stop requested"})
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

// ClientCount は接続中の WebSocket クライアント数を返す
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

// Message は WebSocket で配信するメッセージ
type Message struct {
	Type   string             `json:"type"`
	Status *scenario.Snapshot `json:"status,omitempty"`
	Event  *events.Event      `json:"event,omitempty"`
}

func (s *Server) broadcast(msg Message) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はバスのイベントをそのまま、ステータスを一定間隔で配信する
func (s *Server) broadcastLoop(ctx context.Context, sub <-chan events.Event) {
	defer s.wg.Done()
	if sub != nil {
		defer s.bus.Unsubscribe(sub)
	}

	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			s.broadcast(Message{Type: "event", Event: &ev})
		case <-ticker.C:
			snap := s.engine.Snapshot()
			if snap.Status != scenario.StatusRunning {
				continue
			}
			s.broadcast(Message{Type: "status", Status: &snap})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
