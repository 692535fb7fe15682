package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Vipatra/awaaz/internal/auth"
	"github.com/Vipatra/awaaz/internal/buffering"
	"github.com/Vipatra/awaaz/internal/config"
	"github.com/Vipatra/awaaz/internal/engine"
	"github.com/Vipatra/awaaz/internal/metrics"
	"github.com/Vipatra/awaaz/internal/pool"
	"github.com/Vipatra/awaaz/internal/session"
)

// QueryParamAPIKey is the query parameter carrying the client API key.
const QueryParamAPIKey = "AWAAZ_API_KEY"

// CloseCodeAuthFailure is the WebSocket close code sent when a connection
// presents a missing or invalid API key.
const CloseCodeAuthFailure = 4001

// WebSocketServer accepts client connections, feeds their audio into
// per-connection sessions and streams transcripts back.
type WebSocketServer struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	keys    *auth.KeyStore
	pool    *pool.Pool
	vad     engine.VAD

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.RWMutex
	sessions        map[string]*session.Session
	closedAudioSecs float64
}

// NewWebSocketServer creates a server ready to accept connections.
func NewWebSocketServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics,
	keys *auth.KeyStore, p *pool.Pool, vad engine.VAD) *WebSocketServer {

	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketServer{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		keys:    keys,
		pool:    p,
		vad:     vad,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native applications, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session.Session),
	}
}

// Handler returns the HTTP handler that upgrades connections.
func (s *WebSocketServer) Handler() http.Handler {
	return http.HandlerFunc(s.handleConnection)
}

// Start runs the server until Stop is called. TLS is used when both a
// certificate and key are configured.
func (s *WebSocketServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info("Starting WebSocket server",
		slog.String("address", addr),
		slog.Bool("tls", s.cfg.Server.TLSEnabled()))

	var err error
	if s.cfg.Server.TLSEnabled() {
		err = s.httpSrv.ListenAndServeTLS(s.cfg.Server.CertFile, s.cfg.Server.KeyFile)
	} else {
		err = s.httpSrv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down, closing the listener and cancelling
// in-flight processing passes.
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")
	s.cancel()

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *WebSocketServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(slog.String("connection_id", uuid.NewString()))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	key := r.URL.Query().Get(QueryParamAPIKey)
	if key == "" {
		s.rejectConnection(conn, logger, r.RemoteAddr, "Missing API Key")
		return
	}
	if !s.keys.Validate(key) {
		s.rejectConnection(conn, logger, r.RemoteAddr, "Invalid API Key")
		return
	}

	s.metrics.RecordConnectionOpened()
	defer s.metrics.RecordConnectionClosed()

	sess := session.New(uuid.NewString(), s.cfg.Audio.SamplingRate, s.cfg.Audio.SampleWidth)
	s.register(sess)
	defer s.unregister(sess.ID)

	logger = logger.With(slog.String("session_id", sess.ID))
	logger.Info("Client connected", slog.String("remote_addr", r.RemoteAddr))

	emitter := &wsEmitter{conn: conn, metrics: s.metrics}

	strat, err := buffering.New(s.cfg.Buffering, buffering.Deps{
		Session: sess,
		Pool:    s.pool,
		VAD:     s.vad,
		Emitter: emitter,
		Sink:    s.metrics,
		Logger:  logger,
		OnDrop:  s.metrics.RecordOverloadDrop,
	})
	if err != nil {
		logger.Error("Failed to create buffering strategy", slog.String("error", err.Error()))
		return
	}

	s.receiveLoop(conn, logger, sess, strat)

	logger.Info("Client disconnected",
		slog.Int("segments", sess.SegmentCounter()),
		slog.Float64("audio_seconds", sess.AudioDurationSeconds()))
}

// receiveLoop reads frames until the connection closes. Processing passes
// run asynchronously, so the loop is never blocked by transcription.
func (s *WebSocketServer) receiveLoop(conn *websocket.Conn, logger *slog.Logger,
	sess *session.Session, strat *buffering.Strategy) {

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			sess.AppendAudio(data)
			s.metrics.RecordFrameReceived()
		case websocket.TextMessage:
			s.handleTextMessage(logger, sess, data)
		}

		// In-flight passes outlive the request context so transcripts
		// for already-received audio are not lost on disconnect.
		if err := strat.Process(s.ctx); err != nil {
			if errors.Is(err, buffering.ErrNotRealtime) {
				logger.Error("Closing connection, audio arrives faster than it can be processed")
				writeClose(conn, websocket.CloseInternalServerErr, "processing is not realtime")
				return
			}
			logger.Error("Processing failed", slog.String("error", err.Error()))
		}
	}
}

// handleTextMessage applies in-band configuration updates. Anything that is
// not a well-formed config message is logged and ignored.
func (s *WebSocketServer) handleTextMessage(logger *slog.Logger, sess *session.Session, data []byte) {
	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}

	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "config" {
		logger.Warn("Ignoring unrecognized text message", slog.Int("bytes", len(data)))
		return
	}

	sess.UpdateConfig(msg.Data)
	logger.Info("Session config updated", slog.Any("config", sess.Config()))
}

func (s *WebSocketServer) rejectConnection(conn *websocket.Conn, logger *slog.Logger, remoteAddr, reason string) {
	s.metrics.RecordAuthFailure()
	logger.Warn("Rejecting connection",
		slog.String("remote_addr", remoteAddr),
		slog.String("reason", reason))
	writeClose(conn, CloseCodeAuthFailure, reason)
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func (s *WebSocketServer) register(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

func (s *WebSocketServer) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		s.closedAudioSecs += sess.AudioDurationSeconds()
		delete(s.sessions, id)
	}
}

// ActiveConnections returns the number of registered sessions.
func (s *WebSocketServer) ActiveConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// AudioDurationSeconds returns the total audio received over the server's
// lifetime, including closed sessions.
func (s *WebSocketServer) AudioDurationSeconds() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.closedAudioSecs
	for _, sess := range s.sessions {
		total += sess.AudioDurationSeconds()
	}
	return total
}

// SessionInfos returns monitoring snapshots of all registered sessions.
func (s *WebSocketServer) SessionInfos() []session.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]session.Info, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, sess.GetInfo())
	}
	return infos
}

// wsEmitter writes transcript messages to a WebSocket connection. Writes
// are serialized because finalize passes run off the read loop.
type wsEmitter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	metrics *metrics.Metrics
}

func (e *wsEmitter) EmitTranscript(msg *buffering.TranscriptMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send transcript: %w", err)
	}
	e.metrics.RecordTranscriptEmitted()
	return nil
}
