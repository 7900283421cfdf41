package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
)

const (
	defaultClientBuffer = 64
	defaultWriteTimeout = 5 * time.Second
)

// StreamMessage is the JSON frame pushed to WebSocket subscribers.
type StreamMessage struct {
	RequestID   string             `json:"request_id"`
	ProductID   int64              `json:"product_id"`
	Attempt     int                `json:"attempt"`
	Cause       string             `json:"cause"`
	Stage       string             `json:"stage"`
	Platform    string             `json:"platform,omitempty"`
	Failure     string             `json:"failure,omitempty"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Retryable   bool               `json:"retryable,omitempty"`
	Abandoned   bool               `json:"abandoned,omitempty"`
	Timestamp   time.Time          `json:"ts"`
	DurationMS  int64              `json:"duration_ms,omitempty"`
	AlertsFired int                `json:"alerts_fired,omitempty"`
	Analysis    *progress.Analysis `json:"analysis,omitempty"`
}

func newStreamMessage(evt progress.Event) StreamMessage {
	return StreamMessage{
		RequestID:   evt.RequestID,
		ProductID:   evt.ProductID,
		Attempt:     evt.Attempt,
		Cause:       string(evt.Cause),
		Stage:       string(evt.Stage),
		Platform:    evt.Platform,
		Failure:     string(evt.Failure),
		FailedStage: string(evt.FailedStage),
		Retryable:   evt.Retryable,
		Abandoned:   evt.Abandoned,
		Timestamp:   evt.TS.UTC(),
		DurationMS:  evt.Dur.Milliseconds(),
		AlertsFired: evt.AlertsFired,
		Analysis:    evt.Analysis,
	}
}

// StreamConfig tunes the broadcaster.
type StreamConfig struct {
	ClientBuffer int
	WriteTimeout time.Duration
	CheckOrigin  func(r *http.Request) bool
	Logger       *zap.Logger
}

// StreamSink broadcasts events to WebSocket subscribers. It is both a
// progress.Sink and an http.Handler; subscribers may pass ?product_id= to
// receive a single product's events. Slow subscribers lose frames rather
// than stall the hub.
type StreamSink struct {
	upgrader     websocket.Upgrader
	buffer       int
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
}

type subscriber struct {
	conn      *websocket.Conn
	productID int64
	send      chan []byte
	done      chan struct{}
	once      sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewStreamSink builds a broadcaster with no subscribers.
func NewStreamSink(cfg StreamConfig) *StreamSink {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = defaultClientBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &StreamSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     cfg.CheckOrigin,
		},
		buffer:       cfg.ClientBuffer,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
		clients:      make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the peer leaves.
func (s *StreamSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var productID int64
	if raw := r.URL.Query().Get("product_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			http.Error(w, "invalid product_id", http.StatusBadRequest)
			return
		}
		productID = id
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := &subscriber{
		conn:      conn,
		productID: productID,
		send:      make(chan []byte, s.buffer),
		done:      make(chan struct{}),
	}
	if !s.add(sub) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}
	go s.writeLoop(sub)

	// Subscribers never send anything meaningful; reading surfaces disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.remove(sub)
}

func (s *StreamSink) writeLoop(sub *subscriber) {
	defer func() { _ = sub.conn.Close() }()
	for {
		select {
		case msg := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				s.remove(sub)
				return
			}
		case <-sub.done:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *StreamSink) add(sub *subscriber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[sub] = struct{}{}
	return true
}

func (s *StreamSink) remove(sub *subscriber) {
	s.mu.Lock()
	delete(s.clients, sub)
	s.mu.Unlock()
	sub.stop()
}

// Subscribers returns the number of connected clients.
func (s *StreamSink) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Consume fans the batch out to matching subscribers.
func (s *StreamSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	for _, evt := range batch {
		msg, err := json.Marshal(newStreamMessage(evt))
		if err != nil {
			return err
		}
		for sub := range s.clients {
			if sub.productID != 0 && sub.productID != evt.ProductID {
				continue
			}
			select {
			case sub.send <- msg:
			default:
				s.logger.Debug("websocket subscriber lagging, frame dropped",
					zap.String("request_id", evt.RequestID))
			}
		}
	}
	return nil
}

// Close disconnects every subscriber and rejects new ones.
func (s *StreamSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for sub := range s.clients {
		sub.stop()
		delete(s.clients, sub)
	}
	return nil
}
