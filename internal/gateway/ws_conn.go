package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/dto"
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/auralog/voicejournal/internal/question"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	stopTimeout = 15 * time.Second
)

// AudioDecoder turns one binary client frame into PCM samples at the capture
// rate.
type AudioDecoder interface {
	Decode(data []byte) ([]float32, error)
}

// DecoderFactory opens a fresh decoder per connection; Opus decoders carry
// inter-frame state and cannot be shared.
type DecoderFactory func() (AudioDecoder, error)

type captureConn struct {
	ws      *websocket.Conn
	userID  string
	manager *journal.Manager
	opened  DecoderFactory
	logger  *slog.Logger

	send chan ServerMessage
	done chan struct{}

	mu      sync.Mutex
	sess    *journal.CaptureSession
	decoder AudioDecoder
	closed  bool
}

func newCaptureConn(ws *websocket.Conn, userID string, manager *journal.Manager, opened DecoderFactory, logger *slog.Logger) *captureConn {
	return &captureConn{
		ws:      ws,
		userID:  userID,
		manager: manager,
		opened:  opened,
		logger:  logger.With("user_id", userID),
		send:    make(chan ServerMessage, 128),
		done:    make(chan struct{}),
	}
}

// push queues a frame for the client, dropping it when the socket cannot keep
// up. Transcript partials are superseded by the next one anyway.
func (c *captureConn) push(msg ServerMessage) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping frame", "type", msg.Type)
	}
}

func (c *captureConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
}

func (c *captureConn) readPump(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Error("malformed control frame", "error", err)
				continue
			}
			c.handleControl(ctx, msg)
		}
	}
}

func (c *captureConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.logger.Error("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *captureConn) handleAudio(data []byte) {
	c.mu.Lock()
	sess := c.sess
	dec := c.decoder
	c.mu.Unlock()

	if sess == nil {
		return
	}
	if dec == nil {
		opened, err := c.opened()
		if err != nil {
			c.logger.Error("audio decoder unavailable", "error", err)
			return
		}
		c.mu.Lock()
		c.decoder = opened
		dec = c.decoder
		c.mu.Unlock()
	}

	pcm, err := dec.Decode(data)
	if err != nil {
		c.logger.Warn("dropping undecodable audio frame", "error", err)
		return
	}
	sess.Feed(pcm)
}

func (c *captureConn) handleControl(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case ControlStart:
		c.handleStart(ctx, msg)
	case ControlStop:
		c.handleStop(ctx)
	case ControlCancel:
		c.handleCancel(ctx)
	case ControlBackground:
		c.manager.HandleBackground(c.userID)
	case ControlForeground:
		c.manager.HandleForeground(c.userID)
	case ControlRefresh:
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess != nil {
			sess.Refresh()
		}
	default:
		c.push(ServerMessage{Type: journal.EventError, Error: "unknown control type"})
	}
}

func (c *captureConn) handleStart(ctx context.Context, msg ClientMessage) {
	c.mu.Lock()
	busy := c.sess != nil
	c.mu.Unlock()
	if busy {
		c.push(ServerMessage{Type: journal.EventError, Error: "capture already running on this connection"})
		return
	}

	sess, err := c.manager.StartCapture(ctx, journal.SessionConfig{
		UserID:      c.userID,
		Strategy:    msg.Strategy,
		Proactivity: question.Proactivity(msg.Proactivity),
		Profile:     msg.Profile,
	})
	if err != nil {
		c.logger.Error("failed to start capture", "error", err)
		c.push(ServerMessage{Type: journal.EventError, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	go c.forwardEvents(sess)
	c.push(ServerMessage{Type: ServerTypeStarted, SessionID: sess.ID()})
}

func (c *captureConn) forwardEvents(sess *journal.CaptureSession) {
	for evt := range sess.Events() {
		c.push(eventToServerMessage(evt))
	}
}

func (c *captureConn) handleStop(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.decoder = nil
	c.mu.Unlock()
	if sess == nil {
		c.push(ServerMessage{Type: journal.EventError, Error: "no capture running"})
		return
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	res, err := c.manager.StopCapture(stopCtx, c.userID)
	if err != nil {
		c.logger.Error("failed to stop capture", "error", err)
		c.push(ServerMessage{Type: journal.EventError, Error: err.Error()})
		return
	}

	c.push(ServerMessage{
		Type:      ServerTypeResult,
		SessionID: res.SessionID,
		Result: &dto.CaptureResultResponse{
			SessionID:       res.SessionID,
			Transcript:      res.Transcript,
			AudioPath:       res.AudioPath,
			DurationSeconds: res.DurationSeconds,
		},
	})
}

func (c *captureConn) handleCancel(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.decoder = nil
	c.mu.Unlock()
	if sess == nil {
		c.push(ServerMessage{Type: journal.EventError, Error: "no capture running"})
		return
	}

	if err := c.manager.CancelCapture(ctx, c.userID); err != nil {
		c.logger.Error("failed to cancel capture", "error", err)
	}
	c.push(ServerMessage{Type: ServerTypeCancelled})
}

// salvage stops a capture left running when the socket dies, so the transcript
// accumulated so far still gets persisted and the user's slot frees up.
func (c *captureConn) salvage() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if _, err := c.manager.StopCapture(ctx, c.userID); err != nil {
		c.logger.Error("failed to salvage capture after disconnect", "error", err)
	} else {
		c.logger.Info("capture salvaged after disconnect", "session_id", sess.ID())
	}
}
