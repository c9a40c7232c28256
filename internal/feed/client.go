package feed

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxInboundBytes = 512

var errSendBufferFull = errors.New("send buffer full")

// client is one websocket subscriber. The feed is server to client only;
// inbound frames are read solely to process control messages.
type client struct {
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
	cfg    Config

	closeOnce sync.Once
	done      chan struct{}
	onClose   func(*client)
}

func newClient(conn *websocket.Conn, cfg Config, logger zerolog.Logger, onClose func(*client)) *client {
	return &client{
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		logger:  logger,
		cfg:     cfg,
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// enqueue never blocks. A client that cannot keep up is disconnected.
func (c *client) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		dropped.Inc()
		c.logger.Warn().Msg("feed send buffer full; closing connection")
		c.close(websocket.CloseTryAgainLater, "backpressure")
		return errSendBufferFull
	}
}

func (c *client) run() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	if err := c.readLoop(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug().Err(err).Msg("feed read loop exited")
	}
	c.close(websocket.CloseNormalClosure, "bye")
	wg.Wait()
}

func (c *client) readLoop() error {
	c.conn.SetReadLimit(maxInboundBytes)
	deadline := c.cfg.HeartbeatInterval * time.Duration(c.cfg.HeartbeatTolerance+1)
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("feed write failed")
				c.close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.close(websocket.CloseGoingAway, "heartbeat failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
		_ = c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	})
}
