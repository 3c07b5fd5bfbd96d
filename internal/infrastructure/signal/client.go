package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	apperrors "meshcall/pkg/errors"
	"meshcall/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig tunes the participant side of the relay connection.
type ClientConfig struct {
	RelayURL        string
	ConnectTimeout  time.Duration
	ConnectAttempts int

	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration

	// Token is an optional room access token, sent as a query
	// parameter because browser-style websocket dials cannot set
	// headers.
	Token string
}

// Client is the participant's ordered message stream to the relay. It
// implements ports.SignalingChannel: one reader goroutine feeds a
// dispatch goroutine, so the subscriber sees messages one at a time in
// delivery order.
type Client struct {
	cfg  ClientConfig
	conn *websocket.Conn
	room domain.RoomName

	outgoing chan []byte
	incoming chan *domain.Message
	done     chan struct{}

	mu      sync.Mutex
	handler ports.MessageHandler
	closedH func(error)
	closed  bool

	logger *zap.SugaredLogger
}

func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:      cfg,
		outgoing: make(chan []byte, 32),
		incoming: make(chan *domain.Message, 64),
		done:     make(chan struct{}),
		logger:   logger.Sugar(),
	}
}

// Connect dials the relay, performs the join handshake, and starts the
// read/write pumps. It returns the relay-assigned identity and the
// roster of members already present.
func (c *Client) Connect(ctx context.Context, room domain.RoomName, name string) (*domain.WelcomePayload, error) {
	dialURL, err := c.buildURL()
	if err != nil {
		return nil, apperrors.NewChannelError("invalid relay url", err)
	}

	retryCfg := retry.DefaultConfig()
	if c.cfg.ConnectAttempts > 0 {
		retryCfg.MaxAttempts = c.cfg.ConnectAttempts
	}

	conn, err := retry.DoWithResult(ctx, retryCfg, func() (*websocket.Conn, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, dialURL, nil)
		if err != nil {
			c.logger.Warnw("relay dial failed", "url", dialURL, "error", err)
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, apperrors.NewChannelError("connect to relay", err)
	}
	c.conn = conn
	c.room = room

	welcome, err := c.joinHandshake(room, name)
	if err != nil {
		conn.Close()
		return nil, err
	}

	go c.readPump()
	go c.writePump()
	go c.dispatchLoop()

	c.logger.Infow("connected to relay", "room", room, "self", welcome.Self)
	return welcome, nil
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return "", err
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// joinHandshake sends the join and waits for the welcome, synchronously
// on the fresh connection.
func (c *Client) joinHandshake(room domain.RoomName, name string) (*domain.WelcomePayload, error) {
	join, err := domain.NewMessage(domain.KindJoin, room, &domain.JoinPayload{Name: name})
	if err != nil {
		return nil, err
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(join); err != nil {
		return nil, apperrors.NewChannelError("send join", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	var reply domain.Message
	if err := c.conn.ReadJSON(&reply); err != nil {
		return nil, apperrors.NewChannelError("await welcome", err)
	}

	switch reply.Kind {
	case domain.KindWelcome:
		var welcome domain.WelcomePayload
		if err := reply.DecodePayload(&welcome); err != nil {
			return nil, apperrors.NewChannelError("decode welcome", err)
		}
		return &welcome, nil
	case domain.KindError:
		var relayErr domain.ErrorPayload
		if err := reply.DecodePayload(&relayErr); err == nil {
			return nil, apperrors.NewChannelError("relay rejected join", fmt.Errorf("%s", relayErr.Message))
		}
		return nil, apperrors.NewChannelError("relay rejected join", nil)
	default:
		return nil, apperrors.NewChannelError("unexpected reply to join", fmt.Errorf("kind %s", reply.Kind))
	}
}

// Send queues a message for delivery in order.
func (c *Client) Send(msg *domain.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return domain.ErrChannelClosed
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return domain.ErrChannelClosed
	}
}

// Subscribe registers the inbound handler. Call before Connect; the
// incoming buffer covers messages that arrive before dispatch starts.
func (c *Client) Subscribe(h ports.MessageHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// OnClosed registers the connection-loss handler. It fires once, and
// never for an explicit Close.
func (c *Client) OnClosed(h func(err error)) {
	c.mu.Lock()
	c.closedH = h
	c.mu.Unlock()
}

// Close shuts the connection down deliberately.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}
	return nil
}

// fail tears the connection down after an unexpected error and fires
// the OnClosed handler exactly once.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handler := c.closedH
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()

	c.logger.Errorw("relay connection lost", "room", c.room, "error", err)
	if handler != nil {
		handler(err)
	}
}

func (c *Client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})

	for {
		var msg domain.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}

		case <-c.done:
			return
		}
	}
}

// dispatchLoop delivers inbound messages to the subscriber one at a
// time, preserving delivery order.
func (c *Client) dispatchLoop() {
	for {
		select {
		case msg := <-c.incoming:
			c.mu.Lock()
			handler := c.handler
			c.mu.Unlock()

			if handler == nil {
				c.logger.Warnw("dropping message with no subscriber", "kind", msg.Kind)
				continue
			}
			handler(msg)

		case <-c.done:
			return
		}
	}
}
