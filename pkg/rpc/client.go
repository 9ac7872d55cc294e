package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientConfig struct {
	URL   string
	Token string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

// Client is a connection to a Server that redials after the connection
// drops. Calls made while disconnected wait for the next connection.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
	policy *backoff.ExponentialBackOff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	nextID  atomic.Uint64
	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	ready       chan struct{}
	pending     map[uint64]chan Frame
	pushes      map[string]func(RawMessage)
	reconnected []func()
}

// Dial connects to the server. The first connection must succeed; later
// ones are retried with exponential backoff until Close.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.MinBackoff
	policy.MaxInterval = cfg.MaxBackoff

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:     cfg.URL,
		token:   cfg.Token,
		dialer:  cfg.Dialer,
		logger:  cfg.Logger.With(zap.String("url", cfg.URL)),
		policy:  policy,
		ctx:     clientCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		ready:   make(chan struct{}),
		pending: make(map[uint64]chan Frame),
		pushes:  make(map[string]func(RawMessage)),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.attach(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", c.url, ErrUnauthenticated)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// OnPush registers fn for server pushes of method. fn runs on the read
// loop and must not block.
func (c *Client) OnPush(method string, fn func(payload RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes[method] = fn
}

// OnReconnect registers fn to run in its own goroutine after each
// successful redial.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnected = append(c.reconnected, fn)
}

// Call sends request to method and decodes the reply into response,
// which may be nil.
func (c *Client) Call(ctx context.Context, method string, request, response any) error {
	payload, err := Marshal(request)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	reply := make(chan Frame, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := Marshal(Frame{Kind: KindRequest, ID: id, Method: method, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.BinaryMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	select {
	case frame := <-reply:
		if frame.Error != nil {
			return frame.Error
		}
		if response == nil || len(frame.Payload) == 0 {
			return nil
		}
		if err := Unmarshal(frame.Payload, response); err != nil {
			return fmt.Errorf("decode %s response: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClientClosed
	}
}

// Invoke is Call with a typed response.
func Invoke[Resp any](ctx context.Context, c *Client, method string, request any) (Resp, error) {
	var response Resp
	err := c.Call(ctx, method, request, &response)
	return response, err
}

func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	for {
		c.mu.Lock()
		conn, ready := c.conn, c.ready
		c.mu.Unlock()
		if c.ctx.Err() != nil {
			return nil, ErrClientClosed
		}
		if conn != nil {
			return conn, nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.ctx.Done():
			return nil, ErrClientClosed
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	close(c.ready)
}

// detach forgets conn and fails the calls waiting on it.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
		c.ready = make(chan struct{})
	}
	for id, reply := range c.pending {
		reply <- Frame{Kind: KindResponse, ID: id, Error: ErrConnectionLost}
		delete(c.pending, id)
	}
}

func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.read(conn)
		_ = conn.Close()
		c.detach(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("Connection lost, reconnecting")

		conn = c.redial()
		if conn == nil {
			return
		}
		c.attach(conn)
		c.logger.Info("Reconnected")

		c.mu.Lock()
		handlers := append([]func(){}, c.reconnected...)
		c.mu.Unlock()
		for _, handler := range handlers {
			go handler()
		}
	}
}

func (c *Client) redial() *websocket.Conn {
	c.policy.Reset()
	for {
		wait := c.policy.NextBackOff()
		select {
		case <-time.After(wait):
		case <-c.ctx.Done():
			return nil
		}
		conn, err := c.dial(c.ctx)
		if err == nil {
			return conn
		}
		if c.ctx.Err() != nil {
			return nil
		}
		c.logger.Debug("Redial failed", zap.Duration("wait", wait), zap.Error(err))
	}
}

func (c *Client) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("Read failed", zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := Unmarshal(data, &frame); err != nil {
			c.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		switch frame.Kind {
		case KindResponse:
			c.mu.Lock()
			reply, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if ok {
				reply <- frame
			}
		case KindPush:
			c.mu.Lock()
			handler := c.pushes[frame.Method]
			c.mu.Unlock()
			if handler != nil {
				handler(frame.Payload)
			}
		}
	}
}

// Close shuts the connection and stops redialing.
func (c *Client) Close() error {
	if c.ctx.Err() != nil {
		return nil
	}
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	<-c.done
	return nil
}
