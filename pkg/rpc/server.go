package rpc

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

// Authenticator resolves a bearer token to the account it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.DirectoryEntry, error)
}

// Metrics receives transport events. It may be nil.
type Metrics interface {
	RecordCall(method, code string, duration time.Duration)
	SessionOpened()
	SessionClosed()
}

type Handler func(ctx context.Context, session *Session, payload RawMessage) (any, error)

type ServerConfig struct {
	Authenticator Authenticator
	// MapError translates handler errors that are not already *Error.
	MapError   func(error) *Error
	Metrics    Metrics
	Logger     *zap.Logger
	SendBuffer int
}

type Server struct {
	authenticator Authenticator
	mapError      func(error) *Error
	metrics       Metrics
	logger        *zap.Logger
	tracer        trace.Tracer
	upgrader      websocket.Upgrader
	sendBuffer    int

	mu       sync.RWMutex
	methods  map[string]Handler
	onClose  []func(*Session)
	sessions map[string]*Session
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Server{
		authenticator: cfg.Authenticator,
		mapError:      cfg.MapError,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		tracer:        otel.Tracer("admin_service/pkg/rpc"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer: cfg.SendBuffer,
		methods:    make(map[string]Handler),
		sessions:   make(map[string]*Session),
	}
}

// Handle registers a raw handler for method.
func (s *Server) Handle(method string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = handler
}

// Register binds a typed handler to method.
func Register[Req, Resp any](s *Server, method string, fn func(ctx context.Context, session *Session, request Req) (Resp, error)) {
	s.Handle(method, func(ctx context.Context, session *Session, payload RawMessage) (any, error) {
		var request Req
		if len(payload) > 0 {
			if err := Unmarshal(payload, &request); err != nil {
				return nil, Errorf(CodeInvalidArgument, "decode %s: %v", method, err)
			}
		}
		return fn(ctx, session, request)
	})
}

// OnSessionClosed registers fn to run after a session closes.
func (s *Server) OnSessionClosed(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, fn)
}

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close terminates every open session.
func (s *Server) Close() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()
	for _, session := range sessions {
		session.Close()
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" || s.authenticator == nil {
		http.Error(w, "missing session token", http.StatusUnauthorized)
		return
	}
	account, err := s.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		s.logger.Warn("Rejected connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	session := &Session{
		id:      uuid.NewString(),
		account: account,
		conn:    conn,
		send:    make(chan []byte, s.sendBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	session.logger = s.logger.With(zap.String("session_id", session.id), zap.Uint32("account", account.ID))

	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}
	session.logger.Info("Session opened", zap.String("remote_addr", r.RemoteAddr))

	go session.writePump()
	go s.readPump(session)
}

func (s *Server) readPump(session *Session) {
	defer s.release(session)

	conn := session.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.logger.Warn("Session read failed", zap.Error(err))
			}
			return
		}
		var frame Frame
		if err := Unmarshal(data, &frame); err != nil {
			session.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		if frame.Kind != KindRequest {
			continue
		}
		go s.dispatch(session, frame)
	}
}

func (s *Server) release(session *Session) {
	session.Close()

	s.mu.Lock()
	delete(s.sessions, session.id)
	hooks := append([]func(*Session){}, s.onClose...)
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(session)
	}
	if s.metrics != nil {
		s.metrics.SessionClosed()
	}
	session.logger.Info("Session closed")
}

// dispatch runs one call to completion even if the session closes
// meanwhile.
func (s *Server) dispatch(session *Session, frame Frame) {
	ctx, span := s.tracer.Start(context.WithoutCancel(session.ctx), frame.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.method", frame.Method),
			attribute.String("rpc.session", session.id),
			attribute.Int64("admin.account", int64(session.account.ID)),
		))
	defer span.End()

	start := time.Now()
	result, err := s.invoke(ctx, session, frame)

	response := Frame{Kind: KindResponse, ID: frame.ID}
	if err == nil {
		payload, marshalErr := Marshal(result)
		if marshalErr != nil {
			err = fmt.Errorf("encode %s response: %w", frame.Method, marshalErr)
		} else {
			response.Payload = payload
		}
	}
	code := "ok"
	if err != nil {
		response.Error = s.toError(session, frame.Method, err)
		code = string(response.Error.Code)
		span.RecordError(err)
		span.SetStatus(codes.Error, response.Error.Error())
	}
	if s.metrics != nil {
		s.metrics.RecordCall(frame.Method, code, time.Since(start))
	}
	if err := session.write(response); err != nil {
		session.logger.Debug("Dropping response for closed session", zap.String("method", frame.Method))
	}
}

func (s *Server) invoke(ctx context.Context, session *Session, frame Frame) (result any, err error) {
	s.mu.RLock()
	handler, ok := s.methods[frame.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, Errorf(CodeUnimplemented, "unknown method %q", frame.Method)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", frame.Method, r)
		}
	}()
	return handler(ctx, session, frame.Payload)
}

func (s *Server) toError(session *Session, method string, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if s.mapError != nil {
		if mapped := s.mapError(err); mapped != nil {
			return mapped
		}
	}
	session.logger.Error("Call failed", zap.String("method", method), zap.Error(err))
	return &Error{Code: CodeInternal, Message: "internal error"}
}

// Session is one authenticated connection.
type Session struct {
	id      string
	account domain.DirectoryEntry
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger

	closeOnce sync.Once
}

func (s *Session) ID() string {
	return s.id
}

// Account is the account the session authenticated as.
func (s *Session) Account() domain.DirectoryEntry {
	return s.account
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Push enqueues a server-initiated message without waiting. It fails with
// ErrSlowConsumer when the send buffer is full.
func (s *Session) Push(method string, payload any) error {
	data, err := Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s push: %w", method, err)
	}
	frame, err := Marshal(Frame{Kind: KindPush, Method: method, Payload: data})
	if err != nil {
		return fmt.Errorf("encode %s push: %w", method, err)
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

func (s *Session) write(frame Frame) error {
	data, err := Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.logger.Debug("Session write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
