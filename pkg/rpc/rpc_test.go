package rpc

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticAuthenticator map[string]domain.DirectoryEntry

func (a staticAuthenticator) Authenticate(ctx context.Context, token string) (domain.DirectoryEntry, error) {
	account, ok := a[token]
	if !ok {
		return domain.DirectoryEntry{}, errors.New("unknown token")
	}
	return account, nil
}

var errStale = errors.New("stale")

type testServer struct {
	rpc  *Server
	http *httptest.Server
	url  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	server := NewServer(ServerConfig{
		Authenticator: staticAuthenticator{"alice-token": domain.MakeAccount(7, "alice")},
		MapError: func(err error) *Error {
			if errors.Is(err, errStale) {
				return Errorf(CodeInvalidState, "%v", err)
			}
			return nil
		},
		Logger: zaptest.NewLogger(t),
	})
	Register(server, "echo", func(ctx context.Context, session *Session, request string) (string, error) {
		return request, nil
	})
	Register(server, "whoami", func(ctx context.Context, session *Session, _ struct{}) (domain.DirectoryEntry, error) {
		return session.Account(), nil
	})
	Register(server, "risk", func(ctx context.Context, session *Session, request domain.RiskParameters) (domain.RiskParameters, error) {
		return request, nil
	})
	Register(server, "denied", func(ctx context.Context, session *Session, _ struct{}) (struct{}, error) {
		return struct{}{}, Errorf(CodePermissionDenied, "not yours")
	})
	Register(server, "stale", func(ctx context.Context, session *Session, _ struct{}) (struct{}, error) {
		return struct{}{}, errStale
	})
	Register(server, "broken", func(ctx context.Context, session *Session, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("database on fire")
	})
	Register(server, "subscribe", func(ctx context.Context, session *Session, value int) (bool, error) {
		return true, session.Push("tick", value)
	})

	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return &testServer{
		rpc:  server,
		http: httpServer,
		url:  "ws" + strings.TrimPrefix(httpServer.URL, "http"),
	}
}

func dialTestClient(t *testing.T, url, token string) *Client {
	t.Helper()
	client, err := Dial(context.Background(), ClientConfig{
		URL:        url,
		Token:      token,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_Call(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")

	echoed, err := Invoke[string](ctx, client, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", echoed)

	account, err := Invoke[domain.DirectoryEntry](ctx, client, "whoami", struct{}{})
	require.NoError(t, err)
	assert.Equal(t, domain.MakeAccount(7, "alice"), account)
}

func TestClient_RoundTripsDomainValues(t *testing.T) {
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")

	parameters := domain.RiskParameters{
		Currency:     "USD",
		BuyingPower:  decimal.RequireFromString("125000.50"),
		NetLoss:      decimal.NewFromInt(900),
		AllowedState: domain.RiskState{Type: domain.RiskStateCloseOrders, Expiry: time.Date(2026, 3, 1, 9, 30, 0, 123456789, time.UTC)},
	}

	result, err := Invoke[domain.RiskParameters](context.Background(), client, "risk", parameters)

	require.NoError(t, err)
	assert.True(t, result.Equal(parameters), "got %+v", result)
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")

	err := client.Call(ctx, "denied", struct{}{}, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	err = client.Call(ctx, "stale", struct{}{}, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	err = client.Call(ctx, "broken", struct{}{}, nil)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "database on fire")

	err = client.Call(ctx, "missing", struct{}{}, nil)
	assert.ErrorIs(t, err, ErrUnimplemented)
}

func TestClient_RejectsBadToken(t *testing.T) {
	server := newTestServer(t)

	_, err := Dial(context.Background(), ClientConfig{URL: server.url, Token: "nope"})

	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestClient_Push(t *testing.T) {
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")
	ticks := make(chan int, 1)
	client.OnPush("tick", func(payload RawMessage) {
		var value int
		if err := Unmarshal(payload, &value); err == nil {
			ticks <- value
		}
	})

	ok, err := Invoke[bool](context.Background(), client, "subscribe", 42)
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case value := <-ticks:
		assert.Equal(t, 42, value)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push")
	}
}

func TestClient_Reconnects(t *testing.T) {
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")
	reconnected := make(chan struct{}, 1)
	client.OnReconnect(func() { reconnected <- struct{}{} })
	closed := make(chan string, 1)
	server.rpc.OnSessionClosed(func(session *Session) { closed <- session.ID() })

	server.rpc.Close()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session close")
	}
	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	echoed, err := Invoke[string](context.Background(), client, "echo", "again")
	require.NoError(t, err)
	assert.Equal(t, "again", echoed)
	assert.Equal(t, 1, server.rpc.SessionCount())
}

func TestClient_CloseFailsCalls(t *testing.T) {
	server := newTestServer(t)
	client := dialTestClient(t, server.url, "alice-token")

	require.NoError(t, client.Close())

	err := client.Call(context.Background(), "echo", "late", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestError_Is(t *testing.T) {
	err := Errorf(CodeNotFound, "request %d", 4)

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrPermissionDenied))
	assert.Equal(t, "not_found: request 4", err.Error())
}
