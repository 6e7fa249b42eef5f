package wsclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDescriptor struct{ key string }

func (d testDescriptor) Key() string { return d.key }

type testCodec struct{}

func (testCodec) EncodeSubscribe(descs []Descriptor) ([]byte, error) {
	return encodeKeys("sub", descs), nil
}
func (testCodec) EncodeUnsubscribe(descs []Descriptor) ([]byte, error) {
	return encodeKeys("unsub", descs), nil
}
func (testCodec) EncodeResubscribe(descs []Descriptor) ([]byte, error) {
	return encodeKeys("resub", descs), nil
}
func (testCodec) EncodePing() []byte { return []byte("app-ping") }

func encodeKeys(op string, descs []Descriptor) []byte {
	keys := make([]string, len(descs))
	for i, d := range descs {
		keys[i] = d.Key()
	}
	return []byte(op + ":" + strings.Join(keys, ","))
}

// echoServer records every received frame; it writes nothing back.
type echoServer struct {
	mu       sync.Mutex
	received []string
	upgrader websocket.Upgrader
}

func newEchoServer() *echoServer {
	return &echoServer{upgrader: websocket.Upgrader{}}
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, string(msg))
		s.mu.Unlock()
	}
}

func (s *echoServer) messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestConnectSubscribeAndSend(t *testing.T) {
	t.Parallel()

	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := New(Config{URL: wsURL(ts), ReconnectDelay: 10 * time.Millisecond}, testCodec{}, func(frame []byte) {}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, StateConnected, c.State())

	require.NoError(t, c.Subscribe([]Descriptor{testDescriptor{"a"}, testDescriptor{"b"}}))

	require.Eventually(t, func() bool {
		for _, m := range srv.messages() {
			if m == "sub:a,b" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	c.Disconnect()
}

func TestSubscribeIsDeduplicated(t *testing.T) {
	t.Parallel()

	srv := newEchoServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()

	c := New(Config{URL: wsURL(ts), ReconnectDelay: 10 * time.Millisecond}, testCodec{}, func(frame []byte) {}, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))

	require.NoError(t, c.Subscribe([]Descriptor{testDescriptor{"a"}}))
	require.NoError(t, c.Subscribe([]Descriptor{testDescriptor{"a"}, testDescriptor{"b"}}))

	require.Eventually(t, func() bool {
		msgs := srv.messages()
		return len(msgs) == 2 && msgs[0] == "sub:a" && msgs[1] == "sub:b"
	}, time.Second, 10*time.Millisecond)

	c.Disconnect()
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	t.Parallel()

	var upgrader websocket.Upgrader
	var mu sync.Mutex
	connCount := 0
	lastResubscribe := ""
	firstConnClosed := make(chan struct{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		if n == 1 {
			// Drop the first connection shortly after it connects, to force
			// the client through the reconnect path.
			go func() {
				time.Sleep(30 * time.Millisecond)
				conn.Close()
				close(firstConnClosed)
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}

		// Second connection: read the resubscribe replay.
		_, msg, err := conn.ReadMessage()
		if err == nil {
			mu.Lock()
			lastResubscribe = string(msg)
			mu.Unlock()
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer ts.Close()

	c := New(Config{URL: wsURL(ts), ReconnectDelay: 10 * time.Millisecond}, testCodec{}, func(frame []byte) {}, slog.Default())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe([]Descriptor{testDescriptor{"a"}}))

	<-firstConnClosed

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastResubscribe == "resub:a"
	}, time.Second, 10*time.Millisecond)

	c.Disconnect()
}

func TestSendErrorsWhenNotConnected(t *testing.T) {
	t.Parallel()

	c := New(Config{URL: "ws://127.0.0.1:1/does-not-exist", ReconnectDelay: time.Hour}, testCodec{}, func(frame []byte) {}, slog.Default())
	err := c.Send([]byte("x"))
	assert.Error(t, err)
}
