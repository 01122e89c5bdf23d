package signal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"playlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type closeEvent struct {
	code   int
	reason string
}

type recorder struct {
	ready    chan struct{}
	messages chan domain.SignalingMessage
	closed   chan closeEvent
}

func newRecorder() *recorder {
	return &recorder{
		ready:    make(chan struct{}, 16),
		messages: make(chan domain.SignalingMessage, 16),
		closed:   make(chan closeEvent, 16),
	}
}

func (r *recorder) OnReady()                              { r.ready <- struct{}{} }
func (r *recorder) OnMessage(msg domain.SignalingMessage) { r.messages <- msg }
func (r *recorder) OnClosed(code int, reason string)      { r.closed <- closeEvent{code, reason} }

type testRelay struct {
	srv      *httptest.Server
	silent   bool
	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan []byte
	stop     chan struct{}
}

func newTestRelay(t *testing.T, silent bool) *testRelay {
	t.Helper()
	r := &testRelay{
		silent:   silent,
		received: make(chan []byte, 16),
		stop:     make(chan struct{}),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.mu.Unlock()

		if r.silent {
			<-r.stop
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			r.received <- data
		}
	}))
	t.Cleanup(func() {
		close(r.stop)
		r.mu.Lock()
		for _, c := range r.conns {
			c.Close()
		}
		r.mu.Unlock()
		r.srv.Close()
	})
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *testRelay) conn(i int) *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[i]
}

func testOptions(url string) TransportOptions {
	opts := DefaultTransportOptions(url)
	opts.HandshakeTimeout = time.Second
	opts.ReconnectDelay = 50 * time.Millisecond
	return opts
}

func waitReady(t *testing.T, rec *recorder) {
	t.Helper()
	select {
	case <-rec.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never became ready")
	}
}

func waitClosed(t *testing.T, rec *recorder) closeEvent {
	t.Helper()
	select {
	case ev := <-rec.closed:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("transport never reported closure")
	}
	return closeEvent{}
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	tr := NewTransport(testOptions(relay.url()), rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	tr.Connect()
	waitReady(t, rec)
	tr.Connect()

	assert.True(t, tr.IsOpen())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, relay.count(), "only one socket should ever be dialed")
	assert.Len(t, rec.ready, 0)
}

func TestTransport_SendWhileClosedIsDropped(t *testing.T) {
	rec := newRecorder()
	tr := NewTransport(testOptions("ws://127.0.0.1:1"), rec, zap.NewNop(), nil)

	assert.False(t, tr.IsOpen())
	assert.False(t, tr.Send(domain.NewOffer("v=0")))
}

func TestTransport_SendAndReceive(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	tr := NewTransport(testOptions(relay.url()), rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	require.True(t, tr.Send(domain.NewOffer("v=0\r\n")))
	select {
	case data := <-relay.received:
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0\r\n"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("relay did not receive the offer")
	}

	err := relay.conn(0).WriteMessage(websocket.TextMessage, []byte(`{"type":"answer","sdp":"v=0"}`))
	require.NoError(t, err)
	select {
	case msg := <-rec.messages:
		assert.Equal(t, domain.SignalAnswer, msg.Type)
		assert.Equal(t, "v=0", msg.SDP)
	case <-time.After(time.Second):
		t.Fatal("answer not delivered")
	}
}

func TestTransport_MalformedMessageIsDropped(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	tr := NewTransport(testOptions(relay.url()), rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	server := relay.conn(0)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"candidate","candidate":"oops"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"bye"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`)))

	select {
	case msg := <-rec.messages:
		assert.Equal(t, domain.SignalCandidate, msg.Type)
		assert.Contains(t, string(msg.Candidate), "10.0.0.1")
	case <-time.After(time.Second):
		t.Fatal("valid candidate not delivered")
	}
	assert.Len(t, rec.messages, 0)
	assert.Len(t, rec.closed, 0)
	assert.True(t, tr.IsOpen())
}

func TestTransport_CloseCodes(t *testing.T) {
	cases := []struct {
		name      string
		code      int
		reconnect bool
	}{
		{"normal closure", websocket.CloseNormalClosure, false},
		{"going away", websocket.CloseGoingAway, true},
		{"internal error", websocket.CloseInternalServerErr, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			relay := newTestRelay(t, false)
			rec := newRecorder()
			opts := testOptions(relay.url())
			opts.AutoReconnect = true
			tr := NewTransport(opts, rec, zap.NewNop(), nil)
			defer tr.Close(domain.CloseNormal, "test done")

			tr.Connect()
			waitReady(t, rec)

			err := relay.conn(0).WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(tc.code, "bye"))
			require.NoError(t, err)

			ev := waitClosed(t, rec)
			assert.Equal(t, tc.code, ev.code)

			if tc.reconnect {
				waitReady(t, rec)
				assert.Equal(t, 2, relay.count())
			} else {
				time.Sleep(200 * time.Millisecond)
				assert.Equal(t, 1, relay.count())
				assert.False(t, tr.IsOpen())
			}
		})
	}
}

func TestTransport_DroppedConnectionReconnectsOnce(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	opts := testOptions(relay.url())
	opts.AutoReconnect = true
	tr := NewTransport(opts, rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	relay.conn(0).UnderlyingConn().Close()

	ev := waitClosed(t, rec)
	assert.Equal(t, domain.CloseAbnormal, ev.code)

	waitReady(t, rec)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, relay.count(), "exactly one reconnect per closure")
	assert.Len(t, rec.ready, 0)
}

func TestTransport_ReconnectSkippedWhenAlreadyConnected(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	opts := testOptions(relay.url())
	opts.AutoReconnect = true
	opts.ReconnectDelay = 200 * time.Millisecond
	tr := NewTransport(opts, rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	relay.conn(0).UnderlyingConn().Close()
	waitClosed(t, rec)

	// reconnect manually before the timer fires
	tr.Connect()
	waitReady(t, rec)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, relay.count())
}

func TestTransport_CloseSuppressesReconnect(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	opts := testOptions(relay.url())
	opts.AutoReconnect = true
	tr := NewTransport(opts, rec, zap.NewNop(), nil)

	tr.Connect()
	waitReady(t, rec)

	tr.Close(domain.CloseNormal, "user stop")
	tr.Close(domain.CloseNormal, "user stop")
	assert.False(t, tr.IsOpen())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, relay.count())
	assert.Len(t, rec.closed, 0, "local close is not reported back")
	assert.False(t, tr.Send(domain.NewAnswer("v=0")))
}

func TestTransport_DialFailureReportsAbnormalClosure(t *testing.T) {
	relay := newTestRelay(t, false)
	url := relay.url()
	relay.srv.Close()

	rec := newRecorder()
	tr := NewTransport(testOptions(url), rec, zap.NewNop(), nil)
	tr.Connect()

	ev := waitClosed(t, rec)
	assert.Equal(t, domain.CloseAbnormal, ev.code)
	assert.False(t, tr.IsOpen())
}

func TestTransport_MissingPongIsAbnormal(t *testing.T) {
	relay := newTestRelay(t, true)
	rec := newRecorder()
	opts := testOptions(relay.url())
	opts.PingInterval = 20 * time.Millisecond
	opts.PongTimeout = 100 * time.Millisecond
	tr := NewTransport(opts, rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	ev := waitClosed(t, rec)
	assert.Equal(t, domain.CloseAbnormal, ev.code)
}

func TestTransport_OversizedMessageIsAbnormal(t *testing.T) {
	relay := newTestRelay(t, false)
	rec := newRecorder()
	opts := testOptions(relay.url())
	opts.MaxMessageSize = 128
	tr := NewTransport(opts, rec, zap.NewNop(), nil)
	defer tr.Close(domain.CloseNormal, "test done")

	tr.Connect()
	waitReady(t, rec)

	big := `{"type":"offer","sdp":"` + strings.Repeat("a", 512) + `"}`
	require.NoError(t, relay.conn(0).WriteMessage(websocket.TextMessage, []byte(big)))

	ev := waitClosed(t, rec)
	assert.Equal(t, domain.CloseAbnormal, ev.code)
	assert.Len(t, rec.messages, 0)
}
