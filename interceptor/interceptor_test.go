package interceptor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"mini-socket/action"
	"mini-socket/codec"
	"mini-socket/message"
	"mini-socket/metrics"
	"mini-socket/middleware"
	"mini-socket/pending"
	"mini-socket/protocol"
	"mini-socket/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu     sync.Mutex
	uri    string
	events transport.SocketEvents
	sent   []string
	closed bool
}

func (s *fakeSocket) Send(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) Reconnect() {}

func (s *fakeSocket) Wire(t *testing.T) []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, 0, len(s.sent))
	for _, text := range s.sent {
		msg, err := codec.DecodeMessage(codec.GetCodec(codec.CodecTypeJSON), []byte(text))
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (s *fakeSocket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
}

func (d *fakeDialer) Dial(uri string, events transport.SocketEvents) transport.Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSocket{uri: uri, events: events}
	d.sockets = append(d.sockets, s)
	return s
}

func (d *fakeDialer) Last() *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sockets[len(d.sockets)-1]
}

// harness wires an interceptor into a one-stage pipeline whose tail records every action.
type harness struct {
	in      *Interceptor
	dialer  *fakeDialer
	handler middleware.HandlerFunc

	mu     sync.Mutex
	seen   []action.Action
	onSeen func(action.Action)
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{dialer: &fakeDialer{}}
	dispatcher := DispatcherFunc(func(ctx context.Context, act action.Action) (*pending.Future, error) {
		return h.handler(ctx, act)
	})
	opts = append([]Option{WithReconnectDelay(time.Hour)}, opts...)
	h.in = New(h.dialer, dispatcher, opts...)
	h.handler = h.in.Middleware()(func(ctx context.Context, act action.Action) (*pending.Future, error) {
		h.mu.Lock()
		h.seen = append(h.seen, act)
		hook := h.onSeen
		h.mu.Unlock()
		if hook != nil {
			hook(act)
		}
		return nil, nil
	})
	return h
}

func (h *harness) dispatch(act action.Action) (*pending.Future, error) {
	return h.handler(context.Background(), act)
}

// connect dispatches a connect action and opens the resulting socket.
func (h *harness) connect(t *testing.T) *fakeSocket {
	t.Helper()
	_, err := h.dispatch(action.SocketConnect("ws://test/ws"))
	require.NoError(t, err)
	sock := h.dialer.Last()
	sock.events.OnOpen()
	return sock
}

func (h *harness) incoming() []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []message.Message
	for _, act := range h.seen {
		if in, ok := act.(action.Incoming); ok {
			out = append(out, in.Message)
		}
	}
	return out
}

func (h *harness) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.seen))
	for _, act := range h.seen {
		out = append(out, act.Type())
	}
	return out
}

func TestSendBeforeConnect(t *testing.T) {
	h := newHarness(t)

	future, err := h.dispatch(action.Request(message.Message{"payload": map[string]any{"type": "GET"}}))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Nil(t, future)

	_, err = h.dispatch(action.SocketClose())
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Empty(t, h.types())
}

func TestAutoAssignedIDs(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	caller := message.Message{"type": "GET"}
	f0, err := h.dispatch(action.Request(caller))
	require.NoError(t, err)
	f1, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	_, err = h.dispatch(action.Notify(message.Message{"type": "PING"}))
	require.NoError(t, err)

	assert.Equal(t, int64(0), f0.ID())
	assert.Equal(t, int64(1), f1.ID())

	wire := sock.Wire(t)
	require.Len(t, wire, 3)
	for i, msg := range wire {
		id, ok := msg.RequestID()
		require.True(t, ok)
		assert.Equal(t, int64(i), id)
		assert.NotContains(t, msg, action.FieldSendToServer)
		assert.NotContains(t, msg, action.FieldPromise)
	}
	assert.Equal(t, "PING", wire[2].Type())

	// the caller's message is never mutated
	assert.NotContains(t, caller, message.FieldRequestID)

	assert.Equal(t, []string{action.TypeConnect, action.TypeOpened, "GET", "GET", "PING"}, h.types())
	assert.Equal(t, 2, h.in.Pending())
}

func TestSendQueuedUntilOpen(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatch(action.SocketConnect("ws://test/ws"))
	require.NoError(t, err)
	sock := h.dialer.Last()

	_, err = h.dispatch(action.Notify(message.Message{"type": "A"}))
	require.NoError(t, err)
	_, err = h.dispatch(action.Notify(message.Message{"type": "B"}))
	require.NoError(t, err)
	assert.Empty(t, sock.Wire(t))
	assert.Equal(t, transport.StateConnecting, h.in.State())

	sock.events.OnOpen()

	wire := sock.Wire(t)
	require.Len(t, wire, 2)
	assert.Equal(t, "A", wire[0].Type())
	assert.Equal(t, "B", wire[1].Type())
	assert.Equal(t, transport.StateOpen, h.in.State())
}

func TestReplyResolves(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(7))
	require.NoError(t, err)

	sock.events.OnMessage(`{"requestId":7,"type":"OK","value":42}`)

	v, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", v.Type())
	assert.Equal(t, json.Number("42"), v["value"])

	// the reply is re-dispatched as well
	require.Len(t, h.incoming(), 1)
	assert.Equal(t, v, h.incoming()[0])
	assert.Zero(t, h.in.Pending())
}

func TestErrorReplyRejects(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(3))
	require.NoError(t, err)

	sock.events.OnMessage(`{"requestId":3,"type":"ERROR"}`)

	v, err := future.Await(context.Background())
	var replyErr *pending.ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.Equal(t, "ERROR", replyErr.Reply.Type())
	assert.Equal(t, replyErr.Reply, v)
	assert.Len(t, h.incoming(), 1)
}

func TestErrorPolicy(t *testing.T) {
	h := newHarness(t, WithErrorPolicy(protocol.ErrorPolicy{Type: "FAILURE", Field: "failed"}))
	sock := h.connect(t)

	byType, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	byField, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	ok, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)

	sock.events.OnMessage(`{"requestId":0,"type":"FAILURE"}`)
	sock.events.OnMessage(`{"requestId":1,"type":"GET_RESULT","failed":true}`)
	sock.events.OnMessage(`{"requestId":2,"type":"ERROR"}`)

	var replyErr *pending.ReplyError
	_, err = byType.Await(context.Background())
	assert.ErrorAs(t, err, &replyErr)
	_, err = byField.Await(context.Background())
	assert.ErrorAs(t, err, &replyErr)
	v, err := ok.Await(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "ERROR", v.Type())
}

func TestCloseDrainsBeforeClosedEvent(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(5))
	require.NoError(t, err)

	var settledAtClose bool
	h.onSeen = func(act action.Action) {
		if _, ok := act.(action.Closed); ok {
			_, _, settledAtClose = future.Result()
		}
	}

	sock.events.OnClose(false, 1006, "lost")

	_, err = future.Await(context.Background())
	assert.ErrorIs(t, err, pending.ErrConnectionClosed)
	assert.True(t, settledAtClose, "requests must be rejected before Closed is dispatched")
	assert.Zero(t, h.in.Pending())

	types := h.types()
	assert.Equal(t, action.TypeClosed, types[len(types)-1])
}

func TestCancelSwallowsLateReply(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(9))
	require.NoError(t, err)

	future.Cancel()

	_, err = future.Await(context.Background())
	assert.ErrorIs(t, err, pending.ErrRequestCancelled)

	wire := sock.Wire(t)
	require.Len(t, wire, 2)
	assert.Equal(t, protocol.TypeCancelRequest, wire[1].Type())
	id, _ := wire[1].RequestID()
	assert.Equal(t, int64(9), id)

	sock.events.OnMessage(`{"requestId":9,"type":"OK"}`)
	assert.Empty(t, h.incoming())

	// cancel after settlement changes nothing
	future.Cancel()
	assert.Len(t, sock.Wire(t), 2)
}

func TestCancelOnContextEnd(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "SLOW"}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = future.Await(ctx)
	assert.ErrorIs(t, err, pending.ErrRequestCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, protocol.TypeCancelRequest, sock.Wire(t)[1].Type())
}

func TestUnsolicitedMessagesRedispatched(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	sock.events.OnMessage(`{"type":"PUSH","data":"x"}`)
	sock.events.OnMessage(`{"type":"RESULT","requestId":99}`)
	// server-bound markers from the peer are not interpreted
	sock.events.OnMessage(`{"type":"ECHO","sendToServer":true}`)

	got := h.incoming()
	require.Len(t, got, 3)
	assert.Equal(t, "PUSH", got[0].Type())
	assert.Equal(t, "RESULT", got[1].Type())
	assert.Equal(t, "ECHO", got[2].Type())
	assert.Len(t, sock.Wire(t), 0)
}

func TestMalformedMessageDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newHarness(t, WithMetrics(m))
	sock := h.connect(t)

	sock.events.OnMessage(`not json`)
	sock.events.OnMessage(`[1,2]`)
	sock.events.OnMessage(`null`)

	assert.Empty(t, h.incoming())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.MalformedTotal))
	assert.Equal(t, transport.StateOpen, h.in.State())
}

func TestLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	sock.events.OnError(1006)

	h.mu.Lock()
	last := h.seen[len(h.seen)-1]
	h.mu.Unlock()
	errAct, ok := last.(action.Error)
	require.True(t, ok, "got %T", last)
	assert.Equal(t, 1006, errAct.Code)
	assert.Equal(t, protocol.CloseText(1006), errAct.Message)
}

func TestDuplicateExplicitID(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	_, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(1))
	require.NoError(t, err)
	_, err = h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(1))
	assert.ErrorIs(t, err, pending.ErrDuplicateIdentifier)
}

func TestAutoIDSkipsOutstandingExplicitIDs(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	_, err := h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(0))
	require.NoError(t, err)
	_, err = h.dispatch(action.Request(message.Message{"type": "GET"}).WithID(1))
	require.NoError(t, err)

	auto, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), auto.ID())

	// settled explicit ids do not pull the counter back
	sock.events.OnMessage(`{"requestId":0,"type":"OK"}`)
	next, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.ID())
	assert.Equal(t, 3, h.in.Pending())
}

func TestCloseAction(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)

	_, err := h.dispatch(action.SocketClose())
	require.NoError(t, err)
	assert.True(t, sock.Closed())

	_, err = h.dispatch(action.Notify(message.Message{"type": "LATE"}))
	assert.ErrorIs(t, err, ErrNotConnected)

	sock.events.OnClose(true, 1000, "")
	assert.Equal(t, action.TypeClosed, h.types()[len(h.types())-1])
}

func TestReconnectRetiresAdapter(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)

	second := h.connect(t)
	assert.True(t, first.Closed())
	assert.NotSame(t, first, second)

	// events of the retired socket are ignored, including its close
	first.events.OnMessage(`{"type":"STALE"}`)
	first.events.OnClose(true, 1000, "")
	assert.Empty(t, h.incoming())
	_, _, settled := future.Result()
	assert.False(t, settled, "replacing the adapter does not drain")

	// the counter keeps going and the old request can still be answered
	next, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), next.ID())

	second.events.OnMessage(`{"type":"OK","requestId":0}`)
	v, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", v.Type())
}

type stubResolver struct {
	uri string
	err error
	key string
}

func (r *stubResolver) Resolve(ctx context.Context, service, key string) (string, error) {
	r.key = key
	return r.uri, r.err
}

func TestConnectByService(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatch(action.Connect{Service: "echo"})
	assert.ErrorIs(t, err, ErrNoEndpoint)

	r := &stubResolver{uri: "ws://resolved/ws"}
	h = newHarness(t, WithResolver(r))
	_, err = h.dispatch(action.Connect{Service: "echo"})
	require.NoError(t, err)
	assert.Equal(t, "ws://resolved/ws", h.dialer.Last().uri)
	assert.Equal(t, h.in.Session(), r.key)

	r.err = errors.New("no instances")
	_, err = h.dispatch(action.Connect{Service: "echo"})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestPipelineErrorCancelsRequest(t *testing.T) {
	h := newHarness(t)
	sock := h.connect(t)
	boom := errors.New("boom")
	h.handler = h.in.Middleware()(func(ctx context.Context, act action.Action) (*pending.Future, error) {
		if _, ok := act.(action.Outgoing); ok {
			return nil, boom
		}
		return nil, nil
	})

	future, err := h.dispatch(action.Request(message.Message{"type": "GET"}))
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, future)
	assert.Zero(t, h.in.Pending())
	assert.Equal(t, protocol.TypeCancelRequest, sock.Wire(t)[1].Type())
}
