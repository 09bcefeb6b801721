package pending

import (
	"context"
	"errors"
	"testing"
	"time"

	"mini-socket/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settled(t *testing.T, f *Future) (message.Message, error) {
	t.Helper()
	v, err, ok := f.Result()
	require.True(t, ok, "future %d should be settled", f.ID())
	return v, err
}

func TestResolveSettlesOnlyMatchingID(t *testing.T) {
	r := NewRegistry(nil)

	futures := make([]*Future, 5)
	for i := range futures {
		f, err := r.Register(int64(i))
		require.NoError(t, err)
		futures[i] = f
	}

	require.True(t, r.Resolve(2, message.Message{"v": 2}))
	require.True(t, r.Reject(4, errors.New("boom")))

	v, err := settled(t, futures[2])
	assert.NoError(t, err)
	assert.Equal(t, 2, v["v"])

	_, err = settled(t, futures[4])
	assert.EqualError(t, err, "boom")

	for _, i := range []int{0, 1, 3} {
		_, _, ok := futures[i].Result()
		assert.False(t, ok, "future %d must still be pending", i)
	}
	assert.Equal(t, 3, r.Len())
	assert.False(t, r.Lookup(2))
	assert.True(t, r.Lookup(3))
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Register(1)
	require.NoError(t, err)

	_, err = r.Register(1)
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)

	// free again once settled
	r.Resolve(1, message.Message{})
	_, err = r.Register(1)
	assert.NoError(t, err)
}

func TestSettleIsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	f, err := r.Register(1)
	require.NoError(t, err)

	assert.True(t, r.Resolve(1, message.Message{"first": true}))
	assert.False(t, r.Resolve(1, message.Message{"second": true}))
	assert.False(t, r.Reject(1, errors.New("late")))

	v, err := settled(t, f)
	assert.NoError(t, err)
	assert.Equal(t, true, v["first"])
}

func TestUnknownIDIsNoop(t *testing.T) {
	r := NewRegistry(nil)

	assert.False(t, r.Resolve(42, message.Message{}))
	assert.False(t, r.Reject(42, errors.New("x")))
	assert.False(t, r.Cancel(42))
	assert.Equal(t, OutcomeUnknown, r.Settle(42, message.Message{}, false))
}

func TestCancelAfterResolveIsNoop(t *testing.T) {
	var notified []int64
	r := NewRegistry(func(id int64) { notified = append(notified, id) })

	f, err := r.Register(3)
	require.NoError(t, err)

	r.Resolve(3, message.Message{"ok": true})
	assert.False(t, r.Cancel(3))
	f.Cancel()

	v, err := settled(t, f)
	assert.NoError(t, err)
	assert.Equal(t, true, v["ok"])
	assert.Empty(t, notified)
}

func TestCancelRejectsAndNotifies(t *testing.T) {
	var notified []int64
	r := NewRegistry(func(id int64) { notified = append(notified, id) })

	f, err := r.Register(9)
	require.NoError(t, err)

	f.Cancel()

	_, err = settled(t, f)
	assert.ErrorIs(t, err, ErrRequestCancelled)
	assert.Equal(t, []int64{9}, notified)
	assert.False(t, r.Lookup(9))

	// second cancel does nothing
	f.Cancel()
	assert.Equal(t, []int64{9}, notified)
}

func TestLateReplyAfterCancelIsSwallowedOnce(t *testing.T) {
	r := NewRegistry(nil)
	f, err := r.Register(9)
	require.NoError(t, err)

	require.True(t, r.Cancel(9))

	assert.Equal(t, OutcomeSwallowed, r.Settle(9, message.Message{"requestId": 9}, false))
	assert.Equal(t, OutcomeUnknown, r.Settle(9, message.Message{"requestId": 9}, false))

	_, err = settled(t, f)
	assert.ErrorIs(t, err, ErrRequestCancelled)
}

func TestRegisterClearsTombstone(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register(5)
	require.NoError(t, err)
	r.Cancel(5)

	f, err := r.Register(5)
	require.NoError(t, err)

	assert.Equal(t, OutcomeResolved, r.Settle(5, message.Message{"type": "OK"}, false))
	_, err = settled(t, f)
	assert.NoError(t, err)
}

func TestTombstonesAreBounded(t *testing.T) {
	r := NewRegistry(nil)
	for i := int64(0); i < 10000; i++ {
		_, err := r.Register(i)
		require.NoError(t, err)
		require.True(t, r.Cancel(i))
	}

	assert.Equal(t, 0, r.Len())
	assert.Len(t, r.cancelled, TombstoneLimit)
	assert.LessOrEqual(t, len(r.graves), 2*TombstoneLimit)

	// oldest evicted first: an evicted id is unknown, a recent one is still swallowed
	assert.Equal(t, OutcomeUnknown, r.Settle(0, message.Message{"requestId": 0}, false))
	assert.Equal(t, OutcomeSwallowed, r.Settle(9999, message.Message{"requestId": 9999}, false))
}

func TestStaleGraveDoesNotEvictNewerTombstone(t *testing.T) {
	r := NewRegistry(nil)
	r.limit = 2

	cancel := func(id int64) {
		t.Helper()
		_, err := r.Register(id)
		require.NoError(t, err)
		require.True(t, r.Cancel(id))
	}

	cancel(1)
	cancel(2)
	cancel(1) // re-register consumed the first tombstone of 1, its grave is stale
	cancel(4) // over the limit: skips the stale grave, evicts 2

	assert.Equal(t, OutcomeSwallowed, r.Settle(1, message.Message{}, false))
	assert.Equal(t, OutcomeUnknown, r.Settle(2, message.Message{}, false))
	assert.Equal(t, OutcomeSwallowed, r.Settle(4, message.Message{}, false))
}

func TestSettleFailure(t *testing.T) {
	r := NewRegistry(nil)
	f, err := r.Register(3)
	require.NoError(t, err)

	reply := message.Message{"requestId": 3, "type": "ERROR"}
	assert.Equal(t, OutcomeRejected, r.Settle(3, reply, true))

	v, err := settled(t, f)
	var replyErr *ReplyError
	require.ErrorAs(t, err, &replyErr)
	assert.Equal(t, reply, replyErr.Reply)
	assert.Equal(t, reply, v)
}

func TestDrainOnClose(t *testing.T) {
	r := NewRegistry(nil)

	var futures []*Future
	for i := int64(0); i < 4; i++ {
		f, err := r.Register(i)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	r.Resolve(0, message.Message{})
	r.Cancel(1)

	assert.Equal(t, 2, r.DrainOnClose())
	assert.Equal(t, 0, r.Len())

	_, err := settled(t, futures[0])
	assert.NoError(t, err)
	_, err = settled(t, futures[1])
	assert.ErrorIs(t, err, ErrRequestCancelled)
	for _, f := range futures[2:] {
		_, err := settled(t, f)
		assert.ErrorIs(t, err, ErrConnectionClosed)
	}

	for i := int64(0); i < 4; i++ {
		assert.False(t, r.Lookup(i))
	}
	// tombstones are gone too
	assert.Equal(t, OutcomeUnknown, r.Settle(1, message.Message{}, false))
}

func TestAwait(t *testing.T) {
	r := NewRegistry(nil)
	f, err := r.Register(1)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.Resolve(1, message.Message{"type": "OK"})
	}()

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", v.Type())
}

func TestAwaitContextCancels(t *testing.T) {
	var notified []int64
	r := NewRegistry(func(id int64) { notified = append(notified, id) })
	f, err := r.Register(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = f.Await(ctx)
	assert.ErrorIs(t, err, ErrRequestCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []int64{1}, notified)
	assert.False(t, r.Lookup(1))
}
