package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"coharvest/native/bidpool"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "outbox.db"))
	require.NoError(t, err)
	store, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store
}

func reward(round, bid uint64, amount uint64) bidpool.Instruction {
	ins := bidpool.NativeAsset("usdc").Transfer("orai1qyqszqgpqyqszqgpqyqszqgpqyqszqgppqhav0", uint256.NewInt(amount))
	ins.Reason = bidpool.ReasonReward
	ins.Round = round
	ins.BidID = bid
	return ins
}

func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	batch := []bidpool.Instruction{reward(1, 2, 500), reward(1, 1, 700)}
	inserted, err := store.Enqueue(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 2, inserted)

	_, err = store.Enqueue(ctx, batch)
	require.NoError(t, err)

	pending, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, uint64(1), pending[0].BidID)
	require.Equal(t, "700", pending[0].Amount)
	require.Equal(t, StatusPending, pending[0].Status)
	require.Equal(t, batch[1].Key(), pending[0].Key)
	require.Contains(t, pending[0].Payload, `"send"`)

	inserted, err = store.Enqueue(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, inserted)
}

func TestMarkDispatched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ins := reward(3, 9, 42)
	_, err := store.Enqueue(ctx, []bidpool.Instruction{ins})
	require.NoError(t, err)

	entry, err := store.MarkDispatched(ctx, ins.Key())
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, entry.Status)
	require.NotNil(t, entry.DispatchedAt)

	again, err := store.MarkDispatched(ctx, ins.Key())
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, again.Status)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stored, err := store.Get(ctx, ins.Key())
	require.NoError(t, err)
	require.Equal(t, StatusDispatched, stored.Status)

	_, err = store.MarkDispatched(ctx, "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
