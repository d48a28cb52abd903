package auction

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSweeper_Sweep(t *testing.T) {
	f := newEngineFixture(t)
	due := f.activeAuction(t)
	_, err := f.engine.SubmitBid(context.Background(), due.ID, "buyer-a", dec("110"), baseTime.Add(time.Minute))
	require.NoError(t, err)

	var now atomic.Value
	now.Store(due.EndAt.Add(-time.Minute))
	sweeper := NewSweeper(f.engine,
		WithSweeperLogger(discardLogger()),
		WithSweeperClock(func() time.Time { return now.Load().(time.Time) }),
	)

	assert.Equal(t, 0, sweeper.Sweep(context.Background()))

	now.Store(due.EndAt)
	assert.Equal(t, 1, sweeper.Sweep(context.Background()))
	assert.Equal(t, 0, sweeper.Sweep(context.Background()))
	assert.Len(t, f.settler.calls(), 1)
}

func TestSweeper_StartClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newEngineFixture(t)
	a := f.activeAuction(t)
	sweeper := NewSweeper(f.engine,
		WithSweeperLogger(discardLogger()),
		WithSweeperInterval(10*time.Millisecond),
		WithSweeperClock(func() time.Time { return a.EndAt.Add(time.Second) }),
	)

	sweeper.Start()
	sweeper.Start()
	assert.Eventually(t, func() bool {
		got, err := f.engine.Get(context.Background(), a.ID)
		return err == nil && got.State == StateEnded
	}, time.Second, 10*time.Millisecond)
	sweeper.Close()
	sweeper.Close()

	assert.Len(t, f.publisher.ofType(EventAuctionEnded), 1)
}
