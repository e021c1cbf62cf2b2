package stock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeightedAverage(t *testing.T) {
	cases := []struct {
		name       string
		currentQty int64
		currentAvg int64
		qty        int64
		cost       int64
		want       int64
	}{
		{"first entry", 0, 0, 10, 200, 200},
		{"second entry", 10, 200, 10, 250, 225},
		{"third entry", 20, 225, 10, 280, 243},
		{"negative position resets to entry cost", -3, 500, 10, 120, 120},
		{"rounds half up", 1, 1, 1, 2, 2},
		{"zero cost entry dilutes", 10, 100, 10, 0, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, weightedAverage(tc.currentQty, tc.currentAvg, tc.qty, tc.cost))
		})
	}
}

func TestForMethod(t *testing.T) {
	fifo, err := ForMethod(MethodFIFO)
	require.NoError(t, err)
	require.Equal(t, MethodFIFO, fifo.Method())

	avg, err := ForMethod(MethodAverageCost)
	require.NoError(t, err)
	require.Equal(t, MethodAverageCost, avg.Method())

	_, err = ForMethod(ValuationMethod("lifo"))
	require.ErrorIs(t, err, ErrUnknownValuationMethod)
}

// Repeating the same withdrawal over identical lots must consume identical
// batches at identical costs.
func TestFIFODepletionIsDeterministic(t *testing.T) {
	run := func() WithdrawalResult {
		svc, _, _ := newTestService(MethodFIFO)
		seedThreeLots(t, svc)
		result, err := svc.Withdraw(context.Background(), WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 25, Reason: "sale"})
		require.NoError(t, err)
		return result
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.Equal(t, int64(10*200+10*250+5*280), first.TotalCost)
	require.Len(t, first.Lines, 3)
}

func TestFIFOAllOrNothing(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	seedThreeLots(t, svc)

	// One unit more than the three lots hold: nothing may be consumed.
	_, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 31, Reason: "sale"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	for _, b := range repo.batches {
		require.Equal(t, int64(10), b.Quantity)
	}
	require.Equal(t, int64(30), repo.positions[key(1, 1)].Quantity)
}

// Ties on entry date break by insertion order.
func TestFIFOTieBreaksOnID(t *testing.T) {
	svc, _, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	day := seedThreeLots(t, svc)

	_, err := svc.CreateEntry(ctx, EntryInput{
		ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 300,
		BatchNumber: "L0", EntryDate: day,
	})
	require.NoError(t, err)

	result, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 15, Reason: "sale"})
	require.NoError(t, err)
	// L0 shares L1's entry date but was inserted later, so L1 drains first
	// and L0 goes before the newer-dated L2.
	require.Equal(t, "L1", result.Lines[0].BatchNumber)
	require.Equal(t, "L0", result.Lines[1].BatchNumber)
	require.Equal(t, int64(5), result.Lines[1].Quantity)
	require.Equal(t, int64(300), result.Lines[1].UnitCost)
}
