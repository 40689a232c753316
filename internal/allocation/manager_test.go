package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedBalance(amount float64) BalanceFunc {
	return func(ctx context.Context) (float64, error) { return amount, nil }
}

func TestReserveFundsConcurrentPositionsAdmitted(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()
	balance := fixedBalance(1000)

	// 余额 1000，两笔 10% 的预留都必须通过：200 ≤ 1000
	res1, err := m.ReserveFunds(ctx, "BTCUSDT", 10, balance)
	require.NoError(t, err)
	assert.True(t, res1.Success)
	assert.Equal(t, 100.0, res1.Amount)

	res2, err := m.ReserveFunds(ctx, "ETHUSDT", 10, balance)
	require.NoError(t, err)
	assert.True(t, res2.Success)
	assert.Equal(t, 100.0, res2.Amount)

	st := m.GetAllocationStatus()
	assert.Equal(t, 200.0, st.TotalReserved)
	assert.Equal(t, 1000.0, st.TotalBalance)
	assert.InDelta(t, 20.0, st.PercentUsed, 1e-9)
}

func TestReserveFundsInsufficientFunds(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()
	balance := fixedBalance(1000)

	res, err := m.ReserveFunds(ctx, "BTCUSDT", 60, balance)
	require.NoError(t, err)
	require.True(t, res.Success)

	// 在册 600 + 本次 600 > 1000 → 拒绝，且不是错误
	res, err = m.ReserveFunds(ctx, "ETHUSDT", 60, balance)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInsufficientFunds, res.Reason)

	// 被拒的预留不得记账
	assert.Equal(t, 600.0, m.GetAllocationStatus().TotalReserved)
}

func TestReserveFundsBelowMinNotional(t *testing.T) {
	m := NewManager(10, zap.NewNop())

	res, err := m.ReserveFunds(context.Background(), "BTCUSDT", 0.5, fixedBalance(1000))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonBelowMinNotional, res.Reason)
	assert.Equal(t, 5.0, res.Amount)
}

func TestReserveFundsDuplicateSymbol(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()
	balance := fixedBalance(1000)

	res, err := m.ReserveFunds(ctx, "BTCUSDT", 10, balance)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = m.ReserveFunds(ctx, "BTCUSDT", 10, balance)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonAlreadyReserved, res.Reason)
	assert.Equal(t, 100.0, m.GetAllocationStatus().TotalReserved)
}

func TestReserveFundsBalanceSourceError(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	failing := func(ctx context.Context) (float64, error) {
		return 0, errors.New("exchange unavailable")
	}

	res, err := m.ReserveFunds(context.Background(), "BTCUSDT", 10, failing)
	assert.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonBalanceSource, res.Reason)
}

func TestReleaseFundsIdempotent(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()

	res, err := m.ReserveFunds(ctx, "BTCUSDT", 10, fixedBalance(1000))
	require.NoError(t, err)
	require.True(t, res.Success)

	m.ReleaseFunds("BTCUSDT")
	assert.Equal(t, 0.0, m.GetAllocationStatus().TotalReserved)

	// 重复释放和释放未知交易对都是空操作
	m.ReleaseFunds("BTCUSDT")
	m.ReleaseFunds("UNKNOWN")
	assert.Equal(t, 0.0, m.GetAllocationStatus().TotalReserved)

	// 释放后同一交易对可以重新预留
	res, err = m.ReserveFunds(ctx, "BTCUSDT", 10, fixedBalance(1000))
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestUpdateReservation(t *testing.T) {
	m := NewManager(10, zap.NewNop())

	_, err := m.ReserveFunds(context.Background(), "BTCUSDT", 10, fixedBalance(1000))
	require.NoError(t, err)

	m.UpdateReservation("BTCUSDT", 42)
	m.UpdateReservation("UNKNOWN", 99) // 空操作

	st := m.GetAllocationStatus()
	require.Len(t, st.Reservations, 1)
	assert.Equal(t, int64(42), st.Reservations[0].OrderID)
}

func TestGetAllocationStatusSorted(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()
	balance := fixedBalance(1000)

	for _, symbol := range []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"} {
		res, err := m.ReserveFunds(ctx, symbol, 10, balance)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	st := m.GetAllocationStatus()
	require.Len(t, st.Reservations, 3)
	assert.Equal(t, "BTCUSDT", st.Reservations[0].Symbol)
	assert.Equal(t, "ETHUSDT", st.Reservations[1].Symbol)
	assert.Equal(t, "SOLUSDT", st.Reservations[2].Symbol)
}

func TestClearAllReservations(t *testing.T) {
	m := NewManager(10, zap.NewNop())
	ctx := context.Background()
	balance := fixedBalance(1000)

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		_, err := m.ReserveFunds(ctx, symbol, 10, balance)
		require.NoError(t, err)
	}

	m.ClearAllReservations()
	st := m.GetAllocationStatus()
	assert.Equal(t, 0.0, st.TotalReserved)
	assert.Empty(t, st.Reservations)
}
