package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FailReason 预留失败的类型化原因
type FailReason string

const (
	ReasonNone              FailReason = ""
	ReasonInsufficientFunds FailReason = "INSUFFICIENT_FUNDS"
	ReasonBelowMinNotional  FailReason = "BELOW_MIN_NOTIONAL"
	ReasonAlreadyReserved   FailReason = "ALREADY_RESERVED"
	ReasonBalanceSource     FailReason = "BALANCE_SOURCE_ERROR"
)

// BalanceFunc 可用余额来源 (交易所账户或纸面余额)
type BalanceFunc func(ctx context.Context) (float64, error)

// Reservation 一笔资金预留；进场确认时创建，平仓或进场失败时恰好释放一次
type Reservation struct {
	Symbol         string
	ReservedAmount float64
	OrderID        int64 // 0 表示订单号尚未知
	Timestamp      time.Time
}

// ReserveResult 预留结果
type ReserveResult struct {
	Success bool
	Amount  float64
	Reason  FailReason
}

// Status 当前资金占用概览
type Status struct {
	TotalReserved float64
	TotalBalance  float64 // 最近一次预留检查时观测到的余额
	PercentUsed   float64
	Reservations  []Reservation
}

// Manager 资金预留账本：并发仓位通过它准入，保证不超卖资金。
// 准入检查以预留时刻观测到的余额和在册预留为准。
type Manager struct {
	mu           sync.Mutex
	reservations map[string]*Reservation
	minNotional  float64 // 交易所最小下单金额
	lastBalance  float64
	logger       *zap.Logger
}

func NewManager(minNotional float64, logger *zap.Logger) *Manager {
	return &Manager{
		reservations: make(map[string]*Reservation),
		minNotional:  minNotional,
		logger:       logger.With(zap.String("component", "allocation")),
	}
}

// ReserveFunds 读取一次当前可用余额，按 allocationPercent 计算金额，
// 校验准入不变量 (在册预留 + 本次金额 ≤ 观测到的余额)，通过则原子记账后返回成功。
// 余额来源出错返回 error；准入被拒只返回类型化原因，不算错误。
func (m *Manager) ReserveFunds(ctx context.Context, symbol string, allocationPercent float64, balance BalanceFunc) (ReserveResult, error) {
	available, err := balance(ctx)
	if err != nil {
		return ReserveResult{Reason: ReasonBalanceSource}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastBalance = available
	amount := available * allocationPercent / 100.0

	if _, exists := m.reservations[symbol]; exists {
		return ReserveResult{Amount: amount, Reason: ReasonAlreadyReserved}, nil
	}
	if amount < m.minNotional {
		m.logger.Debug("reservation below exchange minimum",
			zap.String("symbol", symbol), zap.Float64("amount", amount))
		return ReserveResult{Amount: amount, Reason: ReasonBelowMinNotional}, nil
	}
	if m.outstandingLocked()+amount > available {
		m.logger.Debug("reservation rejected: would exceed observed balance",
			zap.String("symbol", symbol),
			zap.Float64("amount", amount),
			zap.Float64("outstanding", m.outstandingLocked()),
			zap.Float64("balance", available))
		return ReserveResult{Amount: amount, Reason: ReasonInsufficientFunds}, nil
	}

	m.reservations[symbol] = &Reservation{
		Symbol:         symbol,
		ReservedAmount: amount,
		Timestamp:      time.Now(),
	}
	return ReserveResult{Success: true, Amount: amount}, nil
}

// UpdateReservation 订单号确定后补记到对应预留上；未知交易对为空操作
func (m *Manager) UpdateReservation(symbol string, orderID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.reservations[symbol]; ok {
		r.OrderID = orderID
	}
}

// ReleaseFunds 幂等释放；未知或已释放的交易对是空操作，不是错误
func (m *Manager) ReleaseFunds(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reservations[symbol]; !ok {
		return
	}
	delete(m.reservations, symbol)
}

// GetAllocationStatus 返回总预留、最近观测余额、占用百分比和预留列表 (按交易对排序)
func (m *Manager) GetAllocationStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		TotalReserved: m.outstandingLocked(),
		TotalBalance:  m.lastBalance,
		Reservations:  make([]Reservation, 0, len(m.reservations)),
	}
	for _, r := range m.reservations {
		st.Reservations = append(st.Reservations, *r)
	}
	sort.Slice(st.Reservations, func(i, j int) bool {
		return st.Reservations[i].Symbol < st.Reservations[j].Symbol
	})
	if st.TotalBalance > 0 {
		st.PercentUsed = st.TotalReserved / st.TotalBalance * 100.0
	}
	return st
}

// ClearAllReservations 紧急复位：清空全部预留
func (m *Manager) ClearAllReservations() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reservations) > 0 {
		m.logger.Warn("clearing all reservations", zap.Int("count", len(m.reservations)))
	}
	m.reservations = make(map[string]*Reservation)
}

// outstandingLocked 在册预留总额；调用方必须已持锁
func (m *Manager) outstandingLocked() float64 {
	var total float64
	for _, r := range m.reservations {
		total += r.ReservedAmount
	}
	return total
}
