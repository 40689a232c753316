package trader

import (
	"errors"
	"fmt"
	"time"

	"crypto-rating-trader/internal/model"
)

var ErrInvalidTransition = errors.New("invalid position state transition")

// PositionState 每个交易对的仓位生命周期状态
type PositionState string

const (
	StateFlat     PositionState = "FLAT"
	StateEntering PositionState = "ENTERING"
	StateOpen     PositionState = "OPEN"
	StateClosing  PositionState = "CLOSING"
)

// validTransitions 生命周期 FLAT → ENTERING → OPEN → CLOSING → FLAT，可重入，无终态。
// ENTERING → FLAT 是进场失败的回退路径。
var validTransitions = map[PositionState][]PositionState{
	StateFlat:     {StateEntering},
	StateEntering: {StateOpen, StateFlat},
	StateOpen:     {StateClosing},
	StateClosing:  {StateFlat},
}

// symbolState 单个交易对的状态机实例；只在控制循环的串行上下文内被修改
type symbolState struct {
	symbol        string
	state         PositionState
	position      *model.Position
	cooldownUntil time.Time // 进场失败后的冷却截止；零值表示无冷却
}

func newSymbolState(symbol string) *symbolState {
	return &symbolState{symbol: symbol, state: StateFlat}
}

func (s *symbolState) transition(to PositionState) error {
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, s.symbol, s.state, to)
}

func (s *symbolState) inCooldown(now time.Time) bool {
	return now.Before(s.cooldownUntil)
}
