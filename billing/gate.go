// Package billing implements the optional balance gate: a pre-check before
// admission and a debit after the task completes.
package billing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sdgateway/core"
	"sdgateway/db"
	"sdgateway/logging"
)

// Operation identifies what is being charged.
type Operation string

const (
	OpGenerate    Operation = "sd"
	OpInterrogate Operation = "sdtag"
)

// Ledger stores balances. *db.Repository satisfies it.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Adjust(ctx context.Context, userID string, delta int64) (int64, error)
}

// Gate charges users per operation. A disabled gate, or an operation with
// zero cost, lets everything through without touching the ledger.
type Gate struct {
	ledger  Ledger
	enabled bool
	costs   map[Operation]int64
	logger  *logging.Logger
}

// NewGate builds a Gate. ledger may be nil only when billing is disabled.
func NewGate(cfg core.BillingConfig, ledger Ledger, logger *logging.Logger) (*Gate, error) {
	if cfg.Enabled && ledger == nil {
		return nil, errors.New("billing: ledger is required when billing is enabled")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{
		ledger:  ledger,
		enabled: cfg.Enabled,
		costs: map[Operation]int64{
			OpGenerate:    cfg.SDCost,
			OpInterrogate: cfg.TagCost,
		},
		logger: logger.Named("billing"),
	}, nil
}

// Cost returns the charge for op, or zero when billing is off.
func (g *Gate) Cost(op Operation) int64 {
	if g == nil || !g.enabled {
		return 0
	}
	return g.costs[op]
}

// Check verifies the user can afford op. Unknown users are created with a
// zero balance. It returns core.ErrInsufficientBalance when they cannot pay.
func (g *Gate) Check(ctx context.Context, userID string, op Operation) error {
	cost := g.Cost(op)
	if cost <= 0 {
		return nil
	}
	balance, err := g.ledger.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("billing: check balance: %w", err)
	}
	if balance < cost {
		g.logger.Info("insufficient balance",
			zap.String("user", userID),
			zap.String("operation", string(op)),
			zap.Int64("balance", balance),
			zap.Int64("cost", cost))
		return core.ErrInsufficientBalance
	}
	return nil
}

// Debit charges op after it completed.
func (g *Gate) Debit(ctx context.Context, userID string, op Operation) error {
	cost := g.Cost(op)
	if cost <= 0 {
		return nil
	}
	balance, err := g.ledger.Adjust(ctx, userID, -cost)
	if errors.Is(err, db.ErrBalanceTooLow) {
		return core.ErrInsufficientBalance
	}
	if err != nil {
		return fmt.Errorf("billing: debit: %w", err)
	}
	g.logger.Debug("debited",
		zap.String("user", userID),
		zap.String("operation", string(op)),
		zap.Int64("cost", cost),
		zap.Int64("balance", balance))
	return nil
}

// TopUp credits amount to the user and returns the new balance.
func (g *Gate) TopUp(ctx context.Context, userID string, amount int64) (int64, error) {
	if g == nil || g.ledger == nil {
		return 0, core.ErrFeatureDisabled("billing")
	}
	if amount <= 0 {
		return 0, &core.ValidationError{Field: "amount", Message: "must be positive"}
	}
	balance, err := g.ledger.Adjust(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("billing: top up: %w", err)
	}
	g.logger.Info("balance topped up",
		zap.String("user", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance))
	return balance, nil
}

// Balance returns the user's balance.
func (g *Gate) Balance(ctx context.Context, userID string) (int64, error) {
	if g == nil || g.ledger == nil {
		return 0, core.ErrFeatureDisabled("billing")
	}
	return g.ledger.Balance(ctx, userID)
}
