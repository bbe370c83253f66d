package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/fractionalev/ownership-ledger/internal/logger"
	"github.com/fractionalev/ownership-ledger/internal/metrics"
)

type logEmitter struct{}

// NewLogEmitter returns an emitter that only logs instructions.
// It is used when no broker is configured.
func NewLogEmitter() Emitter {
	return &logEmitter{}
}

func (e *logEmitter) Emit(ctx context.Context, instructions []Instruction) error {
	for _, instruction := range instructions {
		logger.InfoCtx(ctx, "Settlement instruction",
			zap.String("instruction_id", instruction.InstructionID),
			zap.String("run_id", instruction.RunID),
			zap.String("asset_id", instruction.AssetID),
			zap.String("investor_id", instruction.InvestorID),
			zap.Int64("amount_minor", instruction.AmountMinor),
			zap.String("currency", instruction.Currency),
		)
	}
	metrics.AddSettlementInstructions(metrics.ResultSuccess, len(instructions))
	return nil
}

func (e *logEmitter) Close() {}
