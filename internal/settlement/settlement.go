package settlement

import (
	"context"

	"github.com/fractionalev/ownership-ledger/internal/store/schema"
)

// Instruction asks the custody boundary to pay an investor their share of a run
type Instruction struct {
	// InstructionID is stable per run and investor so the broker can drop replays
	InstructionID string `json:"instruction_id"`
	RunID         string `json:"run_id"`
	AssetID       string `json:"asset_id"`
	InvestorID    string `json:"investor_id"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
}

// InstructionID builds the instruction id of an investor's payout in a run
func InstructionID(runID, investorID string) string {
	return runID + ":" + investorID
}

// InstructionsForRun builds one instruction per line item of a completed run.
// Retained line items stay with the treasury and produce no instruction.
func InstructionsForRun(run *schema.DistributionRun, items []schema.DistributionLineItem) []Instruction {
	instructions := make([]Instruction, 0, len(items))
	for _, item := range items {
		if item.Retained {
			continue
		}
		instructions = append(instructions, Instruction{
			InstructionID: InstructionID(run.ID, item.InvestorID),
			RunID:         run.ID,
			AssetID:       run.AssetID,
			InvestorID:    item.InvestorID,
			AmountMinor:   item.AmountMinor,
			Currency:      run.Currency,
		})
	}
	return instructions
}

// Emitter hands settlement instructions to the custody boundary
//
//go:generate mockgen -source=settlement.go -destination=../mocks/settlement.go -package=mocks -mock_names=Emitter=MockEmitter
type Emitter interface {
	// Emit publishes the instructions and returns once the boundary accepted or rejected each of them
	Emit(ctx context.Context, instructions []Instruction) error
	// Close releases the connection to the boundary
	Close()
}
