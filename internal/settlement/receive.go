package settlement

import (
	"context"
	"log/slog"

	"liquidation_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ReceiveValue accepts an unsolicited value transfer (e.g. a ledger refund).
// It credits the engine and emits ValueReceived; no settlement state is read
// or written.
func (e *Engine) ReceiveValue(ctx context.Context, sender common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}

	err := e.runtime.Atomic(ctx, func(st domain.State) error {
		if err := st.Treasury().Credit(ctx, sender, amount); err != nil {
			return domain.NewCollaboratorError("credit_value", err)
		}
		return st.Emit(domain.ValueReceived{
			Sender: sender,
			Amount: amount.Clone(),
			Marker: st.Marker(),
		})
	})
	if err != nil {
		return err
	}

	e.logger.Info("Value received",
		slog.String("sender", sender.Hex()),
		slog.String("amount", domain.FormatAmount(amount, domain.NativeDecimals)),
	)
	return nil
}
