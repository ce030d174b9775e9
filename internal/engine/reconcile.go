package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/pvandam/mtfbot/internal/models"
)

// ReconcileOutcome classifies the relationship between the local
// position and the brokerage's view.
type ReconcileOutcome string

const (
	ReconcileAgreeFlat   ReconcileOutcome = "agree_flat"
	ReconcileAgreeMatch  ReconcileOutcome = "agree_match"
	ReconcileMismatch    ReconcileOutcome = "mismatch"
	ReconcileAdoptBroker ReconcileOutcome = "adopt_broker"
	ReconcileClearLocal  ReconcileOutcome = "clear_local"
)

// quantities closer than this are considered equal (fractional shares)
const qtyTolerance = 0.01

// CompareReconcile classifies local vs broker state for one symbol.
// It never mutates either side; the caller applies the outcome.
func CompareReconcile(symbol string, local *models.Position, brokerPos *models.BrokerPosition) (ReconcileOutcome, string) {
	hasLocal := local != nil
	hasBroker := brokerPos != nil

	switch {
	case !hasLocal && !hasBroker:
		return ReconcileAgreeFlat, fmt.Sprintf("%s: flat (agreed)", symbol)

	case hasLocal && hasBroker:
		if local.Direction == brokerPos.Direction &&
			math.Abs(local.Quantity-brokerPos.Quantity) < qtyTolerance {
			return ReconcileAgreeMatch, fmt.Sprintf("%s: %s %.0f (agreed)",
				symbol, local.Direction, local.Quantity)
		}
		return ReconcileMismatch, fmt.Sprintf(
			"%s: MISMATCH local=%s %.0f broker=%s %.0f",
			symbol, local.Direction, local.Quantity,
			brokerPos.Direction, brokerPos.Quantity)

	case hasBroker:
		return ReconcileAdoptBroker, fmt.Sprintf(
			"%s: broker has %s %.0f @ $%.2f, local is flat; adopting",
			symbol, brokerPos.Direction, brokerPos.Quantity, brokerPos.AvgEntryPrice)

	default:
		return ReconcileClearLocal, fmt.Sprintf(
			"%s: local has %s %.0f, broker is flat; clearing local state",
			symbol, local.Direction, local.Quantity)
	}
}

// adoptBrokerPosition builds a local Position from the broker's view.
// Stop and target stay unset; the strategy reasserts them on the next
// bar.
func adoptBrokerPosition(symbol string, brokerPos *models.BrokerPosition, now time.Time) *models.Position {
	trade := &models.Trade{
		Ticker:       symbol,
		Direction:    brokerPos.Direction,
		Quantity:     brokerPos.Quantity,
		EntryTime:    now,
		EntryPrice:   brokerPos.AvgEntryPrice,
		SignalReason: "adopted from broker",
	}
	return models.NewPosition(trade, 0, 0, 0)
}
