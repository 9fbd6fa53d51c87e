package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type EventKind uint8

const (
	EventOrderPlaced EventKind = iota
	EventOrderCanceled
	EventDeposit
	EventWithdrawRequest
	EventWithdraw
	EventSolutionAccepted
	EventEpochAdvanced
)

// Event is the informational side channel of the exchange. Fields
// beyond Kind are populated where they apply: Amount carries the
// moved amount for balance events and the objective value for
// solution events, Digest is set for solution events only.
type Event struct {
	Kind    EventKind
	User    common.Address
	Token   common.Address
	OrderID uint64
	Amount  *big.Int
	Epoch   uint32
	Digest  common.Hash
}
