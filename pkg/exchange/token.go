package exchange

import "github.com/ethereum/go-ethereum/common"

// TokenID indexes a registered token. Ids are assigned monotonically
// and never reassigned. FeeToken is always id 0.
type TokenID uint16

const FeeToken TokenID = 0

type Token struct {
	ID   TokenID
	Addr common.Address
}
