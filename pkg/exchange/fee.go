package exchange

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
)

// Settlement amounts are 128 bits wide. Intermediate settlement math
// runs at full precision and is narrowed back under this bound.
var maxSettlementAmount = new(big.Int).Sub(math.BigPow(2, 128), big.NewInt(1))

func checkAmount(a *big.Int) error {
	if a == nil || a.Sign() < 0 {
		return errors.New("amount must be a non-negative integer")
	}

	if a.Cmp(maxSettlementAmount) > 0 {
		return ErrAmountTooLarge
	}

	return nil
}

// executedSellAmount computes the sell-side amount for an executed
// buy amount at the given clearing prices, charging a fee of
// 1/feeDenominator on the sell side:
//
//	sell = ((buy * buyPrice) / (F - 1)) * F / sellPrice
//
// The multiplication happens before each division to minimize the
// integer rounding error. The result is checked against the
// settlement amount width.
func executedSellAmount(executedBuy, buyPrice, sellPrice *big.Int, feeDenominator uint64) (*big.Int, error) {
	f := new(big.Int).SetUint64(feeDenominator)
	fMinusOne := new(big.Int).SetUint64(feeDenominator - 1)

	sell := new(big.Int).Mul(executedBuy, buyPrice)
	sell.Quo(sell, fMinusOne)
	sell.Mul(sell, f)
	sell.Quo(sell, sellPrice)

	if sell.Cmp(maxSettlementAmount) > 0 {
		return nil, ErrAmountTooLarge
	}

	return sell, nil
}
