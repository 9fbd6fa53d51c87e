package exchange

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

// Two crossing orders between the fee token (id 0) and token 1. With
// a fee denominator of 1000 and clearing prices [1000, 999] the
// fee-adjusted executed amounts divide exactly, so the expected
// balances below are closed-form:
//
//	A sells 2_000_000 of token 0 for token 1 at rate 1:1
//	B sells 2_000_000 of token 1 for 1_996_002 of token 0
//
// At full fill A sells 2_000_000 (buys the same of token 1), B sells
// 2_000_000 of token 1 (buys 1_996_002 of token 0), and the exchange
// keeps a fee-token surplus of 3_998.
type basicTrade struct {
	ex    *Exchange
	vault *VaultCustodian
}

func setupBasicTrade(t *testing.T) *basicTrade {
	ex, vault := newTestExchange(t)

	fundAndDeposit(t, ex, vault, userA, feeTokenAddr, bi(2000000))
	fundAndDeposit(t, ex, vault, userB, token1Addr, bi(2000000))
	ex.AdvanceEpoch()

	// Order 0 of A: buy token 1, sell token 0.
	_, err := ex.PlaceOrder(userA, 1, 0, true, 5, bi(2000000), bi(2000000))
	if err != nil {
		panic(err)
	}
	// Order 0 of B: buy token 0, sell token 1.
	_, err = ex.PlaceOrder(userB, 0, 1, true, 5, bi(1996002), bi(2000000))
	if err != nil {
		panic(err)
	}

	ex.AdvanceEpoch()
	return &basicTrade{ex: ex, vault: vault}
}

func (b *basicTrade) submit(volumeA, volumeB *big.Int) (*big.Int, error) {
	return b.ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{volumeA, volumeB},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
}

func assertFullyMatched(t *testing.T, ex *Exchange) {
	assertBalance(t, ex, userA, feeTokenAddr, bi(0))
	assertBalance(t, ex, userA, token1Addr, bi(2000000))
	assertBalance(t, ex, userB, token1Addr, bi(0))
	assertBalance(t, ex, userB, feeTokenAddr, bi(1996002))
	assertBalance(t, ex, solver, feeTokenAddr, bi(1999))

	assert.Equal(t, "0", ex.Orders(userA)[0].RemainingAmount.String())
	assert.Equal(t, "0", ex.Orders(userB)[0].RemainingAmount.String())
}

func TestSubmitSolutionFullMatch(t *testing.T) {
	b := setupBasicTrade(t)

	objective, err := b.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)
	assert.Equal(t, "3998", objective.String())
	assertFullyMatched(t, b.ex)

	assert.Equal(t, "1000", b.ex.Price(0).String())
	assert.Equal(t, "999", b.ex.Price(1).String())

	rec, ok := b.ex.CurrentSolution()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), rec.Epoch)
	assert.Equal(t, solver, rec.Submitter)
	assert.Equal(t, 2, len(rec.Trades))
	assert.Equal(t, "1999", rec.Reward.String())
}

func TestSubmitSolutionPartialThenFull(t *testing.T) {
	b := setupBasicTrade(t)

	objective, err := b.submit(bi(1000000), bi(998001))
	assert.NoError(t, err)
	assert.Equal(t, "1999", objective.String())

	assertBalance(t, b.ex, userA, feeTokenAddr, bi(1000000))
	assertBalance(t, b.ex, userA, token1Addr, bi(1000000))
	assertBalance(t, b.ex, userB, token1Addr, bi(1000000))
	assertBalance(t, b.ex, userB, feeTokenAddr, bi(998001))
	assertBalance(t, b.ex, solver, feeTokenAddr, bi(999))
	assert.Equal(t, "1000000", b.ex.Orders(userA)[0].RemainingAmount.String())
	assert.Equal(t, "1000000", b.ex.Orders(userB)[0].RemainingAmount.String())

	// A better solution for the same epoch fully reverses the
	// first one before applying.
	objective, err = b.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)
	assert.Equal(t, "3998", objective.String())
	assertFullyMatched(t, b.ex)
}

func TestResettledSolutionMatchesDirectSettlement(t *testing.T) {
	direct := setupBasicTrade(t)
	resettled := setupBasicTrade(t)

	_, err := direct.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)

	_, err = resettled.submit(bi(1000000), bi(998001))
	assert.NoError(t, err)
	_, err = resettled.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)

	assert.Equal(t, direct.ex.Hash(), resettled.ex.Hash())
}

// The second order sells token 1 out of a balance that only exists
// because the first order's buy credit lands in the same solution.
// The deferred debit phase accepts this on apply, and the reversal
// of a replaced solution has to accept it the same way.
func TestReplacementRevertsInBatchFundedSell(t *testing.T) {
	ex, vault := newTestExchange(t)

	fundAndDeposit(t, ex, vault, userA, feeTokenAddr, bi(2000000))
	ex.AdvanceEpoch()

	_, err := ex.PlaceOrder(userA, 1, 0, true, 5, bi(2000000), bi(2000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.PlaceOrder(userA, 0, 1, true, 5, bi(1996002), bi(2000000))
	if err != nil {
		panic(err)
	}
	ex.AdvanceEpoch()

	submit := func(volumeA, volumeB *big.Int) (*big.Int, error) {
		return ex.SubmitSolution(solver, 1,
			[]common.Address{userA, userA},
			[]uint64{0, 1},
			[]*big.Int{volumeA, volumeB},
			[]*big.Int{bi(1000), bi(999)},
			[]TokenID{0, 1})
	}

	objective, err := submit(bi(1000000), bi(998001))
	assert.NoError(t, err)
	assert.Equal(t, "1999", objective.String())

	objective, err = submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)
	assert.Equal(t, "3998", objective.String())

	assertBalance(t, ex, userA, feeTokenAddr, bi(1996002))
	assertBalance(t, ex, userA, token1Addr, bi(0))
	assertBalance(t, ex, solver, feeTokenAddr, bi(1999))
	assert.Equal(t, "0", ex.Orders(userA)[0].RemainingAmount.String())
	assert.Equal(t, "0", ex.Orders(userA)[1].RemainingAmount.String())
}

func TestSubmitSolutionLengthMismatch(t *testing.T) {
	b := setupBasicTrade(t)

	_, err := b.ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{bi(2000000)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = b.ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{bi(2000000), bi(1996002)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestObjectiveMustStrictlyImprove(t *testing.T) {
	b := setupBasicTrade(t)

	_, err := b.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)
	before := b.ex.Hash()

	// An identical resubmission does not improve the objective.
	_, err = b.submit(bi(2000000), bi(1996002))
	assert.ErrorIs(t, err, ErrObjectiveNotImproved)
	assert.Equal(t, before, b.ex.Hash())

	// Neither does a worse one.
	_, err = b.submit(bi(1000000), bi(998001))
	assert.ErrorIs(t, err, ErrObjectiveNotImproved)
	assert.Equal(t, before, b.ex.Hash())
	assertFullyMatched(t, b.ex)
}

func TestSubmitSolutionStaleEpoch(t *testing.T) {
	b := setupBasicTrade(t)

	for _, epoch := range []uint32{0, 2, 7} {
		_, err := b.ex.SubmitSolution(solver, epoch,
			[]common.Address{userA, userB},
			[]uint64{0, 0},
			[]*big.Int{bi(2000000), bi(1996002)},
			[]*big.Int{bi(1000), bi(999)},
			[]TokenID{0, 1})
		assert.ErrorIs(t, err, ErrStaleEpoch)
	}
}

func TestSubmitSolutionPriceAdmission(t *testing.T) {
	b := setupBasicTrade(t)
	before := b.ex.Hash()

	submit := func(prices []*big.Int, ids []TokenID) error {
		_, err := b.ex.SubmitSolution(solver, 1,
			[]common.Address{userA, userB},
			[]uint64{0, 0},
			[]*big.Int{bi(2000000), bi(1996002)},
			prices, ids)
		return err
	}

	// Fee token price must come first.
	err := submit([]*big.Int{bi(999)}, []TokenID{1})
	assert.ErrorIs(t, err, ErrMissingFeeTokenPrice)
	err = submit(nil, nil)
	assert.ErrorIs(t, err, ErrMissingFeeTokenPrice)

	// Unsorted and duplicated ids are rejected before any balance
	// mutation.
	err = submit([]*big.Int{bi(1000), bi(999), bi(5)}, []TokenID{0, 1, 1})
	assert.ErrorIs(t, err, ErrPricesUnordered)
	err = submit([]*big.Int{bi(1000), bi(5), bi(999)}, []TokenID{0, 2, 1})
	assert.ErrorIs(t, err, ErrPricesUnordered)

	assert.Equal(t, before, b.ex.Hash())
}

func TestSubmitSolutionZeroPrice(t *testing.T) {
	b := setupBasicTrade(t)

	// Token 1 has no listed price, B's order sells token 1.
	_, err := b.ex.SubmitSolution(solver, 1,
		[]common.Address{userB},
		[]uint64{0},
		[]*big.Int{bi(1000)},
		[]*big.Int{bi(1000)},
		[]TokenID{0})
	assert.ErrorIs(t, err, ErrZeroPrice)
}

func TestSubmitSolutionValidityWindow(t *testing.T) {
	ex, vault := newTestExchange(t)

	fundAndDeposit(t, ex, vault, userA, feeTokenAddr, bi(2000000))
	ex.AdvanceEpoch()

	// Valid for epoch 1 only.
	_, err := ex.PlaceOrder(userA, 1, 0, true, 1, bi(2000000), bi(2000000))
	if err != nil {
		panic(err)
	}
	ex.AdvanceEpoch()
	ex.AdvanceEpoch()

	// Epoch 2 is past the order's validity.
	_, err = ex.SubmitSolution(solver, 2,
		[]common.Address{userA}, []uint64{0}, []*big.Int{bi(1000)},
		[]*big.Int{bi(1000), bi(999)}, []TokenID{0, 1})
	assert.ErrorIs(t, err, ErrOrderNoLongerValid)

	// An order placed in the current epoch starts its validity at
	// that epoch, one past the epoch currently being settled.
	ex.AdvanceEpoch()
	_, err = ex.PlaceOrder(userA, 1, 0, true, 9, bi(2000000), bi(2000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.SubmitSolution(solver, 3,
		[]common.Address{userA}, []uint64{1}, []*big.Int{bi(1000)},
		[]*big.Int{bi(1000), bi(999)}, []TokenID{0, 1})
	assert.ErrorIs(t, err, ErrOrderNotYetValid)
}

func TestSubmitSolutionCanceledOrderRejected(t *testing.T) {
	b := setupBasicTrade(t)

	// Canceling at epoch 2 keeps the order valid for epoch 1, the
	// epoch currently being settled.
	err := b.ex.CancelOrder(userA, 0)
	if err != nil {
		panic(err)
	}
	_, err = b.submit(bi(2000000), bi(1996002))
	assert.NoError(t, err)

	// After the next epoch the canceled order is out of range for
	// every settleable epoch.
	b.ex.AdvanceEpoch()
	_, err = b.ex.SubmitSolution(solver, 2,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{bi(1), bi(1)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrOrderNoLongerValid)
}

func TestSubmitSolutionOversoldOrder(t *testing.T) {
	b := setupBasicTrade(t)

	_, err := b.submit(bi(2000001), bi(1996002))
	assert.ErrorIs(t, err, ErrOversoldOrder)
}

func TestSubmitSolutionLimitPriceViolated(t *testing.T) {
	ex, vault := newTestExchange(t)

	fundAndDeposit(t, ex, vault, userA, feeTokenAddr, bi(2000000))
	fundAndDeposit(t, ex, vault, userB, token1Addr, bi(2000000))
	ex.AdvanceEpoch()

	// A demands more than the clearing rate pays.
	_, err := ex.PlaceOrder(userA, 1, 0, true, 5, bi(2000001), bi(2000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.PlaceOrder(userB, 0, 1, true, 5, bi(1996002), bi(2000000))
	if err != nil {
		panic(err)
	}
	ex.AdvanceEpoch()

	_, err = ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{bi(2000000), bi(1996002)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrLimitPriceViolated)
}

func TestSubmitSolutionUnfundedSeller(t *testing.T) {
	ex, vault := newTestExchange(t)

	// A places without funding, orders are not balance checked at
	// placement.
	fundAndDeposit(t, ex, vault, userB, token1Addr, bi(2000000))
	ex.AdvanceEpoch()

	_, err := ex.PlaceOrder(userA, 1, 0, true, 5, bi(2000000), bi(2000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.PlaceOrder(userB, 0, 1, true, 5, bi(1996002), bi(2000000))
	if err != nil {
		panic(err)
	}
	ex.AdvanceEpoch()

	before := ex.Hash()
	_, err = ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 0},
		[]*big.Int{bi(2000000), bi(1996002)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, before, ex.Hash())
}

// A ring of three orders across three tokens. Prices [1000, 999, 999]
// with fee denominator 1000 keep every division exact:
//
//	A sells 1_000_000_000 token 0, buys 1_000_000_000 token 1
//	B sells 1_000_000_000 token 1, buys   999_000_000 token 2
//	C sells   999_000_000 token 2, buys   997_002_999 token 0
//
// Every leg balances exactly and the fee token surplus is 2_997_001.
func TestSubmitSolutionRingTrade(t *testing.T) {
	ex, vault := newTestExchange(t)

	fundAndDeposit(t, ex, vault, userA, feeTokenAddr, bi(1000000000))
	fundAndDeposit(t, ex, vault, userB, token1Addr, bi(1000000000))
	fundAndDeposit(t, ex, vault, userC, token2Addr, bi(999000000))
	ex.AdvanceEpoch()

	_, err := ex.PlaceOrder(userA, 1, 0, true, 5, bi(1000000000), bi(1000000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.PlaceOrder(userB, 2, 1, true, 5, bi(999000000), bi(1000000000))
	if err != nil {
		panic(err)
	}
	_, err = ex.PlaceOrder(userC, 0, 2, true, 5, bi(997002999), bi(999000000))
	if err != nil {
		panic(err)
	}
	ex.AdvanceEpoch()

	objective, err := ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB, userC},
		[]uint64{0, 0, 0},
		[]*big.Int{bi(1000000000), bi(999000000), bi(997002999)},
		[]*big.Int{bi(1000), bi(999), bi(999)},
		[]TokenID{0, 1, 2})
	assert.NoError(t, err)
	assert.Equal(t, "2997001", objective.String())

	assertBalance(t, ex, userA, feeTokenAddr, bi(0))
	assertBalance(t, ex, userA, token1Addr, bi(1000000000))
	assertBalance(t, ex, userB, token1Addr, bi(0))
	assertBalance(t, ex, userB, token2Addr, bi(999000000))
	assertBalance(t, ex, userC, token2Addr, bi(0))
	assertBalance(t, ex, userC, feeTokenAddr, bi(997002999))
	assertBalance(t, ex, solver, feeTokenAddr, bi(1498500))
}

func TestSubmitSolutionConservationViolated(t *testing.T) {
	b := setupBasicTrade(t)

	// Only A's side of the match: token 1 flow cannot balance.
	_, err := b.ex.SubmitSolution(solver, 1,
		[]common.Address{userA},
		[]uint64{0},
		[]*big.Int{bi(2000000)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrConservationViolated)
}

func TestSubmitSolutionUnknownOrder(t *testing.T) {
	b := setupBasicTrade(t)

	_, err := b.ex.SubmitSolution(solver, 1,
		[]common.Address{userA, userB},
		[]uint64{0, 3},
		[]*big.Int{bi(2000000), bi(1996002)},
		[]*big.Int{bi(1000), bi(999)},
		[]TokenID{0, 1})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}
