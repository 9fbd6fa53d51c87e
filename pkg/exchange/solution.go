package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/helinwang/log15"
)

// Trade is one executed order inside an accepted solution. The
// executed amounts are recorded so a replacing solution can reverse
// the trade bit for bit.
type Trade struct {
	Owner        common.Address
	OrderID      uint64
	BuyToken     TokenID
	SellToken    TokenID
	ExecutedBuy  *big.Int
	ExecutedSell *big.Int
}

// SolutionRecord is the single currently accepted solution. It is
// never edited in place: a better solution for the same epoch fully
// reverses it and replaces it.
type SolutionRecord struct {
	Epoch     uint32
	Trades    []Trade
	TokenIDs  []TokenID
	Prices    []*big.Int
	Submitter common.Address
	Reward    *big.Int
	Objective *big.Int
}

// SubmitSolution validates and applies a proposed settlement for the
// most recently closed epoch. Competing submissions for the same
// epoch race under a replace-only-if-better rule: the new solution's
// objective value (the fee token conservation surplus) must strictly
// exceed the currently recorded one. The whole call is atomic,
// including the reversal of a previously accepted solution.
func (ex *Exchange) SubmitSolution(submitter common.Address, epoch uint32, owners []common.Address, orderIDs []uint64, volumes []*big.Int, prices []*big.Int, tokenIDsForPrice []TokenID) (*big.Int, error) {
	objective, ev, err := ex.submitSolution(submitter, epoch, owners, orderIDs, volumes, prices, tokenIDsForPrice)
	if err != nil {
		return nil, err
	}

	ex.feed.Send(ev)
	return objective, nil
}

func (ex *Exchange) submitSolution(submitter common.Address, epoch uint32, owners []common.Address, orderIDs []uint64, volumes []*big.Int, prices []*big.Int, tokenIDsForPrice []TokenID) (*big.Int, Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state.copy()
	current := st.CurrentEpoch()
	if current == 0 || epoch != current-1 {
		return nil, Event{}, fmt.Errorf("%w: got %d, want %d", ErrStaleEpoch, epoch, current-1)
	}

	if len(owners) != len(orderIDs) || len(owners) != len(volumes) {
		return nil, Event{}, fmt.Errorf("%w: %d owners, %d orders, %d volumes", ErrLengthMismatch, len(owners), len(orderIDs), len(volumes))
	}
	if len(prices) != len(tokenIDsForPrice) {
		return nil, Event{}, fmt.Errorf("%w: %d prices, %d token ids", ErrLengthMismatch, len(prices), len(tokenIDsForPrice))
	}

	if len(tokenIDsForPrice) == 0 || tokenIDsForPrice[0] != FeeToken {
		return nil, Event{}, ErrMissingFeeTokenPrice
	}
	// Strictly increasing ids double as duplicate detection.
	for i := 1; i < len(tokenIDsForPrice); i++ {
		if tokenIDsForPrice[i] <= tokenIDsForPrice[i-1] {
			return nil, Event{}, ErrPricesUnordered
		}
	}

	for _, p := range prices {
		if err := checkAmount(p); err != nil {
			return nil, Event{}, err
		}
	}
	for _, id := range tokenIDsForPrice {
		if _, ok := st.token(id); !ok {
			return nil, Event{}, ErrUnknownToken
		}
	}

	// Reverse the previously accepted solution before anything
	// else, restoring the pre-solution state exactly.
	prev, hasPrev := st.solution()
	if hasPrev && prev.Epoch == epoch {
		if err := revertSolution(st, prev); err != nil {
			return nil, Event{}, err
		}
	}
	if hasPrev {
		for _, id := range prev.TokenIDs {
			st.setPrice(id, new(big.Int))
		}
	}

	for i, id := range tokenIDsForPrice {
		st.setPrice(id, prices[i])
	}

	// Credit phase: apply each trade's buy side and track the net
	// flow per token. Sell-side debits are deferred so that ring
	// trades balanced in aggregate cannot fail on evaluation order.
	conservation := make(map[TokenID]*big.Int)
	flow := func(id TokenID) *big.Int {
		c, ok := conservation[id]
		if !ok {
			c = new(big.Int)
			conservation[id] = c
		}
		return c
	}

	trades := make([]Trade, 0, len(owners))
	for i := range owners {
		if err := checkAmount(volumes[i]); err != nil {
			return nil, Event{}, err
		}

		orders := st.orders(owners[i])
		if orderIDs[i] >= uint64(len(orders)) {
			return nil, Event{}, ErrUnknownOrder
		}
		order := orders[orderIDs[i]]

		if epoch < order.ValidFrom {
			return nil, Event{}, ErrOrderNotYetValid
		}
		if epoch > order.ValidUntil {
			return nil, Event{}, ErrOrderNoLongerValid
		}

		sellPrice := st.price(order.SellToken)
		if sellPrice.Sign() == 0 {
			return nil, Event{}, fmt.Errorf("%w: token %d", ErrZeroPrice, order.SellToken)
		}
		buyPrice := st.price(order.BuyToken)

		executedBuy := volumes[i]
		executedSell, err := executedSellAmount(executedBuy, buyPrice, sellPrice, ex.params.FeeDenominator)
		if err != nil {
			return nil, Event{}, err
		}

		if executedSell.Cmp(order.RemainingAmount) > 0 {
			return nil, Event{}, fmt.Errorf("%w: order %d of %x", ErrOversoldOrder, orderIDs[i], owners[i][:4])
		}

		// The trader must never trade at a worse rate than the
		// order quotes: sell/buy <= denominator/numerator.
		lhs := new(big.Int).Mul(executedSell, order.PriceNumerator)
		rhs := new(big.Int).Mul(executedBuy, order.PriceDenominator)
		if lhs.Cmp(rhs) > 0 {
			return nil, Event{}, ErrLimitPriceViolated
		}

		order.RemainingAmount = new(big.Int).Sub(order.RemainingAmount, executedSell)
		orders[orderIDs[i]] = order
		st.setOrders(owners[i], orders)

		credit(st, owners[i], order.BuyToken, executedBuy)
		flow(order.BuyToken).Sub(flow(order.BuyToken), executedBuy)
		flow(order.SellToken).Add(flow(order.SellToken), executedSell)

		trades = append(trades, Trade{
			Owner:        owners[i],
			OrderID:      orderIDs[i],
			BuyToken:     order.BuyToken,
			SellToken:    order.SellToken,
			ExecutedBuy:  new(big.Int).Set(executedBuy),
			ExecutedSell: executedSell,
		})
	}

	// Debit phase.
	for _, t := range trades {
		if err := debit(st, t.Owner, t.SellToken, t.ExecutedSell); err != nil {
			return nil, Event{}, err
		}
	}

	objective := new(big.Int).Set(flow(FeeToken))
	if hasPrev && prev.Epoch == epoch {
		if objective.Cmp(prev.Objective) <= 0 {
			return nil, Event{}, fmt.Errorf("%w: objective %v, recorded %v", ErrObjectiveNotImproved, objective, prev.Objective)
		}
	} else if objective.Sign() < 0 {
		return nil, Event{}, fmt.Errorf("%w: objective %v is negative", ErrObjectiveNotImproved, objective)
	}

	// The submitter earns half the fee token surplus, rounded down.
	reward := new(big.Int).Rsh(objective, 1)
	credit(st, submitter, FeeToken, reward)
	flow(FeeToken).Sub(flow(FeeToken), reward)

	// No solution may fabricate tokens: the exchange keeps a
	// non-negative fee token flow and an exactly balanced flow for
	// every other token.
	for id, c := range conservation {
		if id == FeeToken {
			if c.Sign() < 0 {
				return nil, Event{}, fmt.Errorf("%w: fee token flow %v", ErrConservationViolated, c)
			}
			continue
		}
		if c.Sign() != 0 {
			return nil, Event{}, fmt.Errorf("%w: token %d flow %v", ErrConservationViolated, id, c)
		}
	}

	rec := SolutionRecord{
		Epoch:     epoch,
		Trades:    trades,
		TokenIDs:  append([]TokenID(nil), tokenIDsForPrice...),
		Prices:    copyAmounts(prices),
		Submitter: submitter,
		Reward:    reward,
		Objective: objective,
	}
	st.setSolution(rec)
	ex.state.adopt(st)

	digest := solutionDigest(rec)
	log.Info("solution accepted", "epoch", epoch, "submitter", submitter.Hex(),
		"trades", len(trades), "objective", objective, "reward", reward, "digest", digest.Hex())
	ev := Event{Kind: EventSolutionAccepted, User: submitter, Epoch: epoch,
		Amount: new(big.Int).Set(objective), Digest: digest}
	return objective, ev, nil
}

// revertSolution undoes every effect of a previously accepted
// solution: sell-side debits are credited back, buy-side credits are
// debited back, consumed order capacity is restored and the
// submitter's reward is reclaimed. Reversal is two-phase like the
// apply path, credits first: a trade whose sell side was funded by
// another trade's buy credit inside the same solution reverses in
// the same intermediate-balance-safe order it settled in.
func revertSolution(st *State, rec SolutionRecord) error {
	for _, t := range rec.Trades {
		orders := st.orders(t.Owner)
		if t.OrderID >= uint64(len(orders)) {
			// Reclamation is gated on the validity window, a
			// trade of the replaceable solution can never
			// reference a missing order.
			log.Error("recorded trade references missing order", "owner", t.Owner.Hex(), "order", t.OrderID)
			return ErrUnknownOrder
		}

		order := orders[t.OrderID]
		order.RemainingAmount = new(big.Int).Add(order.RemainingAmount, t.ExecutedSell)
		orders[t.OrderID] = order
		st.setOrders(t.Owner, orders)

		restoreCredit(st, t.Owner, t.SellToken, t.ExecutedSell)
	}

	for _, t := range rec.Trades {
		if err := debit(st, t.Owner, t.BuyToken, t.ExecutedBuy); err != nil {
			return err
		}
	}

	return debit(st, rec.Submitter, FeeToken, rec.Reward)
}

func copyAmounts(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
