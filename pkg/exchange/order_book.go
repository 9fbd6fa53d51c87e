package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/helinwang/log15"
)

// Order is a standing instruction to sell up to PriceDenominator of
// the sell token for at least the proportional PriceNumerator of the
// buy token, valid for epochs in [ValidFrom, ValidUntil]. Orders live
// in an append-only per-user sequence and are referenced by (owner,
// index).
type Order struct {
	BuyToken   TokenID
	SellToken  TokenID
	SellOrder  bool
	ValidFrom  uint32
	ValidUntil uint32
	// PriceNumerator is the buy amount, PriceDenominator the sell
	// amount; together they quote the limit rate.
	PriceNumerator   *big.Int
	PriceDenominator *big.Int
	RemainingAmount  *big.Int
}

// reclaimed reports whether the order's storage has been zeroed.
func (o *Order) reclaimed() bool {
	return o.ValidFrom == 0 && o.ValidUntil == 0 &&
		o.PriceNumerator.Sign() == 0 && o.PriceDenominator.Sign() == 0 &&
		o.RemainingAmount.Sign() == 0
}

func zeroOrder() Order {
	return Order{
		PriceNumerator:   new(big.Int),
		PriceDenominator: new(big.Int),
		RemainingAmount:  new(big.Int),
	}
}

// PlaceOrder appends an order for the user and returns its index.
// Funding is not checked at placement time, only at settlement.
func (ex *Exchange) PlaceOrder(user common.Address, buyToken, sellToken TokenID, sellOrder bool, validUntil uint32, buyAmount, sellAmount *big.Int) (uint64, error) {
	id, ev, err := ex.placeOrder(user, buyToken, sellToken, sellOrder, validUntil, buyAmount, sellAmount)
	if err != nil {
		return 0, err
	}

	ex.feed.Send(ev)
	return id, nil
}

func (ex *Exchange) placeOrder(user common.Address, buyToken, sellToken TokenID, sellOrder bool, validUntil uint32, buyAmount, sellAmount *big.Int) (uint64, Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state.copy()
	if _, ok := st.token(buyToken); !ok {
		return 0, Event{}, ErrUnknownToken
	}
	if _, ok := st.token(sellToken); !ok {
		return 0, Event{}, ErrUnknownToken
	}

	if err := checkAmount(buyAmount); err != nil {
		return 0, Event{}, err
	}
	if err := checkAmount(sellAmount); err != nil {
		return 0, Event{}, err
	}

	epoch := st.CurrentEpoch()
	orders := st.orders(user)
	id := uint64(len(orders))
	orders = append(orders, Order{
		BuyToken:         buyToken,
		SellToken:        sellToken,
		SellOrder:        sellOrder,
		ValidFrom:        epoch,
		ValidUntil:       validUntil,
		PriceNumerator:   new(big.Int).Set(buyAmount),
		PriceDenominator: new(big.Int).Set(sellAmount),
		RemainingAmount:  new(big.Int).Set(sellAmount),
	})
	st.setOrders(user, orders)
	if id == 0 {
		st.addUser(user)
	}
	ex.state.adopt(st)

	log.Info("order placed", "user", user.Hex(), "order", id, "buy", buyToken, "sell", sellToken, "validUntil", validUntil)
	return id, Event{Kind: EventOrderPlaced, User: user, OrderID: id, Epoch: epoch}, nil
}

// CancelOrder invalidates the user's order for the current and all
// future epochs. The order record is kept so already submitted
// solutions for past epochs can still reference it. Canceling twice
// is a no-op in effect.
func (ex *Exchange) CancelOrder(user common.Address, orderID uint64) error {
	ev, err := ex.cancelOrder(user, orderID)
	if err != nil {
		return err
	}

	ex.feed.Send(ev)
	return nil
}

func (ex *Exchange) cancelOrder(user common.Address, orderID uint64) (Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state.copy()
	orders := st.orders(user)
	if orderID >= uint64(len(orders)) {
		return Event{}, ErrUnknownOrder
	}

	epoch := st.CurrentEpoch()
	if epoch == 0 {
		// No epoch has closed yet, so there is no prior epoch
		// to stay valid for. Leave an empty validity window.
		orders[orderID].ValidFrom = 1
		orders[orderID].ValidUntil = 0
	} else {
		orders[orderID].ValidUntil = epoch - 1
	}
	st.setOrders(user, orders)
	ex.state.adopt(st)

	return Event{Kind: EventOrderCanceled, User: user, OrderID: orderID, Epoch: epoch}, nil
}

// FreeStorageOfOrder zeroes the given order records. An order can be
// reclaimed only once its validity window has been passed by a full
// epoch, which guarantees no accepted solution can still reference
// it: solutions are only accepted for the most recently closed epoch.
func (ex *Exchange) FreeStorageOfOrder(user common.Address, orderIDs []uint64) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state.copy()
	epoch := st.CurrentEpoch()
	orders := st.orders(user)
	for _, id := range orderIDs {
		if id >= uint64(len(orders)) {
			return ErrUnknownOrder
		}

		if uint64(orders[id].ValidUntil)+1 >= uint64(epoch) {
			return ErrOrderStillValid
		}

		orders[id] = zeroOrder()
	}

	st.setOrders(user, orders)
	ex.state.adopt(st)
	return nil
}

// Orders returns the user's order sequence, reclaimed slots included.
func (ex *Exchange) Orders(user common.Address) []Order {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.orders(user)
}
