package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/helinwang/log15"
)

// pendingFlow is a deposit or withdraw amount recorded at a given
// epoch. It becomes effective only once the current epoch has moved
// past the recorded one.
type pendingFlow struct {
	Amount *big.Int
	Epoch  uint32
}

type balanceRecord struct {
	Settled  *big.Int
	Deposit  pendingFlow
	Withdraw pendingFlow
	// LastCredit is the epoch of the most recent settlement credit.
	// Funds credited in the current epoch cannot be withdrawn: the
	// crediting solution is still replaceable, and its reversal
	// needs them.
	LastCredit uint32
}

func newBalanceRecord() balanceRecord {
	return balanceRecord{
		Settled:  new(big.Int),
		Deposit:  pendingFlow{Amount: new(big.Int)},
		Withdraw: pendingFlow{Amount: new(big.Int)},
	}
}

// materialize folds a matured pending deposit into the settled
// balance. It is called lazily on every balance touch rather than
// eagerly for all users at the epoch boundary.
func (r *balanceRecord) materialize(epoch uint32) {
	if r.Deposit.Amount.Sign() > 0 && r.Deposit.Epoch < epoch {
		r.Settled.Add(r.Settled, r.Deposit.Amount)
		r.Deposit = pendingFlow{Amount: new(big.Int)}
	}
}

// Deposit transfers amount from the user's external funds into the
// exchange. The deposited amount becomes spendable in the next epoch.
func (ex *Exchange) Deposit(user, token common.Address, amount *big.Int) error {
	ev, err := ex.deposit(user, token, amount)
	if err != nil {
		return err
	}

	ex.feed.Send(ev)
	return nil
}

func (ex *Exchange) deposit(user, token common.Address, amount *big.Int) (Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return Event{}, err
	}

	if err := checkAmount(amount); err != nil {
		return Event{}, err
	}

	// Move the external funds first: if the custodian fails, no
	// state has changed yet.
	if err := ex.custodian.TransferIn(token, user, amount); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	st := ex.state.copy()
	epoch := st.CurrentEpoch()
	rec := st.balance(user, id)
	rec.materialize(epoch)
	rec.Deposit.Amount.Add(rec.Deposit.Amount, amount)
	rec.Deposit.Epoch = epoch
	st.setBalance(user, id, rec)
	ex.state.adopt(st)

	log.Info("deposit recorded", "user", user.Hex(), "token", id, "amount", amount, "epoch", epoch)
	return Event{Kind: EventDeposit, User: user, Token: token, Amount: new(big.Int).Set(amount), Epoch: epoch}, nil
}

// RequestWithdraw records the intent to withdraw up to amount. There
// is a single withdraw slot per user and token: a new request
// replaces the old one.
func (ex *Exchange) RequestWithdraw(user, token common.Address, amount *big.Int) error {
	ev, err := ex.requestWithdraw(user, token, amount)
	if err != nil {
		return err
	}

	ex.feed.Send(ev)
	return nil
}

func (ex *Exchange) requestWithdraw(user, token common.Address, amount *big.Int) (Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return Event{}, err
	}

	if err := checkAmount(amount); err != nil {
		return Event{}, err
	}

	st := ex.state.copy()
	epoch := st.CurrentEpoch()
	rec := st.balance(user, id)
	rec.Withdraw = pendingFlow{Amount: new(big.Int).Set(amount), Epoch: epoch}
	st.setBalance(user, id, rec)
	ex.state.adopt(st)

	return Event{Kind: EventWithdrawRequest, User: user, Token: token, Amount: new(big.Int).Set(amount), Epoch: epoch}, nil
}

// Withdraw executes a matured withdraw request. The paid out amount
// is min(settled balance, requested amount): the request is an
// authorization floor, not a reservation.
func (ex *Exchange) Withdraw(user, token common.Address) error {
	ev, err := ex.withdraw(user, token)
	if err != nil {
		return err
	}

	ex.feed.Send(ev)
	return nil
}

func (ex *Exchange) withdraw(user, token common.Address) (Event, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return Event{}, err
	}

	st := ex.state.copy()
	epoch := st.CurrentEpoch()
	rec := st.balance(user, id)
	if rec.Withdraw.Epoch >= epoch {
		return Event{}, ErrNotYetAuthorized
	}
	if rec.LastCredit == epoch {
		return Event{}, ErrRecentlyCredited
	}

	rec.materialize(epoch)
	payout := new(big.Int).Set(rec.Withdraw.Amount)
	if payout.Cmp(rec.Settled) > 0 {
		payout.Set(rec.Settled)
	}

	rec.Settled.Sub(rec.Settled, payout)
	rec.Withdraw = pendingFlow{Amount: new(big.Int)}
	st.setBalance(user, id, rec)

	if err := ex.custodian.TransferOut(token, user, payout); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrTransfer, err)
	}

	ex.state.adopt(st)
	log.Info("withdraw executed", "user", user.Hex(), "token", id, "amount", payout)
	return Event{Kind: EventWithdraw, User: user, Token: token, Amount: payout, Epoch: epoch}, nil
}

// Balance returns the user's settled balance, including any matured
// pending deposit and ignoring unmatured withdraw requests.
func (ex *Exchange) Balance(user, token common.Address) (*big.Int, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return nil, err
	}

	rec := ex.state.balance(user, id)
	rec.materialize(ex.state.CurrentEpoch())
	return rec.Settled, nil
}

// PendingDeposit returns the not yet materialized deposit amount and
// the epoch it was recorded at.
func (ex *Exchange) PendingDeposit(user, token common.Address) (*big.Int, uint32, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return nil, 0, err
	}

	rec := ex.state.balance(user, id)
	rec.materialize(ex.state.CurrentEpoch())
	return rec.Deposit.Amount, rec.Deposit.Epoch, nil
}

// PendingWithdraw returns the outstanding withdraw request and the
// epoch it was recorded at.
func (ex *Exchange) PendingWithdraw(user, token common.Address) (*big.Int, uint32, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	id, err := ex.lookupToken(ex.state, token)
	if err != nil {
		return nil, 0, err
	}

	rec := ex.state.balance(user, id)
	return rec.Withdraw.Amount, rec.Withdraw.Epoch, nil
}

// credit adds amount to the user's settled balance and stamps the
// credit epoch. Only the settlement engine may call it.
func credit(st *State, user common.Address, token TokenID, amount *big.Int) {
	epoch := st.CurrentEpoch()
	rec := st.balance(user, token)
	rec.materialize(epoch)
	rec.Settled.Add(rec.Settled, amount)
	rec.LastCredit = epoch
	st.setBalance(user, token, rec)
}

// restoreCredit adds amount back without stamping LastCredit. A
// reversal restores the prior state rather than granting new funds,
// so it must not move the credit epoch.
func restoreCredit(st *State, user common.Address, token TokenID, amount *big.Int) {
	rec := st.balance(user, token)
	rec.materialize(st.CurrentEpoch())
	rec.Settled.Add(rec.Settled, amount)
	st.setBalance(user, token, rec)
}

// debit removes amount from the user's settled balance. A balance
// never goes negative, not even transiently within a settlement.
func debit(st *State, user common.Address, token TokenID, amount *big.Int) error {
	rec := st.balance(user, token)
	rec.materialize(st.CurrentEpoch())
	if rec.Settled.Cmp(amount) < 0 {
		return fmt.Errorf("%w: user %x token %d needs %v has %v", ErrInsufficientBalance, user[:4], token, amount, rec.Settled)
	}

	rec.Settled.Sub(rec.Settled, amount)
	st.setBalance(user, token, rec)
	return nil
}
