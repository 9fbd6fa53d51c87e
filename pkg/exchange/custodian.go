package exchange

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Custodian holds the actual token funds. The exchange only moves
// funds through it and treats any failure as fatal for the calling
// operation, since a failed transfer means funds did not move.
type Custodian interface {
	// TransferIn moves amount of token from the user's external
	// funds into the exchange's custody.
	TransferIn(token, from common.Address, amount *big.Int) error
	// TransferOut moves amount of token from the exchange's
	// custody back to the user.
	TransferOut(token, to common.Address, amount *big.Int) error
}

// VaultCustodian is an in-process custodian keeping external user
// funds in memory. It backs tests and the standalone daemon.
type VaultCustodian struct {
	mu    sync.Mutex
	funds map[common.Address]map[common.Address]*big.Int
}

func NewVaultCustodian() *VaultCustodian {
	return &VaultCustodian{funds: make(map[common.Address]map[common.Address]*big.Int)}
}

// Fund grants the user external funds to deposit from.
func (v *VaultCustodian) Fund(token, user common.Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.fund(token, user)
	b.Add(b, amount)
}

// FundsOf returns the user's external funds for the token.
func (v *VaultCustodian) FundsOf(token, user common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return new(big.Int).Set(v.fund(token, user))
}

func (v *VaultCustodian) TransferIn(token, from common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.fund(token, from)
	if b.Cmp(amount) < 0 {
		return errors.New("external funds insufficient")
	}

	b.Sub(b, amount)
	return nil
}

func (v *VaultCustodian) TransferOut(token, to common.Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	b := v.fund(token, to)
	b.Add(b, amount)
	return nil
}

func (v *VaultCustodian) fund(token, user common.Address) *big.Int {
	m, ok := v.funds[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		v.funds[token] = m
	}

	b, ok := m[user]
	if !ok {
		b = new(big.Int)
		m[user] = b
	}
	return b
}
