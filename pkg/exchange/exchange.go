package exchange

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	lru "github.com/hashicorp/golang-lru"
	log "github.com/helinwang/log15"
)

const tokenCacheSize = 1024

// Params are the economic constants of the exchange.
type Params struct {
	// FeeDenominator F sets the trading fee to 1/F, charged on the
	// sell side of every executed trade.
	FeeDenominator uint64
	// MaxTokens bounds the token registry.
	MaxTokens int
	// FeeTokenAddr is registered as token id 0 on first start.
	FeeTokenAddr common.Address
}

func DefaultParams() Params {
	return Params{
		FeeDenominator: 1000,
		MaxTokens:      1 << 16,
	}
}

// Exchange is a batch auction exchange: traders deposit tokens and
// place limit orders, and once an epoch has closed anyone may submit
// a solution settling the epoch's orders at uniform clearing prices.
// All operations are serialized and atomic.
type Exchange struct {
	params    Params
	custodian Custodian

	mu    sync.Mutex
	state *State

	// registry entries are immutable once assigned
	tokenCache *lru.Cache

	// Send blocks until every subscriber accepts, so events go out
	// after mu is released. Subscribers may call back into the
	// exchange.
	feed event.Feed
}

func NewExchange(state *State, custodian Custodian, params Params) *Exchange {
	if params.FeeDenominator < 2 {
		panic("fee denominator must be at least 2")
	}
	if params.MaxTokens < 1 || params.MaxTokens > 1<<16 {
		panic("max token count out of range")
	}

	cache, err := lru.New(tokenCacheSize)
	if err != nil {
		panic(err)
	}

	ex := &Exchange{
		params:     params,
		custodian:  custodian,
		state:      state,
		tokenCache: cache,
	}

	// The fee token is always id 0.
	if state.tokenCount() == 0 {
		st := state.copy()
		st.addToken(Token{ID: FeeToken, Addr: params.FeeTokenAddr})
		state.adopt(st)
	}

	return ex
}

// AddToken registers the token address and assigns it the next id.
// An address is registrable exactly once.
func (ex *Exchange) AddToken(addr common.Address) (TokenID, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	st := ex.state.copy()
	if _, ok := st.tokenID(addr); ok {
		return 0, ErrTokenAlreadyRegistered
	}

	count := st.tokenCount()
	if int(count) >= ex.params.MaxTokens {
		return 0, ErrMaxTokensReached
	}

	id := TokenID(count)
	st.addToken(Token{ID: id, Addr: addr})
	ex.state.adopt(st)

	log.Info("token registered", "id", id, "addr", addr.Hex())
	return id, nil
}

// AdvanceEpoch closes the current epoch. Orders of the closed epoch
// become settleable and pending deposits recorded in it mature.
func (ex *Exchange) AdvanceEpoch() uint32 {
	ex.mu.Lock()
	st := ex.state.copy()
	e := st.CurrentEpoch() + 1
	st.setEpoch(e)
	ex.state.adopt(st)
	ex.mu.Unlock()

	log.Info("epoch advanced", "epoch", e)
	ex.feed.Send(Event{Kind: EventEpochAdvanced, Epoch: e})
	return e
}

func (ex *Exchange) CurrentEpoch() uint32 {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.CurrentEpoch()
}

// Token returns the registry entry for the given id.
func (ex *Exchange) Token(id TokenID) (Token, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.cachedToken(ex.state, id)
}

// TokenID returns the id assigned to the token address.
func (ex *Exchange) TokenID(addr common.Address) (TokenID, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.tokenID(addr)
}

// Tokens returns every registered token in id order.
func (ex *Exchange) Tokens() []Token {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	n := ex.state.tokenCount()
	tokens := make([]Token, 0, n)
	for i := uint16(0); i < n; i++ {
		t, ok := ex.cachedToken(ex.state, TokenID(i))
		if !ok {
			log.Error("token registry gap", "id", i)
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// Price returns the clearing price of the token under the most
// recently accepted solution, zero if none.
func (ex *Exchange) Price(id TokenID) *big.Int {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.price(id)
}

// CurrentSolution returns the currently accepted solution record.
func (ex *Exchange) CurrentSolution() (SolutionRecord, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.solution()
}

// Hash returns the state trie root, a commitment to the full
// exchange state.
func (ex *Exchange) Hash() common.Hash {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.Hash()
}

// Flush persists the state to the backing database.
func (ex *Exchange) Flush() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	return ex.state.Flush()
}

// Subscribe delivers exchange events to ch until the subscription is
// unsubscribed.
func (ex *Exchange) Subscribe(ch chan<- Event) event.Subscription {
	return ex.feed.Subscribe(ch)
}

func (ex *Exchange) cachedToken(st *State, id TokenID) (Token, bool) {
	if v, ok := ex.tokenCache.Get(id); ok {
		return v.(Token), true
	}

	t, ok := st.token(id)
	if ok {
		ex.tokenCache.Add(id, t)
	}
	return t, ok
}

func (ex *Exchange) lookupToken(st *State, addr common.Address) (TokenID, error) {
	id, ok := st.tokenID(addr)
	if !ok {
		return 0, ErrUnknownToken
	}
	return id, nil
}
