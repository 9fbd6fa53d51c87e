package exchange

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	log "github.com/helinwang/log15"
)

// State is the exchange state backed by a patricia trie. Every record
// is stored RLP encoded under a prefixed path. State is not safe for
// concurrent use, Exchange serializes all access to it.
type State struct {
	db     *trie.Database
	diskDB ethdb.Database
	trie   *trie.Trie
}

var stateRootKey = []byte("exchange-state-root")

var (
	epochPath       = []byte{0}
	tokenCountPath  = []byte{1}
	tokenPrefix     = []byte{2}
	tokenAddrPrefix = []byte{3}
	balancePrefix   = []byte{4}
	ordersPrefix    = []byte{5}
	userListPath    = []byte{6}
	pricePrefix     = []byte{7}
	solutionPath    = []byte{8}
)

func tokenPath(id TokenID) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(id))
	return append(tokenPrefix, b...)
}

func tokenAddrPath(addr common.Address) []byte {
	return append(tokenAddrPrefix, addr[:]...)
}

func balancePath(user common.Address, token TokenID) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(token))
	p := append(balancePrefix, user[:]...)
	return append(p, b...)
}

func ordersPath(user common.Address) []byte {
	return append(ordersPrefix, user[:]...)
}

func pricePath(id TokenID) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(id))
	return append(pricePrefix, b...)
}

func newState(t *trie.Trie, db *trie.Database, diskDB ethdb.Database) *State {
	return &State{db: db, diskDB: diskDB, trie: t}
}

// NewState opens the state stored in diskDB, or creates an empty one
// if the database carries no state root.
func NewState(diskDB ethdb.Database) *State {
	db := trie.NewDatabase(diskDB)

	root := common.Hash{}
	if b, err := diskDB.Get(stateRootKey); err == nil && len(b) == len(root) {
		root = common.BytesToHash(b)
	}

	t, err := trie.New(root, db)
	if err != nil {
		panic(err)
	}

	return newState(t, db, diskDB)
}

// copy returns a state sharing the underlying database but with an
// independent trie. Mutations on the copy are invisible until the
// copy is adopted.
func (s *State) copy() *State {
	t := *s.trie
	return newState(&t, s.db, s.diskDB)
}

// adopt replaces the state content with the given copy's content.
func (s *State) adopt(other *State) {
	s.trie = other.trie
}

// Hash returns the root hash of the state trie.
func (s *State) Hash() common.Hash {
	return s.trie.Hash()
}

// Flush commits the state trie to the disk database and records the
// root so the state survives a restart.
func (s *State) Flush() error {
	root, err := s.trie.Commit(nil)
	if err != nil {
		return err
	}

	err = s.db.Commit(root, false)
	if err != nil {
		return err
	}

	return s.diskDB.Put(stateRootKey, root[:])
}

func (s *State) CurrentEpoch() uint32 {
	b := s.trie.Get(epochPath)
	if len(b) == 0 {
		return 0
	}

	var e uint32
	err := rlp.DecodeBytes(b, &e)
	if err != nil {
		panic(err)
	}

	return e
}

func (s *State) setEpoch(e uint32) {
	b, err := rlp.EncodeToBytes(e)
	if err != nil {
		panic(err)
	}

	s.trie.Update(epochPath, b)
}

func (s *State) tokenCount() uint16 {
	b := s.trie.Get(tokenCountPath)
	if len(b) == 0 {
		return 0
	}

	var n uint16
	err := rlp.DecodeBytes(b, &n)
	if err != nil {
		panic(err)
	}

	return n
}

func (s *State) token(id TokenID) (Token, bool) {
	b := s.trie.Get(tokenPath(id))
	if len(b) == 0 {
		return Token{}, false
	}

	var t Token
	err := rlp.DecodeBytes(b, &t)
	if err != nil {
		panic(err)
	}

	return t, true
}

func (s *State) tokenID(addr common.Address) (TokenID, bool) {
	b := s.trie.Get(tokenAddrPath(addr))
	if len(b) == 0 {
		return 0, false
	}

	var id uint16
	err := rlp.DecodeBytes(b, &id)
	if err != nil {
		panic(err)
	}

	return TokenID(id), true
}

func (s *State) addToken(t Token) {
	b, err := rlp.EncodeToBytes(t)
	if err != nil {
		panic(err)
	}
	s.trie.Update(tokenPath(t.ID), b)

	b, err = rlp.EncodeToBytes(uint16(t.ID))
	if err != nil {
		panic(err)
	}
	s.trie.Update(tokenAddrPath(t.Addr), b)

	b, err = rlp.EncodeToBytes(s.tokenCount() + 1)
	if err != nil {
		panic(err)
	}
	s.trie.Update(tokenCountPath, b)
}

func (s *State) balance(user common.Address, token TokenID) balanceRecord {
	b := s.trie.Get(balancePath(user, token))
	if len(b) == 0 {
		return newBalanceRecord()
	}

	var rec balanceRecord
	err := rlp.DecodeBytes(b, &rec)
	if err != nil {
		panic(err)
	}

	return rec
}

// Balances persist forever once touched, a zero balance is a valid
// steady state rather than absence.
func (s *State) setBalance(user common.Address, token TokenID, rec balanceRecord) {
	b, err := rlp.EncodeToBytes(rec)
	if err != nil {
		panic(err)
	}

	s.trie.Update(balancePath(user, token), b)
}

func (s *State) orders(user common.Address) []Order {
	b := s.trie.Get(ordersPath(user))
	if len(b) == 0 {
		return nil
	}

	var orders []Order
	err := rlp.DecodeBytes(b, &orders)
	if err != nil {
		panic(err)
	}

	return orders
}

func (s *State) setOrders(user common.Address, orders []Order) {
	b, err := rlp.EncodeToBytes(orders)
	if err != nil {
		panic(err)
	}

	s.trie.Update(ordersPath(user), b)
}

// users returns every user that has ever placed an order, in
// insertion order.
func (s *State) users() []common.Address {
	b := s.trie.Get(userListPath)
	if len(b) == 0 {
		return nil
	}

	var users []common.Address
	err := rlp.DecodeBytes(b, &users)
	if err != nil {
		panic(err)
	}

	return users
}

// addUser appends the user to the iterable user set. Membership is
// derived from the user's order record so the list stays free of
// duplicates without a second index.
func (s *State) addUser(user common.Address) {
	users := append(s.users(), user)
	b, err := rlp.EncodeToBytes(users)
	if err != nil {
		panic(err)
	}

	s.trie.Update(userListPath, b)
}

func (s *State) price(id TokenID) *big.Int {
	b := s.trie.Get(pricePath(id))
	if len(b) == 0 {
		return new(big.Int)
	}

	p := new(big.Int)
	err := rlp.DecodeBytes(b, p)
	if err != nil {
		panic(err)
	}

	return p
}

func (s *State) setPrice(id TokenID, p *big.Int) {
	if p.Sign() == 0 {
		s.trie.Delete(pricePath(id))
		return
	}

	b, err := rlp.EncodeToBytes(p)
	if err != nil {
		panic(err)
	}

	s.trie.Update(pricePath(id), b)
}

func (s *State) solution() (SolutionRecord, bool) {
	b := s.trie.Get(solutionPath)
	if len(b) == 0 {
		return SolutionRecord{}, false
	}

	var rec SolutionRecord
	err := rlp.DecodeBytes(b, &rec)
	if err != nil {
		panic(err)
	}

	return rec, true
}

func (s *State) setSolution(rec SolutionRecord) {
	b, err := rlp.EncodeToBytes(rec)
	if err != nil {
		// should never happen
		log.Error("solution record encode failed", "err", err)
		panic(err)
	}

	s.trie.Update(solutionPath, b)
}
