package exchange

import (
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/rpc"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/helinwang/log15"
)

// RPCServer exposes the exchange over net/rpc for wallets and
// off-chain solvers.
type RPCServer struct {
	ex *Exchange
	// optional faucet for standalone deployments
	vault *VaultCustodian
}

func NewRPCServer(ex *Exchange, vault *VaultCustodian) *RPCServer {
	return &RPCServer{ex: ex, vault: vault}
}

func (r *RPCServer) Start(addr string) error {
	s := &AuctionService{r: r}
	err := rpc.Register(s)
	if err != nil {
		return err
	}

	rpc.HandleHTTP()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		err := http.Serve(l, nil)
		if err != nil {
			log.Error("error serving RPC server", "err", err)
		}
	}()
	return nil
}

type BalanceQuery struct {
	User  common.Address
	Token common.Address
}

type BalanceInfo struct {
	Settled              *big.Int
	PendingDeposit       *big.Int
	PendingDepositEpoch  uint32
	PendingWithdraw      *big.Int
	PendingWithdrawEpoch uint32
}

type PlaceOrderArgs struct {
	User       common.Address
	BuyToken   TokenID
	SellToken  TokenID
	SellOrder  bool
	ValidUntil uint32
	BuyAmount  *big.Int
	SellAmount *big.Int
}

type CancelOrderArgs struct {
	User    common.Address
	OrderID uint64
}

type FreeStorageArgs struct {
	User     common.Address
	OrderIDs []uint64
}

type TransferArgs struct {
	User   common.Address
	Token  common.Address
	Amount *big.Int
}

type SubmitSolutionArgs struct {
	Submitter        common.Address
	Epoch            uint32
	Owners           []common.Address
	OrderIDs         []uint64
	Volumes          []*big.Int
	Prices           []*big.Int
	TokenIDsForPrice []TokenID
}

type SolutionInfo struct {
	Present   bool
	Epoch     uint32
	Submitter common.Address
	Trades    int
	Objective *big.Int
	Reward    *big.Int
	Digest    common.Hash
}

// AuctionService is the RPC service of the exchange.
type AuctionService struct {
	r *RPCServer
}

func (s *AuctionService) Epoch(_ int, r *uint32) error {
	*r = s.r.ex.CurrentEpoch()
	return nil
}

func (s *AuctionService) AdvanceEpoch(_ int, r *uint32) error {
	*r = s.r.ex.AdvanceEpoch()
	return s.r.ex.Flush()
}

func (s *AuctionService) Tokens(_ int, r *[]Token) error {
	*r = s.r.ex.Tokens()
	return nil
}

func (s *AuctionService) AddToken(addr common.Address, r *uint16) error {
	id, err := s.r.ex.AddToken(addr)
	if err != nil {
		return err
	}

	*r = uint16(id)
	return s.r.ex.Flush()
}

func (s *AuctionService) Balance(q BalanceQuery, r *BalanceInfo) error {
	settled, err := s.r.ex.Balance(q.User, q.Token)
	if err != nil {
		return err
	}

	dep, depEpoch, err := s.r.ex.PendingDeposit(q.User, q.Token)
	if err != nil {
		return err
	}

	wd, wdEpoch, err := s.r.ex.PendingWithdraw(q.User, q.Token)
	if err != nil {
		return err
	}

	*r = BalanceInfo{
		Settled:              settled,
		PendingDeposit:       dep,
		PendingDepositEpoch:  depEpoch,
		PendingWithdraw:      wd,
		PendingWithdrawEpoch: wdEpoch,
	}
	return nil
}

func (s *AuctionService) Orders(user common.Address, r *[]Order) error {
	*r = s.r.ex.Orders(user)
	return nil
}

func (s *AuctionService) PlaceOrder(a PlaceOrderArgs, r *uint64) error {
	id, err := s.r.ex.PlaceOrder(a.User, a.BuyToken, a.SellToken, a.SellOrder, a.ValidUntil, a.BuyAmount, a.SellAmount)
	if err != nil {
		return err
	}

	*r = id
	return s.r.ex.Flush()
}

func (s *AuctionService) CancelOrder(a CancelOrderArgs, _ *bool) error {
	err := s.r.ex.CancelOrder(a.User, a.OrderID)
	if err != nil {
		return err
	}
	return s.r.ex.Flush()
}

func (s *AuctionService) FreeStorageOfOrder(a FreeStorageArgs, _ *bool) error {
	err := s.r.ex.FreeStorageOfOrder(a.User, a.OrderIDs)
	if err != nil {
		return err
	}
	return s.r.ex.Flush()
}

func (s *AuctionService) Deposit(a TransferArgs, _ *bool) error {
	err := s.r.ex.Deposit(a.User, a.Token, a.Amount)
	if err != nil {
		return err
	}
	return s.r.ex.Flush()
}

func (s *AuctionService) RequestWithdraw(a TransferArgs, _ *bool) error {
	err := s.r.ex.RequestWithdraw(a.User, a.Token, a.Amount)
	if err != nil {
		return err
	}
	return s.r.ex.Flush()
}

func (s *AuctionService) Withdraw(a TransferArgs, _ *bool) error {
	err := s.r.ex.Withdraw(a.User, a.Token)
	if err != nil {
		return err
	}
	return s.r.ex.Flush()
}

func (s *AuctionService) SubmitSolution(a SubmitSolutionArgs, r *SolutionInfo) error {
	_, err := s.r.ex.SubmitSolution(a.Submitter, a.Epoch, a.Owners, a.OrderIDs, a.Volumes, a.Prices, a.TokenIDsForPrice)
	if err != nil {
		return err
	}

	if err := s.r.ex.Flush(); err != nil {
		return err
	}
	return s.Solution(0, r)
}

func (s *AuctionService) Solution(_ int, r *SolutionInfo) error {
	rec, ok := s.r.ex.CurrentSolution()
	if !ok {
		*r = SolutionInfo{}
		return nil
	}

	*r = SolutionInfo{
		Present:   true,
		Epoch:     rec.Epoch,
		Submitter: rec.Submitter,
		Trades:    len(rec.Trades),
		Objective: rec.Objective,
		Reward:    rec.Reward,
		Digest:    solutionDigest(rec),
	}
	return nil
}

func (s *AuctionService) AuctionElements(_ int, r *[]byte) error {
	*r = s.r.ex.EncodedAuctionElements()
	return nil
}

// Faucet grants external funds in the vault custodian. Only
// available on standalone deployments.
func (s *AuctionService) Faucet(a TransferArgs, _ *bool) error {
	if s.r.vault == nil {
		return errors.New("no faucet on this deployment")
	}

	s.r.vault.Fund(a.Token, a.User, a.Amount)
	return nil
}
