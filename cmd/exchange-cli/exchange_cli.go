package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/rpc"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/shiravi433/Cryp006/pkg/exchange"
)

var rpcAddr string

func dial() (*rpc.Client, error) {
	return rpc.DialHTTP("tcp", rpcAddr)
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return v, nil
}

func printEpoch(_ *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var epoch uint32
	err = client.Call("AuctionService.Epoch", 0, &epoch)
	if err != nil {
		return err
	}

	fmt.Println("current epoch:", epoch)
	return nil
}

func advanceEpoch(_ *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var epoch uint32
	err = client.Call("AuctionService.AdvanceEpoch", 0, &epoch)
	if err != nil {
		return err
	}

	fmt.Println("advanced to epoch:", epoch)
	return nil
}

func listTokens(_ *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var tokens []exchange.Token
	err = client.Call("AuctionService.Tokens", 0, &tokens)
	if err != nil {
		return err
	}

	for _, t := range tokens {
		fmt.Printf("%d\t%s\n", t.ID, t.Addr.Hex())
	}
	return nil
}

func addToken(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: add-token TOKEN_ADDR")
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var id uint16
	err = client.Call("AuctionService.AddToken", common.HexToAddress(c.Args().Get(0)), &id)
	if err != nil {
		return err
	}

	fmt.Println("registered token id:", id)
	return nil
}

func printBalance(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: balance USER_ADDR TOKEN_ADDR")
	}

	client, err := dial()
	if err != nil {
		return err
	}

	q := exchange.BalanceQuery{
		User:  common.HexToAddress(c.Args().Get(0)),
		Token: common.HexToAddress(c.Args().Get(1)),
	}
	var info exchange.BalanceInfo
	err = client.Call("AuctionService.Balance", q, &info)
	if err != nil {
		return err
	}

	fmt.Println("settled:", info.Settled)
	fmt.Printf("pending deposit: %v (epoch %d)\n", info.PendingDeposit, info.PendingDepositEpoch)
	fmt.Printf("pending withdraw: %v (epoch %d)\n", info.PendingWithdraw, info.PendingWithdrawEpoch)
	return nil
}

func listOrders(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: orders USER_ADDR")
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var orders []exchange.Order
	err = client.Call("AuctionService.Orders", common.HexToAddress(c.Args().Get(0)), &orders)
	if err != nil {
		return err
	}

	for i, o := range orders {
		fmt.Printf("%d\tbuy %d sell %d valid [%d, %d] rate %v/%v remaining %v\n",
			i, o.BuyToken, o.SellToken, o.ValidFrom, o.ValidUntil,
			o.PriceNumerator, o.PriceDenominator, o.RemainingAmount)
	}
	return nil
}

func placeOrder(c *cli.Context) error {
	if c.NArg() != 6 {
		return errors.New("usage: place USER_ADDR BUY_TOKEN_ID SELL_TOKEN_ID VALID_UNTIL BUY_AMOUNT SELL_AMOUNT")
	}

	buyToken, err := strconv.ParseUint(c.Args().Get(1), 10, 16)
	if err != nil {
		return err
	}
	sellToken, err := strconv.ParseUint(c.Args().Get(2), 10, 16)
	if err != nil {
		return err
	}
	validUntil, err := strconv.ParseUint(c.Args().Get(3), 10, 32)
	if err != nil {
		return err
	}
	buyAmount, err := parseAmount(c.Args().Get(4))
	if err != nil {
		return err
	}
	sellAmount, err := parseAmount(c.Args().Get(5))
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	args := exchange.PlaceOrderArgs{
		User:       common.HexToAddress(c.Args().Get(0)),
		BuyToken:   exchange.TokenID(buyToken),
		SellToken:  exchange.TokenID(sellToken),
		SellOrder:  true,
		ValidUntil: uint32(validUntil),
		BuyAmount:  buyAmount,
		SellAmount: sellAmount,
	}
	var id uint64
	err = client.Call("AuctionService.PlaceOrder", args, &id)
	if err != nil {
		return err
	}

	fmt.Println("order id:", id)
	return nil
}

func cancelOrder(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: cancel USER_ADDR ORDER_ID")
	}

	id, err := strconv.ParseUint(c.Args().Get(1), 10, 64)
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var ok bool
	return client.Call("AuctionService.CancelOrder", exchange.CancelOrderArgs{
		User:    common.HexToAddress(c.Args().Get(0)),
		OrderID: id,
	}, &ok)
}

func transferArgs(c *cli.Context, withAmount bool) (exchange.TransferArgs, error) {
	args := exchange.TransferArgs{
		User:   common.HexToAddress(c.Args().Get(0)),
		Token:  common.HexToAddress(c.Args().Get(1)),
		Amount: new(big.Int),
	}

	if withAmount {
		amount, err := parseAmount(c.Args().Get(2))
		if err != nil {
			return args, err
		}
		args.Amount = amount
	}
	return args, nil
}

func deposit(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("usage: deposit USER_ADDR TOKEN_ADDR AMOUNT")
	}

	args, err := transferArgs(c, true)
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var ok bool
	return client.Call("AuctionService.Deposit", args, &ok)
}

func requestWithdraw(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("usage: request-withdraw USER_ADDR TOKEN_ADDR AMOUNT")
	}

	args, err := transferArgs(c, true)
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var ok bool
	return client.Call("AuctionService.RequestWithdraw", args, &ok)
}

func withdraw(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: withdraw USER_ADDR TOKEN_ADDR")
	}

	args, err := transferArgs(c, false)
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var ok bool
	return client.Call("AuctionService.Withdraw", args, &ok)
}

func faucet(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("usage: faucet USER_ADDR TOKEN_ADDR AMOUNT")
	}

	args, err := transferArgs(c, true)
	if err != nil {
		return err
	}

	client, err := dial()
	if err != nil {
		return err
	}

	var ok bool
	return client.Call("AuctionService.Faucet", args, &ok)
}

func printSolution(_ *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var info exchange.SolutionInfo
	err = client.Call("AuctionService.Solution", 0, &info)
	if err != nil {
		return err
	}

	if !info.Present {
		fmt.Println("no accepted solution")
		return nil
	}

	fmt.Printf("epoch %d, %d trades, objective %v, reward %v\n", info.Epoch, info.Trades, info.Objective, info.Reward)
	fmt.Println("submitter:", info.Submitter.Hex())
	fmt.Println("digest:", info.Digest.Hex())
	return nil
}

func printAuction(_ *cli.Context) error {
	client, err := dial()
	if err != nil {
		return err
	}

	var b []byte
	err = client.Call("AuctionService.AuctionElements", 0, &b)
	if err != nil {
		return err
	}

	for i := 0; i+exchange.AuctionElementSize <= len(b); i += exchange.AuctionElementSize {
		fmt.Println(hex.EncodeToString(b[i : i+exchange.AuctionElementSize]))
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "exchange-cli"
	app.Usage = "client for the batch auction exchange daemon"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "addr",
			Value:       ":12001",
			Usage:       "exchange daemon RPC endpoint",
			Destination: &rpcAddr,
		},
	}

	app.Commands = []cli.Command{
		{Name: "epoch", Usage: "Print the current epoch", Action: printEpoch},
		{Name: "advance", Usage: "Advance to the next epoch", Action: advanceEpoch},
		{Name: "tokens", Usage: "List registered tokens", Action: listTokens},
		{Name: "add-token", Usage: "Register a token: add-token TOKEN_ADDR", Action: addToken},
		{Name: "balance", Usage: "Print a balance: balance USER_ADDR TOKEN_ADDR", Action: printBalance},
		{Name: "orders", Usage: "List a user's orders: orders USER_ADDR", Action: listOrders},
		{Name: "place", Usage: "Place an order: place USER_ADDR BUY_TOKEN_ID SELL_TOKEN_ID VALID_UNTIL BUY_AMOUNT SELL_AMOUNT", Action: placeOrder},
		{Name: "cancel", Usage: "Cancel an order: cancel USER_ADDR ORDER_ID", Action: cancelOrder},
		{Name: "deposit", Usage: "Deposit funds: deposit USER_ADDR TOKEN_ADDR AMOUNT", Action: deposit},
		{Name: "request-withdraw", Usage: "Request a withdraw: request-withdraw USER_ADDR TOKEN_ADDR AMOUNT", Action: requestWithdraw},
		{Name: "withdraw", Usage: "Execute a matured withdraw: withdraw USER_ADDR TOKEN_ADDR", Action: withdraw},
		{Name: "faucet", Usage: "Grant external funds (standalone deployments): faucet USER_ADDR TOKEN_ADDR AMOUNT", Action: faucet},
		{Name: "solution", Usage: "Print the accepted solution", Action: printSolution},
		{Name: "auction", Usage: "Dump the encoded auction elements", Action: printAuction},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Printf("command failed with error: %v\n", err)
		os.Exit(1)
	}
}
