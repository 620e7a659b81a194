package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// callTimeout bounds every RPC round trip per the spec's 30s per-call
// deadline; the Connection Supervisor owns retry/backoff for the
// stream, this just keeps one stuck call from hanging forever.
const callTimeout = 30 * time.Second

// BlockHeader is the subset of a chain header this service needs.
type BlockHeader struct {
	Number uint64
	Time   uint64
	Hash   common.Hash
}

// Receipt is the post-inclusion outcome of a submitted transaction.
type Receipt struct {
	BlockNumber uint64
	Status      uint64
}

// Client wraps two go-ethereum connections: a streaming one used
// exclusively for push notifications (new heads, log subscriptions)
// and a request/response one used for every read and every
// transaction submission, so reads keep working during a stream
// reconnect window.
type Client struct {
	streamRPC *rpc.Client
	stream    *ethclient.Client

	rpcClient *rpc.Client
	rpcEth    *ethclient.Client

	contract   common.Address
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	signer     common.Address
}

// Dial establishes both connections and derives the signer address
// from the settler private key.
func Dial(ctx context.Context, wssURL, rpcURL string, contract common.Address, privateKeyHex string) (*Client, error) {
	streamRPC, err := rpc.DialContext(ctx, wssURL)
	if err != nil {
		return nil, fmt.Errorf("dial stream rpc: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		streamRPC.Close()
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		streamRPC.Close()
		rpcClient.Close()
		return nil, fmt.Errorf("parse settler private key: %w", err)
	}

	c := &Client{
		streamRPC:  streamRPC,
		stream:     ethclient.NewClient(streamRPC),
		rpcClient:  rpcClient,
		rpcEth:     ethclient.NewClient(rpcClient),
		contract:   contract,
		privateKey: key,
		signer:     crypto.PubkeyToAddress(key.PublicKey),
	}

	chainID, err := c.rpcEth.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c.chainID = chainID

	return c, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Close tears down both underlying connections.
func (c *Client) Close() {
	if c.stream != nil {
		c.stream.Close()
	}
	if c.rpcEth != nil {
		c.rpcEth.Close()
	}
}

// SignerAddress returns the address the settlement key signs from.
func (c *Client) SignerAddress() common.Address {
	return c.signer
}

// ReconnectStream re-dials only the streaming connection, used by the
// Connection Supervisor on disconnect/staleness. The request/response
// connection is left untouched.
func (c *Client) ReconnectStream(ctx context.Context, wssURL string) error {
	newRPC, err := rpc.DialContext(ctx, wssURL)
	if err != nil {
		return classify(err)
	}
	if c.streamRPC != nil {
		c.streamRPC.Close()
	}
	c.streamRPC = newRPC
	c.stream = ethclient.NewClient(newRPC)
	return nil
}

// SubscribeNewHead pushes new block headers from the streaming
// connection. Used by the Connection Supervisor's heartbeat.
func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := c.stream.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, classify(err)
	}
	return sub, nil
}

// SubscribeLogs pushes logs matching the filter from the streaming
// connection. Used by the Event Ingestor.
func (c *Client) SubscribeLogs(ctx context.Context, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{topic0},
	}
	sub, err := c.stream.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, classify(err)
	}
	return sub, nil
}

// BlockNumber reads the current head via the request/response path.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	n, err := c.rpcEth.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

// GetBlock reads a block header by number via the request/response path.
func (c *Client) GetBlock(ctx context.Context, number uint64) (BlockHeader, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	header, err := c.rpcEth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return BlockHeader{}, classify(err)
	}
	return BlockHeader{Number: header.Number.Uint64(), Time: header.Time, Hash: header.Hash()}, nil
}

// BalanceOf reads the native balance of an address via the
// request/response path, used for the low-balance startup warning.
func (c *Client) BalanceOf(ctx context.Context, addr common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	bal, err := c.rpcEth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, classify(err)
	}
	return bal, nil
}

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := DiceABI()
	if err != nil {
		return nil, err
	}

	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := c.rpcEth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(err)
	}

	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// RevealDelay calls the contract's revealDelay() view method.
func (c *Client) RevealDelay(ctx context.Context) (uint64, error) {
	values, err := c.call(ctx, "revealDelay")
	if err != nil {
		return 0, err
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("revealDelay: unexpected return type %T", values[0])
	}
	return raw.Uint64(), nil
}

// PlayerBetsResult mirrors the contract's playerBets(...) tuple.
type PlayerBetsResult struct {
	AmountWei   *big.Int
	BetBig      bool
	CommitBlock uint64
	Settled     bool
}

// PlayerBets reads the contract's authoritative view of a commit. The
// Event Ingestor calls this to resolve a reveal-block mismatch: when
// the event's carried value disagrees with the locally computed one,
// CommitBlock here settles which side is wrong.
func (c *Client) PlayerBets(ctx context.Context, roomID uint32, player common.Address) (PlayerBetsResult, error) {
	values, err := c.call(ctx, "playerBets", roomID, player)
	if err != nil {
		return PlayerBetsResult{}, err
	}
	if len(values) < 4 {
		return PlayerBetsResult{}, fmt.Errorf("playerBets: unexpected return arity %d", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return PlayerBetsResult{}, fmt.Errorf("playerBets: unexpected amount type %T", values[0])
	}
	betBig, _ := values[1].(bool)
	commitBlock, ok := values[2].(*big.Int)
	if !ok {
		return PlayerBetsResult{}, fmt.Errorf("playerBets: unexpected commitBlock type %T", values[2])
	}
	settled, _ := values[3].(bool)
	return PlayerBetsResult{
		AmountWei:   amount,
		BetBig:      betBig,
		CommitBlock: commitBlock.Uint64(),
		Settled:     settled,
	}, nil
}

// SettleBet builds, signs and submits a settleBet(roomId, player)
// transaction using the settler key, via the request/response path.
func (c *Client) SettleBet(ctx context.Context, roomID uint32, player common.Address) (common.Hash, error) {
	parsed, err := DiceABI()
	if err != nil {
		return common.Hash{}, err
	}

	data, err := parsed.Pack("settleBet", roomID, player)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack settleBet: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	nonce, err := c.rpcEth.PendingNonceAt(ctx, c.signer)
	if err != nil {
		return common.Hash{}, classify(err)
	}

	gasTipCap, err := c.rpcEth.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, classify(err)
	}
	head, err := c.rpcEth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, classify(err)
	}
	gasFeeCap := new(big.Int).Add(gasTipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	msg := ethereum.CallMsg{From: c.signer, To: &c.contract, Data: data}
	gasLimit, err := c.rpcEth.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, classify(err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit + gasLimit/5,
		To:        &c.contract,
		Data:      data,
	})

	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, c.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign settleBet tx: %w", err)
	}

	if err := c.rpcEth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, classify(err)
	}

	return signedTx.Hash(), nil
}

// WaitReceipt polls for a transaction receipt via the request/response
// path until it is mined, the context is cancelled, or callTimeout
// elapses — a tx that never gets mined (underpriced, dropped from
// mempool) must not block its caller forever; leaving it unbounded
// froze every other pending bet's retry when Dispatch ran on the
// reconciler's own tick goroutine.
func (c *Client) WaitReceipt(ctx context.Context, txHash common.Hash) (Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		rcpt, err := c.rpcEth.TransactionReceipt(ctx, txHash)
		if err == nil {
			return Receipt{BlockNumber: rcpt.BlockNumber.Uint64(), Status: rcpt.Status}, nil
		}
		if err != ethereum.NotFound {
			return Receipt{}, classify(err)
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
