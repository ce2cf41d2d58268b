package feed

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorV3ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain source.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads AggregatorV3 price feeds over Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	feeds     map[string]common.Address
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  map[common.Address]int32
}

// NewChainlink builds an on-chain source. Feed keys are pairs, values are
// aggregator contract addresses.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	feeds := make(map[string]common.Address, len(opts.Feeds))
	for pair, addr := range opts.Feeds {
		feeds[strings.ToUpper(strings.TrimSpace(pair))] = common.HexToAddress(addr)
	}
	return &Chainlink{
		opts:     opts,
		feeds:    feeds,
		logger:   logger.With().Str("component", "chainlink_feed").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// Name implements PriceSource.
func (c *Chainlink) Name() string { return "chainlink" }

// FetchPrice implements PriceSource.
func (c *Chainlink) FetchPrice(ctx context.Context, pair string) (Quote, error) {
	if c.opts.RPCURL == "" {
		return Quote{}, errors.New("ethereum rpc url not configured")
	}
	key := strings.ToUpper(strings.TrimSpace(pair))
	addr, ok := c.feeds[key]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Quote{}, err
	}

	scale, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return Quote{}, err
	}

	outputs, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return Quote{}, fmt.Errorf("feed %s reported non-positive answer %s", addr.Hex(), answer.String())
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode latestRoundData updatedAt")
	}

	quote := Quote{
		Pair:       key,
		Price:      decimal.NewFromBigInt(answer, -scale),
		ObservedAt: time.Unix(updatedAt.Int64(), 0).UTC(),
		Source:     c.Name(),
	}
	c.logger.Debug().
		Str("pair", key).
		Str("feed", addr.Hex()).
		Str("price", quote.Price.String()).
		Msg("chainlink price fetched")
	return quote, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	c.clientMux.Lock()
	scale, ok := c.decimals[addr]
	c.clientMux.Unlock()
	if ok {
		return scale, nil
	}

	outputs, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals[addr] = int32(raw)
	c.clientMux.Unlock()
	return int32(raw), nil
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]any, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, addr.Hex(), err)
	}
	return aggregatorV3ABI.Unpack(method, res)
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close drops the RPC connection.
func (c *Chainlink) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

var _ PriceSource = (*Chainlink)(nil)
