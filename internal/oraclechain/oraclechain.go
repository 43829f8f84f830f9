// Package oraclechain wraps go-ethereum's ethclient to read a Chainlink
// aggregator directly: a raw eth_call against latestRoundData() plus an
// eth_subscribe("logs", ...) stream of AnswerUpdated events, grounded on
// the subscribe/FilterQuery/FilterLogs shape in the reference Polymarket
// event listener (other_examples' lazytrader listener.go), redirected
// from the CTF exchange's OrderFilled event to a Chainlink aggregator's
// AnswerUpdated event.
package oraclechain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// latestRoundDataSelector is the first four bytes of
// keccak256("latestRoundData()").
var latestRoundDataSelector = []byte{0xfe, 0xaf, 0x96, 0x8c}

// answerUpdatedSig is the log topic for Chainlink's
// AnswerUpdated(int256,uint256,uint256) event.
var answerUpdatedSig = crypto.Keccak256Hash([]byte("AnswerUpdated(int256,uint256,uint256)"))

const wordSize = 32

// RoundData is the decoded return of latestRoundData().
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int // two's-complement int256, already sign-corrected
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// Client dials a single EVM RPC endpoint (WS or HTTP) and answers
// aggregator reads/subscriptions against it.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the given RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{eth: eth}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// LatestRoundData performs a raw eth_call of latestRoundData() against
// the aggregator and decodes its five 32-byte return words: roundId
// (unsigned), answer (signed two's complement), startedAt (unsigned),
// updatedAt (unsigned), answeredInRound (unsigned).
func (c *Client) LatestRoundData(ctx context.Context, aggregator common.Address) (RoundData, error) {
	msg := ethereum.CallMsg{
		To:   &aggregator,
		Data: latestRoundDataSelector,
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return RoundData{}, fmt.Errorf("eth_call latestRoundData: %w", err)
	}
	if len(out) < wordSize*5 {
		return RoundData{}, fmt.Errorf("latestRoundData: short return (%d bytes)", len(out))
	}

	word := func(i int) []byte { return out[i*wordSize : (i+1)*wordSize] }

	return RoundData{
		RoundID:         new(big.Int).SetBytes(word(0)),
		Answer:          decodeSignedWord(word(1)),
		StartedAt:       new(big.Int).SetBytes(word(2)),
		UpdatedAt:       new(big.Int).SetBytes(word(3)),
		AnsweredInRound: new(big.Int).SetBytes(word(4)),
	}, nil
}

// decodeSignedWord interprets a 32-byte big-endian word as a
// two's-complement int256.
func decodeSignedWord(word []byte) *big.Int {
	v := new(big.Int).SetBytes(word)
	if word[0]&0x80 == 0 {
		return v
	}
	// Negative: v - 2^256.
	modulus := new(big.Int).Lsh(big.NewInt(1), 256)
	return v.Sub(v, modulus)
}

// SubscribeAnswerUpdated opens a log subscription for AnswerUpdated
// events on the given aggregator. The caller reads from the returned
// channel until ctx is cancelled or the subscription errors.
func (c *Client) SubscribeAnswerUpdated(ctx context.Context, aggregator common.Address) (<-chan types.Log, ethereum.Subscription, error) {
	logs := make(chan types.Log, 64)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{aggregator},
		Topics:    [][]common.Hash{{answerUpdatedSig}},
	}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe logs: %w", err)
	}
	return logs, sub, nil
}

// DecodeAnswerUpdated extracts the new answer from an AnswerUpdated log:
// topic[1] is the signed int256 answer (indexed), topic[2] is the round
// id (indexed).
func DecodeAnswerUpdated(l types.Log) (answer *big.Int, roundID *big.Int, err error) {
	if len(l.Topics) < 3 {
		return nil, nil, fmt.Errorf("answer updated log: expected 3 topics, got %d", len(l.Topics))
	}
	return decodeSignedWord(l.Topics[1].Bytes()), new(big.Int).SetBytes(l.Topics[2].Bytes()), nil
}
