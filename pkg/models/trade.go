// Package models holds the canonical data shapes shared by every stage of
// the wash-trade detection pipeline: preprocessing, the SCC engine, the
// volume-matching engine, and the orchestrator that wires them together.
package models

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Trade is the canonical record produced by the preprocessor (component A)
// and consumed by every downstream stage. It is immutable except for
// WashLabel, which the orchestrator may flip false→true and never back.
type Trade struct {
	TxID   string      // transaction hash, opaque unless it parses as a 32-byte hex hash
	TxHash common.Hash // parsed form of TxID when it is a valid EVM tx hash; zero value otherwise

	Timestamp int64  // unix seconds
	Token     string // the non-ETH side of the trade, as given in the raw row (not case-normalized)

	EthBuyerID  int64 // dense trader ID of the account that paid ETH
	EthSellerID int64 // dense trader ID of the account that received ETH

	AmountETH   decimal.Decimal
	AmountToken decimal.Decimal
	AmountUSD   decimal.Decimal

	WashLabel bool
}

// RawTrade is the shape the preprocessor accepts: on-chain integer amounts,
// two arbitrary token legs (tokenBuy/tokenSell), and maker/taker addresses,
// exactly as an exchange's raw trade log records them. See §4.A.
type RawTrade struct {
	Timestamp       int64
	TransactionHash string
	Status          int
	Maker           string
	Taker           string
	TokenBuy        string
	TokenSell       string
	AmountBuy       string // integer string, smallest on-chain unit
	AmountSell      string // integer string, smallest on-chain unit
}

// PricePoint is one row of the ETH/USD price series: the price holds from
// Timestamp (inclusive) until the next PricePoint's Timestamp (exclusive).
type PricePoint struct {
	Date      string // MM/DD/YYYY, informational only
	Timestamp int64
	USDPerETH decimal.Decimal
}

// EtherAddress is the canonical zero address used to mark the ETH leg of a
// trade. Comparisons against it are done on the parsed common.Address form
// so checksum-casing never causes a false negative.
var EtherAddress = common.HexToAddress("0x0000000000000000000000000000000000000000")
