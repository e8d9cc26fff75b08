// Package preprocess implements component A (§4.A): normalizing raw
// exchange trade rows into the canonical Trade schema, with an integer
// trader ID per side, a token ID, a joined USD/ETH price, and a stable
// timestamp ordering.
package preprocess

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/rawblock/wash-trade-engine/internal/registry"
	"github.com/rawblock/wash-trade-engine/pkg/models"
)

// SchemaError is a §7(a)/(d) schema error: a missing column, an unparseable
// numeric field, or a numeric anomaly (NaN/negative amount). It always
// fails the run — it is never counted and dropped like a data-quality row.
type SchemaError struct {
	Row   int
	Field string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("preprocess: schema error at row %d, field %q: %v", e.Row, e.Field, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Report counts the data-quality rows (§7(b)) the preprocessor silently
// dropped, broken down by reason, so callers can log a precise count
// instead of a logged-and-forgotten warning.
type Report struct {
	DroppedStatus     int // status != 1 (filter_status enabled)
	DroppedMissing    int // required field missing
	DroppedTokenToken int // neither leg is the ETH sentinel, or both legs are the same token
	DroppedSelfTrade  int // eth_buyer == eth_seller after folding
	DroppedOutOfRange int // timestamp outside the price series' covered range
	TotalInput        int
	TotalOutput       int
}

// Decimals looks up a token's decimal places, defaulting to 18 when a token
// is missing from the table (§4.A rule 1).
type Decimals map[string]int

func (d Decimals) of(token string) int {
	if n, ok := d[token]; ok {
		return n
	}
	return 18
}

// Prices is an ascending-timestamp ETH/USD price series (§6 Input file
// formats). Process requires it sorted; Process does not re-sort it.
type Prices []models.PricePoint

// priceAt returns the USD/ETH price whose half-open interval
// [p_i, p_{i+1}) contains ts, per §4.A rule 4. ok is false if ts falls
// outside the covered range.
func (p Prices) priceAt(ts int64) (decimal.Decimal, bool) {
	if len(p) == 0 || ts < p[0].Timestamp {
		return decimal.Zero, false
	}
	// p is ascending; find the last index i with p[i].Timestamp <= ts.
	i := sort.Search(len(p), func(i int) bool { return p[i].Timestamp > ts }) - 1
	if i < 0 {
		return decimal.Zero, false
	}
	if i == len(p)-1 {
		// Last price point: its interval is [p[i].Timestamp, +inf) only if
		// ts also does not exceed the series' own last timestamp — the
		// series covers [p[0], p[last]] inclusive of the final point but
		// not beyond it (§4.A rule 4: "Trades outside the covered range
		// are dropped").
		if ts == p[i].Timestamp {
			return p[i].USDPerETH, true
		}
		return decimal.Zero, false
	}
	return p[i].USDPerETH, true
}

// Process implements §4.A end to end: converts raw rows to canonical
// Trades, assigns trader IDs in sorted-address order, and returns the
// canonical table sorted by timestamp ascending together with the trader
// registry and a drop-count report.
func Process(raw []models.RawTrade, decimals Decimals, prices Prices, etherAddressHex string, filterStatus bool) ([]models.Trade, *registry.Registry, Report, error) {
	report := Report{TotalInput: len(raw)}
	etherAddr := common.HexToAddress(etherAddressHex)

	type folded struct {
		ts          int64
		txID        string
		txHash      common.Hash
		token       string
		ethBuyer    string
		ethSeller   string
		amountETH   decimal.Decimal
		amountToken decimal.Decimal
		amountUSD   decimal.Decimal
	}

	var out []folded

	for i, r := range raw {
		if filterStatus {
			if r.Status != 1 {
				report.DroppedStatus++
				continue
			}
			if r.TransactionHash == "" || r.Maker == "" || r.Taker == "" || r.TokenBuy == "" || r.TokenSell == "" || r.AmountBuy == "" || r.AmountSell == "" {
				report.DroppedMissing++
				continue
			}
		}

		// Rule 3: exactly one side must be the ETH sentinel, and the two
		// legs must differ (drop token<->token and same-token trades).
		// Compared on the parsed common.Address form so checksum-casing
		// never causes a false negative (models.EtherAddress doc comment).
		buyIsEth := common.IsHexAddress(r.TokenBuy) && common.HexToAddress(r.TokenBuy) == etherAddr
		sellIsEth := common.IsHexAddress(r.TokenSell) && common.HexToAddress(r.TokenSell) == etherAddr
		if strings.EqualFold(r.TokenBuy, r.TokenSell) || (!buyIsEth && !sellIsEth) {
			report.DroppedTokenToken++
			continue
		}

		// Rule 1: convert integer on-chain amounts to reals via 10^decimals.
		amountBuyReal, err := toReal(r.AmountBuy, decimals.of(r.TokenBuy))
		if err != nil {
			return nil, nil, report, &SchemaError{Row: i, Field: "amountBuy", Err: err}
		}
		amountSellReal, err := toReal(r.AmountSell, decimals.of(r.TokenSell))
		if err != nil {
			return nil, nil, report, &SchemaError{Row: i, Field: "amountSell", Err: err}
		}
		if amountBuyReal.IsNegative() || amountSellReal.IsNegative() {
			return nil, nil, report, &SchemaError{Row: i, Field: "amount", Err: fmt.Errorf("negative amount")}
		}

		// Rule 4: bin the timestamp into the price series and attach price.
		price, ok := prices.priceAt(r.Timestamp)
		if !ok {
			report.DroppedOutOfRange++
			continue
		}

		// Rule 5: fold orientation into a single eth_buyer/eth_seller schema.
		f := folded{ts: r.Timestamp, txID: r.TransactionHash, txHash: parseTxHash(r.TransactionHash)}
		if buyIsEth {
			f.token = r.TokenSell
			f.ethBuyer = r.Maker
			f.ethSeller = r.Taker
			f.amountETH = amountBuyReal
			f.amountToken = amountSellReal
		} else {
			f.token = r.TokenBuy
			f.ethBuyer = r.Taker
			f.ethSeller = r.Maker
			f.amountETH = amountSellReal
			f.amountToken = amountBuyReal
		}
		f.amountUSD = f.amountETH.Mul(price)

		// Rule 6: drop self-trades. Hex addresses are compared in parsed
		// form so casing variants of one account count as a self-trade.
		selfTrade := f.ethBuyer == f.ethSeller
		if common.IsHexAddress(f.ethBuyer) && common.IsHexAddress(f.ethSeller) {
			selfTrade = common.HexToAddress(f.ethBuyer) == common.HexToAddress(f.ethSeller)
		}
		if selfTrade {
			report.DroppedSelfTrade++
			continue
		}

		out = append(out, f)
	}

	// Rule 7: assign trader IDs in sorted-address order of first appearance.
	addrSet := make([]string, 0, len(out)*2)
	for _, f := range out {
		addrSet = append(addrSet, f.ethBuyer, f.ethSeller)
	}
	reg := registry.New(addrSet)

	trades := make([]models.Trade, len(out))
	for i, f := range out {
		buyerID, _ := reg.ID(f.ethBuyer)
		sellerID, _ := reg.ID(f.ethSeller)
		trades[i] = models.Trade{
			TxID:        f.txID,
			TxHash:      f.txHash,
			Timestamp:   f.ts,
			Token:       f.token,
			EthBuyerID:  buyerID,
			EthSellerID: sellerID,
			AmountETH:   f.amountETH,
			AmountToken: f.amountToken,
			AmountUSD:   f.amountUSD,
		}
	}

	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Timestamp < trades[j].Timestamp })

	report.TotalOutput = len(trades)
	return trades, reg, report, nil
}

// toReal converts an integer-string on-chain amount to a real value by
// dividing by 10^decimals. A NaN-producing or unparseable value is a
// schema error per §7(d).
func toReal(raw string, decimals int) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable amount %q: %w", raw, err)
	}
	divisor := decimal.New(1, int32(decimals))
	return d.Div(divisor), nil
}

// parseTxHash parses a 32-byte hex transaction hash, returning the zero
// hash for anything else (opaque tx IDs from non-EVM exchange logs are
// still carried verbatim in Trade.TxID).
func parseTxHash(s string) common.Hash {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) != 64 {
		return common.Hash{}
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return common.Hash{}
	}
	return common.HexToHash(s)
}

// ParseDecimalsJSON is a small convenience helper mirroring the source's
// token_decimals.json shape: {address: {"decimals": N, ...}}. Kept here
// rather than in a CLI helper since it is part of the preprocessing
// contract's "decimals table keyed by token" input (§4.A), not a raw-file
// loader.
func ParseDecimalsJSON(m map[string]map[string]any) Decimals {
	out := make(Decimals, len(m))
	for token, fields := range m {
		switch v := fields["decimals"].(type) {
		case float64:
			out[token] = int(v)
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				out[token] = n
			}
		}
	}
	return out
}
