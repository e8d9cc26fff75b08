package preprocess

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rawblock/wash-trade-engine/pkg/models"
)

const ethHex = "0x0000000000000000000000000000000000000000"

func mustPrices() Prices {
	return Prices{
		{Timestamp: 1000, USDPerETH: decimal.NewFromInt(2000)},
		{Timestamp: 2000, USDPerETH: decimal.NewFromInt(2500)},
	}
}

func baseRow() models.RawTrade {
	return models.RawTrade{
		Timestamp:       1000,
		TransactionHash: "tx1",
		Status:          1,
		Maker:           "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Taker:           "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		TokenBuy:        ethHex,
		TokenSell:       "0xcccccccccccccccccccccccccccccccccccccccc",
		AmountBuy:       "1000000000000000000", // 1 ETH, 18 decimals
		AmountSell:      "500000000000000000000000000000000000",
	}
}

func TestProcess_HappyPath(t *testing.T) {
	rows := []models.RawTrade{baseRow()}
	decimals := Decimals{"0xcccccccccccccccccccccccccccccccccccccccc": 18}

	trades, reg, report, err := Process(rows, decimals, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(trades))
	}
	if report.TotalInput != 1 || report.TotalOutput != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	tr := trades[0]
	if !tr.AmountETH.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1 ETH, got %s", tr.AmountETH)
	}
	wantUSD := decimal.NewFromInt(2000)
	if !tr.AmountUSD.Equal(wantUSD) {
		t.Fatalf("expected USD amount %s, got %s", wantUSD, tr.AmountUSD)
	}
	// TokenBuy is ETH so the buyer of ETH (Maker) is eth_buyer.
	buyerID, _ := reg.ID(rows[0].Maker)
	sellerID, _ := reg.ID(rows[0].Taker)
	if tr.EthBuyerID != buyerID || tr.EthSellerID != sellerID {
		t.Fatalf("orientation folded incorrectly: buyer=%d seller=%d", tr.EthBuyerID, tr.EthSellerID)
	}
}

func TestProcess_DropsNonMatchingStatus(t *testing.T) {
	row := baseRow()
	row.Status = 0
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedStatus != 1 || report.TotalOutput != 0 {
		t.Fatalf("expected one status drop, got %+v", report)
	}
}

func TestProcess_StatusFilterDisabled(t *testing.T) {
	row := baseRow()
	row.Status = 0
	trades, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedStatus != 0 || len(trades) != 1 {
		t.Fatalf("expected status filter to be skipped, got %+v trades=%d", report, len(trades))
	}
}

func TestProcess_DropsMissingField(t *testing.T) {
	row := baseRow()
	row.Maker = ""
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedMissing != 1 {
		t.Fatalf("expected one missing-field drop, got %+v", report)
	}
}

func TestProcess_DropsTokenToken(t *testing.T) {
	row := baseRow()
	row.TokenBuy = "0xdddddddddddddddddddddddddddddddddddddddd"
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedTokenToken != 1 {
		t.Fatalf("expected one token<->token drop, got %+v", report)
	}
}

func TestProcess_DropsSameTokenBothLegs(t *testing.T) {
	row := baseRow()
	row.TokenSell = row.TokenBuy
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedTokenToken != 1 {
		t.Fatalf("expected same-token drop, got %+v", report)
	}
}

func TestProcess_SchemaErrorOnUnparseableAmount(t *testing.T) {
	row := baseRow()
	row.AmountBuy = "not-a-number"
	_, _, _, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err == nil {
		t.Fatal("expected a schema error")
	}
	var schemaErr *SchemaError
	if !asSchemaError(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %T: %v", err, err)
	}
}

func TestProcess_SchemaErrorOnNegativeAmount(t *testing.T) {
	row := baseRow()
	row.AmountBuy = "-1000000000000000000"
	_, _, _, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err == nil {
		t.Fatal("expected a schema error for negative amount")
	}
}

func TestProcess_DropsOutOfRangeTimestamp(t *testing.T) {
	row := baseRow()
	row.Timestamp = 1 // before the price series starts
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedOutOfRange != 1 {
		t.Fatalf("expected one out-of-range drop, got %+v", report)
	}
}

func TestProcess_DropsSelfTrade(t *testing.T) {
	row := baseRow()
	row.Taker = row.Maker
	_, _, report, err := Process([]models.RawTrade{row}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.DroppedSelfTrade != 1 {
		t.Fatalf("expected one self-trade drop, got %+v", report)
	}
}

func TestProcess_TraderIDsAssignedInSortedAddressOrder(t *testing.T) {
	rowA := baseRow()
	rowA.TransactionHash = "tx1"
	rowB := baseRow()
	rowB.TransactionHash = "tx2"
	rowB.Maker = "0x9999999999999999999999999999999999999999"
	rowB.Taker = "0x1111111111111111111111111111111111111111"

	_, reg, _, err := Process([]models.RawTrade{rowA, rowB}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lowest, ok := reg.ID("0x1111111111111111111111111111111111111111")
	if !ok || lowest != 1 {
		t.Fatalf("expected the lexicographically lowest address to get ID 1, got %d (ok=%v)", lowest, ok)
	}
}

func TestProcess_OutputSortedByTimestamp(t *testing.T) {
	rowLater := baseRow()
	rowLater.TransactionHash = "tx-later"
	rowLater.Timestamp = 2000

	rowEarlier := baseRow()
	rowEarlier.TransactionHash = "tx-earlier"
	rowEarlier.Timestamp = 1000

	trades, _, _, err := Process([]models.RawTrade{rowLater, rowEarlier}, nil, mustPrices(), ethHex, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 || trades[0].TxID != "tx-earlier" || trades[1].TxID != "tx-later" {
		t.Fatalf("expected output sorted by timestamp ascending, got %+v", trades)
	}
}

func TestDecimals_DefaultsTo18(t *testing.T) {
	d := Decimals{}
	if d.of("0xunknown") != 18 {
		t.Fatalf("expected default of 18 decimals, got %d", d.of("0xunknown"))
	}
}

func TestPrices_PriceAt_HalfOpenBinning(t *testing.T) {
	p := mustPrices()

	if _, ok := p.priceAt(999); ok {
		t.Fatal("expected timestamp before series start to miss")
	}
	price, ok := p.priceAt(1500)
	if !ok || !price.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("expected price 2000 for ts in [1000,2000), got %s (ok=%v)", price, ok)
	}
	price, ok = p.priceAt(2000)
	if !ok || !price.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected price 2500 exactly at the last point, got %s (ok=%v)", price, ok)
	}
	if _, ok := p.priceAt(2001); ok {
		t.Fatal("expected timestamp beyond the last price point to miss")
	}
}

func TestParseDecimalsJSON(t *testing.T) {
	raw := map[string]map[string]any{
		"0xaaa": {"decimals": float64(6)},
		"0xbbb": {"decimals": "9"},
	}
	d := ParseDecimalsJSON(raw)
	if d["0xaaa"] != 6 {
		t.Fatalf("expected 6 decimals for 0xaaa, got %d", d["0xaaa"])
	}
	if d["0xbbb"] != 9 {
		t.Fatalf("expected 9 decimals for 0xbbb, got %d", d["0xbbb"])
	}
}

func asSchemaError(err error, target **SchemaError) bool {
	if se, ok := err.(*SchemaError); ok {
		*target = se
		return true
	}
	return false
}
