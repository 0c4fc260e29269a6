package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestSide_String tests Side string conversion.
func TestSide_String(t *testing.T) {
	tests := []struct {
		side Side
		want string
	}{
		{SideBuy, "BUY"},
		{SideSell, "SELL"},
		{Side(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		got := tt.side.String()
		if got != tt.want {
			t.Errorf("Side(%d).String() = %s, want %s", tt.side, got, tt.want)
		}
	}
}

// TestSide_Opposite tests direction flip.
func TestSide_Opposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell {
		t.Errorf("SideBuy.Opposite() = %s, want SELL", SideBuy.Opposite())
	}
	if SideSell.Opposite() != SideBuy {
		t.Errorf("SideSell.Opposite() = %s, want BUY", SideSell.Opposite())
	}
}

func TestSide_UnmarshalText(t *testing.T) {
	var s Side
	if err := s.UnmarshalText([]byte("sell")); err != nil {
		t.Fatalf("UnmarshalText(sell) error = %v", err)
	}
	if s != SideSell {
		t.Errorf("side = %s, want SELL", s)
	}

	err := s.UnmarshalText([]byte("hold"))
	if !errors.Is(err, ErrInvalidOrder) {
		t.Errorf("UnmarshalText(hold) error = %v, want ErrInvalidOrder", err)
	}
}

func TestOrderKind_SessionGated(t *testing.T) {
	tests := []struct {
		kind    OrderKind
		gated   bool
		onClose bool
	}{
		{KindMarket, false, false},
		{KindLimit, false, false},
		{KindStop, false, false},
		{KindStopLimit, false, false},
		{KindMarketOnOpen, true, false},
		{KindMarketOnClose, true, true},
		{KindLimitOnOpen, true, false},
		{KindLimitOnClose, true, true},
	}

	for _, tt := range tests {
		if got := tt.kind.SessionGated(); got != tt.gated {
			t.Errorf("%s.SessionGated() = %v, want %v", tt.kind, got, tt.gated)
		}
		if got := tt.kind.OnClose(); got != tt.onClose {
			t.Errorf("%s.OnClose() = %v, want %v", tt.kind, got, tt.onClose)
		}
	}
}

func TestOrderType_String(t *testing.T) {
	tests := []struct {
		typ  OrderType
		want string
	}{
		{Market(), "MARKET"},
		{Limit(decimal.NewFromInt(102)), "LIMIT(102)"},
		{Stop(decimal.NewFromInt(98)), "STOP(98)"},
		{StopLimit(decimal.NewFromInt(98), decimal.NewFromInt(97)), "STOP_LIMIT(98/97)"},
		{MarketOnClose(), "MARKET_ON_CLOSE"},
		{LimitOnOpen(decimal.NewFromInt(50)), "LIMIT_ON_OPEN(50)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestOrder_Validate(t *testing.T) {
	valid := NewOrder("AAPL", SideBuy, decimal.NewFromInt(10), Market())

	tests := []struct {
		name    string
		order   Order
		wantErr bool
	}{
		{"valid market", valid, false},
		{"zero quantity allowed", NewOrder("AAPL", SideBuy, decimal.Zero, Market()), false},
		{"empty symbol", NewOrder("", SideBuy, decimal.NewFromInt(1), Market()), true},
		{"negative quantity", NewOrder("AAPL", SideSell, decimal.NewFromInt(-1), Market()), true},
		{"zero limit", NewOrder("AAPL", SideSell, decimal.NewFromInt(1), Limit(decimal.Zero)), true},
		{"negative stop", NewOrder("AAPL", SideSell, decimal.NewFromInt(1), Stop(decimal.NewFromInt(-5))), true},
		{"unknown side", Order{Symbol: "AAPL", Side: Side(7), Quantity: decimal.NewFromInt(1)}, true},
		{"GTD without expiry", valid.WithTimeInForce(GTD), true},
		{"GTD with expiry", valid.GoodTill(time.Now()), false},
		{"bad contingent order", valid.ThenOnFill(SubmitAction(2, NewOrder("", SideSell, decimal.NewFromInt(1), Market()))), true},
		{"submit action without order", valid.ThenOnCancel(Action{Kind: ActionSubmit, ID: 3}), true},
		{"cancel action", valid.ThenOnFill(CancelAction(4)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.order.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("Validate() error = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestOrder_ThenOnFillDoesNotAlias(t *testing.T) {
	base := NewOrder("AAPL", SideBuy, decimal.NewFromInt(1), Market()).ThenOnFill(CancelAction(1))
	a := base.ThenOnFill(CancelAction(2))
	b := base.ThenOnFill(CancelAction(3))

	if len(base.OnFill) != 1 {
		t.Errorf("base OnFill len = %d, want 1", len(base.OnFill))
	}
	if a.OnFill[1].ID != 2 || b.OnFill[1].ID != 3 {
		t.Errorf("OnFill ids = %d/%d, want 2/3", a.OnFill[1].ID, b.OnFill[1].ID)
	}
}

func TestOrder_JSON(t *testing.T) {
	order := NewOrder("AAPL", SideSell, decimal.NewFromInt(10), Limit(decimal.NewFromInt(102))).
		ThenOnFill(CancelAction(7))

	data, err := json.Marshal(order)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got Order
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Side != SideSell || got.Type.Kind != KindLimit {
		t.Errorf("decoded side/kind = %s/%s, want SELL/LIMIT", got.Side, got.Type.Kind)
	}
	if !got.Type.Limit.Equal(decimal.NewFromInt(102)) {
		t.Errorf("decoded limit = %s, want 102", got.Type.Limit)
	}
	if len(got.OnFill) != 1 || got.OnFill[0].Kind != ActionCancel || got.OnFill[0].ID != 7 {
		t.Errorf("decoded OnFill = %+v, want one cancel of 7", got.OnFill)
	}
}

func TestTick_JSON(t *testing.T) {
	tick := Tick{
		Symbol: "AAPL",
		Time:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
		Close:  decimal.RequireFromString("101.5"),
		Volume: 1200,
	}

	data, err := json.Marshal(tick)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, key := range []string{`"symbol":"AAPL"`, `"close":"101.5"`, `"volume":1200`, `"time":"2024-01-02T09:30:00Z"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Marshal() = %s, missing %s", data, key)
		}
	}
}

func TestFill_CashDelta(t *testing.T) {
	buy := Fill{Side: SideBuy, Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(100), Commission: decimal.NewFromInt(1)}
	sell := Fill{Side: SideSell, Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(105), Commission: decimal.NewFromInt(1)}

	if got := buy.CashDelta(); !got.Equal(decimal.NewFromInt(-1001)) {
		t.Errorf("buy CashDelta() = %s, want -1001", got)
	}
	if got := sell.CashDelta(); !got.Equal(decimal.NewFromInt(1049)) {
		t.Errorf("sell CashDelta() = %s, want 1049", got)
	}
}

func TestPosition_UnrealizedPL(t *testing.T) {
	short := Position{Symbol: "AAPL", Quantity: decimal.NewFromInt(-5), AvgPrice: decimal.NewFromInt(100)}
	if !short.IsShort() || short.IsLong() {
		t.Fatal("expected short position")
	}
	if got := short.UnrealizedPL(decimal.NewFromInt(90)); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("UnrealizedPL(90) = %s, want 50", got)
	}
}

// TestDecimal_FloatPrecision tests 0.1 + 0.2 = 0.3.
func TestDecimal_FloatPrecision(t *testing.T) {
	a := decimal.RequireFromString("0.1")
	b := decimal.RequireFromString("0.2")

	if result := a.Add(b); !result.Equal(decimal.RequireFromString("0.3")) {
		t.Errorf("0.1 + 0.2 = %s, want 0.3", result.String())
	}
}
