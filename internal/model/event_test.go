package model

import (
	"encoding/json"
	"testing"
)

func TestEventKindJSONNames(t *testing.T) {
	kinds := map[EventKind]string{
		EventDeposit:          `"deposit"`,
		EventWithdraw:         `"withdraw"`,
		EventBorrow:           `"borrow"`,
		EventRepay:            `"repay"`,
		EventLiquidation:      `"liquidation"`,
		EventTransfer:         `"transfer"`,
		EventCollateralConfig: `"collateral_config"`,
	}

	for kind, want := range kinds {
		data, err := json.Marshal(kind)
		if err != nil {
			t.Fatalf("marshal %v failed: %v", kind, err)
		}
		if string(data) != want {
			t.Fatalf("kind %v encoded as %s, want %s", kind, data, want)
		}

		var decoded EventKind
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal %s failed: %v", data, err)
		}
		if decoded != kind {
			t.Fatalf("round trip changed %v to %v", kind, decoded)
		}
	}
}

func TestEventKindRejectsUnknownName(t *testing.T) {
	var kind EventKind
	if err := json.Unmarshal([]byte(`"flashloan"`), &kind); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLendingEventAmountParsing(t *testing.T) {
	ev := LendingEvent{Amount: "123456789012345678901234567890", PostBalance: ""}

	amount, err := ev.AmountBig()
	if err != nil {
		t.Fatalf("amount parse failed: %v", err)
	}
	if amount.String() != "123456789012345678901234567890" {
		t.Fatalf("unexpected amount: %s", amount)
	}

	post, err := ev.PostBalanceBig()
	if err != nil {
		t.Fatalf("empty post balance should parse: %v", err)
	}
	if post.Sign() != 0 {
		t.Fatalf("empty post balance should be zero, got %s", post)
	}

	ev.Amount = "0x10"
	if _, err := ev.AmountBig(); err == nil {
		t.Fatal("expected error for non-decimal amount")
	}
}

func TestPositionIDIncludesSlot(t *testing.T) {
	a := PositionID("0xa", "0xm", SideLender, 0)
	b := PositionID("0xa", "0xm", SideLender, 1)
	c := PositionID("0xa", "0xm", SideBorrower, 0)

	if a == b || a == c || b == c {
		t.Fatalf("position ids must be distinct: %s %s %s", a, b, c)
	}
}

func TestPeriodicIDGranularityDisambiguates(t *testing.T) {
	hourly := PeriodicID("0xm", Hourly, 500)
	daily := PeriodicID("0xm", Daily, 500)
	if hourly == daily {
		t.Fatalf("hourly and daily ids must differ: %s", hourly)
	}
}

func TestFrozenRateKeepsLiveIDIntact(t *testing.T) {
	live := InterestRate{
		ID:     RateID(SideLender, RateVariable, "0xm"),
		Side:   SideLender,
		Kind:   RateVariable,
		Market: "0xm",
	}
	frozen := live.Frozen(Hourly, 500)

	if frozen.ID == live.ID {
		t.Fatal("frozen copy must have a distinct id")
	}
	if live.ID != RateID(SideLender, RateVariable, "0xm") {
		t.Fatal("freezing must not mutate the live record")
	}
}
