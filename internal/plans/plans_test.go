package plans

import (
	"testing"

	"github.com/roomgrid/billing-core/internal/constants"
)

func TestLookupNormalizes(t *testing.T) {
	plan, ok := Lookup("  PRO ")
	if !ok || plan.Code != constants.PlanPro {
		t.Fatalf("unexpected lookup result: %+v ok=%v", plan, ok)
	}
	if _, ok := Lookup("platinum"); ok {
		t.Fatal("unknown plan should not resolve")
	}
}

func TestIsPaid(t *testing.T) {
	if IsPaid(constants.PlanStandard) {
		t.Fatal("standard plan is free")
	}
	if !IsPaid(constants.PlanPro) || !IsPaid(constants.PlanEnterprise) {
		t.Fatal("pro and enterprise are paid plans")
	}
	if IsPaid("platinum") {
		t.Fatal("unknown plan is not purchasable")
	}
}

func TestPriceMinor(t *testing.T) {
	price, ok := PriceMinor(constants.PlanPro, constants.RoomBandSmall, "KZT")
	if !ok || price != 990000 {
		t.Fatalf("unexpected price: %d ok=%v", price, ok)
	}
	if _, ok := PriceMinor(constants.PlanStandard, constants.RoomBandSmall, "KZT"); ok {
		t.Fatal("free plan has no price")
	}
	if _, ok := PriceMinor(constants.PlanPro, constants.RoomBandSmall, "EUR"); ok {
		t.Fatal("unsupported currency has no price")
	}
}

func TestBandAllowsRooms(t *testing.T) {
	if !BandAllowsRooms(constants.RoomBandSmall, 50) {
		t.Fatal("50 rooms fit upto_50")
	}
	if BandAllowsRooms(constants.RoomBandSmall, 51) {
		t.Fatal("51 rooms exceed upto_50")
	}
	if !BandAllowsRooms(constants.RoomBandUnlimited, 10000) {
		t.Fatal("unlimited band has no cap")
	}
}
