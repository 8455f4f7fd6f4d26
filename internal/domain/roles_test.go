package domain

import "testing"

func TestEveryRoleHasAProfile(t *testing.T) {
	for _, r := range Roles() {
		p := RoleProfile(r)
		if p.Role != r {
			t.Fatalf("profile role %s != %s", p.Role, r)
		}
		if p.Dashboard == "" || len(p.Navigation) == 0 {
			t.Fatalf("%s has no dashboard or navigation", r)
		}
	}
}

func TestRoleProfileReturnsCopies(t *testing.T) {
	p := RoleProfile(RoleProducer)
	p.Navigation[0].Name = "Changed"
	p.Actions[0] = ActionUseWallet
	p.Actions = append(p.Actions[:1], ActionSubmitBid)

	for _, r := range []Role{RoleProducer, RoleAggregator} {
		fresh := RoleProfile(r)
		if fresh.Navigation[0].Name != "Dashboard" {
			t.Fatalf("%s navigation changed through a returned profile: %+v", r, fresh.Navigation[0])
		}
		if fresh.Allows(ActionUseWallet) || fresh.Allows(ActionSubmitBid) {
			t.Fatalf("%s actions changed through a returned profile: %v", r, fresh.Actions)
		}
		if !fresh.Allows(ActionFulfillBid) {
			t.Fatalf("%s lost fulfill", r)
		}
	}
}

func TestMarketplaceActionsBySide(t *testing.T) {
	producerSide := []Action{ActionRecordHarvest, ActionPublishOffer, ActionApproveBid, ActionRejectBid, ActionFulfillBid}
	retailerSide := []Action{ActionSubmitBid, ActionCreatePaymentOrder, ActionConfirmPayment}

	for _, r := range Roles() {
		p := RoleProfile(r)
		for _, a := range producerSide {
			if p.Allows(a) != IsProducerSide(r) {
				t.Fatalf("%s allows %s = %v", r, a, p.Allows(a))
			}
		}
		for _, a := range retailerSide {
			if p.Allows(a) != (r == RoleRetailer) {
				t.Fatalf("%s allows %s = %v", r, a, p.Allows(a))
			}
		}
	}
	if !RoleProfile(RoleTransporter).Allows(ActionViewMarketplace) {
		t.Fatalf("transporter sees the marketplace")
	}
	if len(RoleProfile(RoleConsumer).Actions) != 0 {
		t.Fatalf("consumer has no actions")
	}
}

func TestOnlyAdminUsesWallet(t *testing.T) {
	for _, r := range Roles() {
		if RoleProfile(r).Allows(ActionUseWallet) != (r == RoleAdmin) {
			t.Fatalf("wallet gating wrong for %s", r)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, ok := ParseRole(" Retailer "); !ok || r != RoleRetailer {
		t.Fatalf("parse retailer: %v %v", r, ok)
	}
	if _, ok := ParseRole("farmer"); ok {
		t.Fatalf("unknown role accepted")
	}
	p := RoleProfile(Role("farmer"))
	if len(p.Actions) != 0 || len(p.Navigation) != 0 {
		t.Fatalf("unknown role should get an empty profile")
	}
}
