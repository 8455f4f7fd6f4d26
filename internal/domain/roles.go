package domain

import (
	"slices"
	"strings"
)

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleAggregator  Role = "aggregator"
	RoleProducer    Role = "producer"
	RoleRetailer    Role = "retailer"
	RoleTransporter Role = "transporter"
	RoleConsumer    Role = "consumer"
)

// Action names a user-facing affordance. Gating by action is cosmetic; the
// backend authorizes every mutating call on its own.
type Action string

const (
	ActionCreateBatch        Action = "create_batch"
	ActionUpdateStage        Action = "update_stage"
	ActionReportAlert        Action = "report_alert"
	ActionLinkSensor         Action = "link_sensor"
	ActionScanFreshness      Action = "scan_freshness"
	ActionViewMarketplace    Action = "view_marketplace"
	ActionRecordHarvest      Action = "record_harvest"
	ActionPublishOffer       Action = "publish_offer"
	ActionApproveBid         Action = "approve_bid"
	ActionRejectBid          Action = "reject_bid"
	ActionFulfillBid         Action = "fulfill_bid"
	ActionSubmitBid          Action = "submit_bid"
	ActionCreatePaymentOrder Action = "create_payment_order"
	ActionConfirmPayment     Action = "confirm_payment"
	ActionUseWallet          Action = "use_wallet"
)

type NavEntry struct {
	Name        string `json:"name"`
	Href        string `json:"href"`
	Description string `json:"description"`
}

// Profile is everything the role-scoped UI derives from a role.
type Profile struct {
	Role       Role       `json:"role"`
	Dashboard  string     `json:"dashboard"`
	Navigation []NavEntry `json:"navigation"`
	Actions    []Action   `json:"actions"`
}

func (p Profile) Allows(a Action) bool {
	for _, have := range p.Actions {
		if have == a {
			return true
		}
	}
	return false
}

var (
	navDashboard   = NavEntry{Name: "Dashboard", Href: "/dashboard"}
	navQRScanner   = NavEntry{Name: "QR Scanner", Href: "/consumer-audit"}
	navFreshness   = NavEntry{Name: "Freshness AI", Href: "/freshness", Description: "AI Freshness Scanner"}
	navSensors     = NavEntry{Name: "Sensors", Href: "/sensors", Description: "IoT Sensor Management"}
	navMarketplace = NavEntry{Name: "Marketplace", Href: "/marketplace", Description: "Pricing & Bids"}
)

func described(e NavEntry, desc string) NavEntry {
	e.Description = desc
	return e
}

var producerProfile = Profile{
	Dashboard: "batch-creation",
	Navigation: []NavEntry{
		described(navDashboard, "Batch Creation Hub"),
		{Name: "Create Batch", Href: "/professional", Description: "New Supply Chain Entry"},
		navFreshness,
		navSensors,
		navMarketplace,
		described(navQRScanner, "Verify Products"),
	},
	Actions: []Action{
		ActionCreateBatch, ActionScanFreshness, ActionViewMarketplace,
		ActionRecordHarvest, ActionPublishOffer, ActionApproveBid, ActionRejectBid, ActionFulfillBid,
	},
}

var roleProfiles = map[Role]Profile{
	RoleAdmin: {
		Dashboard: "overview",
		Navigation: []NavEntry{
			described(navDashboard, "Overview & Analytics"),
			described(navQRScanner, "Verify Products"),
			navFreshness,
			navSensors,
		},
		Actions: []Action{
			ActionCreateBatch, ActionScanFreshness, ActionUseWallet, ActionViewMarketplace,
			ActionRecordHarvest, ActionPublishOffer, ActionApproveBid, ActionRejectBid, ActionFulfillBid,
		},
	},
	RoleAggregator: producerProfile,
	RoleProducer:   producerProfile,
	RoleRetailer: {
		Dashboard: "batch-workflow",
		Navigation: []NavEntry{
			navFreshness,
			navSensors,
			described(navDashboard, "Batch Workflow View"),
			navMarketplace,
			described(navQRScanner, "Product Verification"),
		},
		Actions: []Action{
			ActionUpdateStage, ActionReportAlert, ActionLinkSensor, ActionScanFreshness,
			ActionViewMarketplace, ActionSubmitBid, ActionCreatePaymentOrder, ActionConfirmPayment,
		},
	},
	RoleTransporter: {
		Dashboard: "transport",
		Navigation: []NavEntry{
			described(navDashboard, "Transport Management"),
			navSensors,
			{Name: "Update Location", Href: "/professional", Description: "Track Shipments"},
			described(navQRScanner, "Verify Batches"),
		},
		Actions: []Action{ActionUpdateStage, ActionReportAlert, ActionLinkSensor, ActionViewMarketplace},
	},
	RoleConsumer: {
		Dashboard: "product-info",
		Navigation: []NavEntry{
			described(navQRScanner, "Scan Product QR Codes"),
			described(navDashboard, "Product Information"),
		},
	},
}

// RoleProfile returns a copy of the UI profile for a role. Unknown roles get
// an empty profile with no navigation and no actions.
func RoleProfile(r Role) Profile {
	p, ok := roleProfiles[r]
	if !ok {
		return Profile{Role: r}
	}
	p.Role = r
	p.Navigation = slices.Clone(p.Navigation)
	p.Actions = slices.Clone(p.Actions)
	return p
}

// ParseRole normalizes a role string; ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := roleProfiles[r]
	return r, ok
}

// IsProducerSide reports whether the role acts as the offering party in the marketplace.
func IsProducerSide(r Role) bool {
	return r == RoleAdmin || r == RoleAggregator || r == RoleProducer
}

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleAggregator, RoleProducer, RoleRetailer, RoleTransporter, RoleConsumer}
}
