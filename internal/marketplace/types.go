package marketplace

import "time"

// Status is a deal's bucket relative to the requesting buyer. The remote
// service exposes one collection per status instead of a status field, so the
// value records which endpoint a deal was fetched under.
type Status string

// Buckets a deal can occupy for a given buyer.
const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
)

// Valid reports whether s names a known bucket.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRejected:
		return true
	}
	return false
}

// Statuses lists every bucket in a fixed order.
func Statuses() []Status {
	return []Status{StatusPending, StatusActive, StatusRejected}
}

// TransitionAction is a remote write that moves a deal between buckets for
// the requesting buyer.
type TransitionAction string

// Actions accepted by the transition endpoint.
const (
	ActionActivate   TransitionAction = "activate"
	ActionReject     TransitionAction = "reject"
	ActionSetPending TransitionAction = "set-pending"
)

// Valid reports whether a names a known transition action.
func (a TransitionAction) Valid() bool {
	switch a {
	case ActionActivate, ActionReject, ActionSetPending:
		return true
	}
	return false
}

// Target returns the bucket a successful action lands the deal in.
func (a TransitionAction) Target() Status {
	switch a {
	case ActionActivate:
		return StatusActive
	case ActionReject:
		return StatusRejected
	default:
		return StatusPending
	}
}

// Deal is a sellable business opportunity as seen by one buyer. Financial
// figures are flattened from the raw record; sub-fields the remote service
// omits stay at zero instead of failing the record.
type Deal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Industry      string `json:"industry"`
	Geography     string `json:"geography"`
	BusinessModel string `json:"businessModel"`

	ManagementOpenToStay       bool `json:"managementOpenToStay"`
	ManagementOpenToTransition bool `json:"managementOpenToTransition"`

	TrailingRevenue float64 `json:"trailingRevenue"`
	TrailingEBITDA  float64 `json:"trailingEBITDA"`
	RevenueGrowth   float64 `json:"revenueGrowth"`
	NetIncome       float64 `json:"netIncome"`
	AskingPrice     float64 `json:"askingPrice"`
}

// rawDeal is the wire shape of a deal record.
type rawDeal struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	Industry      string `json:"industry"`
	Geography     string `json:"geography"`
	BusinessModel string `json:"businessModel"`

	ManagementPreferences struct {
		OpenToStay       bool `json:"openToStay"`
		OpenToTransition bool `json:"openToTransition"`
	} `json:"managementPreferences"`

	FinancialDetails struct {
		TrailingRevenue float64 `json:"trailingRevenue"`
		TrailingEBITDA  float64 `json:"trailingEBITDA"`
		RevenueGrowth   float64 `json:"revenueGrowth"`
		NetIncome       float64 `json:"netIncome"`
		AskingPrice     float64 `json:"askingPrice"`
	} `json:"financialDetails"`
}

func (r rawDeal) normalize() Deal {
	return Deal{
		ID:                         r.ID,
		Title:                      r.Title,
		Description:                r.Description,
		Industry:                   r.Industry,
		Geography:                  r.Geography,
		BusinessModel:              r.BusinessModel,
		ManagementOpenToStay:       r.ManagementPreferences.OpenToStay,
		ManagementOpenToTransition: r.ManagementPreferences.OpenToTransition,
		TrailingRevenue:            r.FinancialDetails.TrailingRevenue,
		TrailingEBITDA:             r.FinancialDetails.TrailingEBITDA,
		RevenueGrowth:              r.FinancialDetails.RevenueGrowth,
		NetIncome:                  r.FinancialDetails.NetIncome,
		AskingPrice:                r.FinancialDetails.AskingPrice,
	}
}

// Responses a buyer can record on an invitation.
const (
	ResponseAccepted   = "accepted"
	ResponseInterested = "interested"
	ResponsePending    = "pending"
	ResponseRejected   = "rejected"
	ResponseDeclined   = "declined"
)

// InvitationRecord is the remote record of one buyer being targeted for one
// deal. RespondedAt is set exactly when Response is.
type InvitationRecord struct {
	InvitedAt   time.Time  `json:"invitedAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Response    string     `json:"response,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Responded reports whether the buyer has answered the invitation.
func (r InvitationRecord) Responded() bool {
	return r.Response != ""
}

// Buyer is a buyer identity record.
type Buyer struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"companyName"`
}

// Profile is the authenticated principal's own buyer profile.
type Profile struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"companyName"`
	Role    string `json:"role"`
}

// StatusSummaryRaw is the unjoined seller-side view of one deal: the deal
// shell plus the invitation map keyed by buyer id. Buyer identities are
// fetched separately and joined by the caller.
type StatusSummaryRaw struct {
	Deal        Deal
	Invitations map[string]InvitationRecord
}

type rawStatusSummary struct {
	Deal             rawDeal                     `json:"deal"`
	InvitationStatus map[string]InvitationRecord `json:"invitationStatus"`
}
