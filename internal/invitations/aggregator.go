// Package invitations reconstructs the seller-facing status summary for one
// deal: the invitation map cross-referenced against buyer identity records
// fetched in parallel, partitioned into the three status buckets.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dealbridge/marketplace/internal/marketplace"
)

// Gateway is the subset of the deal service client this package uses.
type Gateway interface {
	FetchStatusSummaryRaw(ctx context.Context, dealID string) (*marketplace.StatusSummaryRaw, error)
	FetchBuyerDetail(ctx context.Context, buyerID string) (*marketplace.Buyer, error)
}

// BuyerSummaryEntry joins one invitation with the invited buyer's identity.
// Every invitation yields exactly one entry; when the identity lookup fails
// a placeholder identity is substituted, never omitted.
type BuyerSummaryEntry struct {
	BuyerID     string                       `json:"buyerId"`
	Name        string                       `json:"name"`
	Email       string                       `json:"email,omitempty"`
	Company     string                       `json:"company,omitempty"`
	Placeholder bool                         `json:"placeholder,omitempty"`
	Invitation  marketplace.InvitationRecord `json:"invitation"`
}

// Counts are the derived bucket sizes. TotalTargeted always equals the sum
// of the three buckets; it is never fetched independently.
type Counts struct {
	TotalTargeted int `json:"totalTargeted"`
	Active        int `json:"active"`
	Pending       int `json:"pending"`
	Rejected      int `json:"rejected"`
}

// StatusSummary is the aggregate view of all buyers targeted for one deal.
// The buckets are disjoint: every targeted buyer appears in exactly one.
type StatusSummary struct {
	Deal     marketplace.Deal    `json:"deal"`
	Active   []BuyerSummaryEntry `json:"active"`
	Pending  []BuyerSummaryEntry `json:"pending"`
	Rejected []BuyerSummaryEntry `json:"rejected"`
	Summary  Counts              `json:"summary"`
}

// Classify maps an invitation response to its bucket. Precedence: accepted
// and interested are active; rejected and declined are rejected; everything
// else, including no response yet, is pending.
func Classify(rec marketplace.InvitationRecord) marketplace.Status {
	switch rec.Response {
	case marketplace.ResponseAccepted, marketplace.ResponseInterested:
		return marketplace.StatusActive
	case marketplace.ResponseRejected, marketplace.ResponseDeclined:
		return marketplace.StatusRejected
	default:
		return marketplace.StatusPending
	}
}

// Aggregator builds status summaries against a deal service gateway.
type Aggregator struct {
	gw     Gateway
	logger *slog.Logger
}

// NewAggregator creates an invitation aggregator.
func NewAggregator(gw Gateway, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{gw: gw, logger: logger}
}

// BuildSummary fetches the invitation map for a deal, resolves every invited
// buyer's identity concurrently and partitions the joined entries into
// buckets. Identity lookups that fail degrade to placeholder entries; only
// auth failures abort the aggregation. No bucket is computed until every
// lookup has settled.
func (a *Aggregator) BuildSummary(ctx context.Context, dealID string) (*StatusSummary, error) {
	raw, err := a.gw.FetchStatusSummaryRaw(ctx, dealID)
	if err != nil {
		return nil, err
	}

	buyerIDs := make([]string, 0, len(raw.Invitations))
	for id := range raw.Invitations {
		buyerIDs = append(buyerIDs, id)
	}
	sort.Strings(buyerIDs)

	buyers := make([]*marketplace.Buyer, len(buyerIDs))
	errs := make([]error, len(buyerIDs))

	var wg sync.WaitGroup
	for i, id := range buyerIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			buyers[i], errs[i] = a.gw.FetchBuyerDetail(ctx, id)
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if errors.Is(err, marketplace.ErrAuthRequired) || errors.Is(err, marketplace.ErrNoToken) {
			return nil, err
		}
	}

	summary := &StatusSummary{
		Deal:     raw.Deal,
		Active:   []BuyerSummaryEntry{},
		Pending:  []BuyerSummaryEntry{},
		Rejected: []BuyerSummaryEntry{},
	}

	for i, id := range buyerIDs {
		entry := newEntry(id, buyers[i], raw.Invitations[id])
		if entry.Placeholder {
			a.logger.Debug("buyer identity lookup degraded to placeholder", "buyer_id", id, "deal_id", dealID)
		}

		switch Classify(entry.Invitation) {
		case marketplace.StatusActive:
			summary.Active = append(summary.Active, entry)
		case marketplace.StatusRejected:
			summary.Rejected = append(summary.Rejected, entry)
		default:
			summary.Pending = append(summary.Pending, entry)
		}
	}

	summary.Summary = Counts{
		Active:        len(summary.Active),
		Pending:       len(summary.Pending),
		Rejected:      len(summary.Rejected),
		TotalTargeted: len(summary.Active) + len(summary.Pending) + len(summary.Rejected),
	}
	return summary, nil
}

func newEntry(buyerID string, buyer *marketplace.Buyer, rec marketplace.InvitationRecord) BuyerSummaryEntry {
	if buyer == nil {
		return BuyerSummaryEntry{
			BuyerID:     buyerID,
			Name:        placeholderName(buyerID),
			Placeholder: true,
			Invitation:  rec,
		}
	}
	return BuyerSummaryEntry{
		BuyerID:    buyerID,
		Name:       buyer.Name,
		Email:      buyer.Email,
		Company:    buyer.Company,
		Invitation: rec,
	}
}

// placeholderName derives a stand-in display name from the tail of the buyer
// id, matching what sellers see elsewhere for anonymized buyers.
func placeholderName(buyerID string) string {
	suffix := buyerID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("Buyer%s", suffix)
}
