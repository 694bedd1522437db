// Package deals maintains the buyer-facing view of the deal pipeline. The
// remote service exposes one collection per status bucket; this package
// reassembles them into a single tagged collection and issues transition
// commands, re-fetching in full after every successful write.
package deals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dealbridge/marketplace/internal/marketplace"
)

// Gateway is the subset of the deal service client this package uses.
type Gateway interface {
	FetchByStatus(ctx context.Context, status marketplace.Status) ([]marketplace.Deal, error)
	RequestTransition(ctx context.Context, dealID string, action marketplace.TransitionAction, notes string) error
}

// View is a deal tagged with its status for the requesting buyer. The same
// deal can sit in different buckets for different buyers; the tag makes that
// a fact of the type rather than an artifact of which endpoint was called.
type View struct {
	Deal   marketplace.Deal   `json:"deal"`
	Status marketplace.Status `json:"status"`
}

// Client merges the three status collections into one in-memory view and
// issues transition commands. All mutation happens behind the mutex; the
// merged collection is only ever replaced wholesale.
type Client struct {
	gw     Gateway
	logger *slog.Logger

	mu        sync.RWMutex
	views     []View
	activeTab marketplace.Status
}

// NewClient creates a deal status client. The active tab starts on pending,
// the bucket new deals arrive in.
func NewClient(gw Gateway, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gw:        gw,
		logger:    logger,
		activeTab: marketplace.StatusPending,
	}
}

// LoadAll fetches the three status buckets concurrently, tags each deal with
// the bucket it was fetched under and commits the merged collection once all
// three have settled. If any fetch fails, the previous collection is left
// untouched; a partial set is never shown.
func (c *Client) LoadAll(ctx context.Context) ([]View, error) {
	statuses := marketplace.Statuses()
	results := make([][]marketplace.Deal, len(statuses))
	errs := make([]error, len(statuses))

	var wg sync.WaitGroup
	for i, status := range statuses {
		wg.Add(1)
		go func(i int, status marketplace.Status) {
			defer wg.Done()
			results[i], errs[i] = c.gw.FetchByStatus(ctx, status)
		}(i, status)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			c.logger.Warn("deal bucket fetch failed", "status", statuses[i], "error", err)
			return nil, fmt.Errorf("fetching %s deals: %w", statuses[i], err)
		}
	}

	merged := make([]View, 0, len(results[0])+len(results[1])+len(results[2]))
	for i, status := range statuses {
		for _, d := range results[i] {
			merged = append(merged, View{Deal: d, Status: status})
		}
	}

	c.mu.Lock()
	c.views = merged
	c.mu.Unlock()

	return c.snapshot(), nil
}

// Transition issues a status-change command. On success the active tab
// switches to the action's target bucket and the whole collection is
// re-fetched; the gateway never patches local state. On failure the visible
// collection stays as it was.
func (c *Client) Transition(ctx context.Context, dealID string, action marketplace.TransitionAction, notes string) error {
	if err := c.gw.RequestTransition(ctx, dealID, action, notes); err != nil {
		return err
	}

	c.mu.Lock()
	c.activeTab = action.Target()
	c.mu.Unlock()

	if _, err := c.LoadAll(ctx); err != nil {
		return fmt.Errorf("resync after %s: %w", action, err)
	}
	return nil
}

// Views returns a snapshot of the merged collection.
func (c *Client) Views() []View {
	return c.snapshot()
}

// ActiveTab returns the bucket the view is currently focused on.
func (c *Client) ActiveTab() marketplace.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeTab
}

// SetActiveTab focuses the view on a bucket. Unknown values are ignored.
func (c *Client) SetActiveTab(tab marketplace.Status) {
	if !tab.Valid() {
		return
	}
	c.mu.Lock()
	c.activeTab = tab
	c.mu.Unlock()
}

func (c *Client) snapshot() []View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]View, len(c.views))
	copy(out, c.views)
	return out
}

// Filter restricts views to one tab, then to those matching the query. It is
// a pure function over its inputs.
func Filter(views []View, tab marketplace.Status, query string) []View {
	out := make([]View, 0, len(views))
	for _, v := range views {
		if v.Status != tab {
			continue
		}
		if query != "" && !matchesQuery(v.Deal, query) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// matchesQuery reports whether any searchable text field contains the query,
// case-insensitively.
func matchesQuery(d marketplace.Deal, query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{d.Title, d.Description, d.Industry, d.Geography, d.BusinessModel} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
