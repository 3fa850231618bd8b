// Package tickets adapts the ticket backend to the search and fetch tools.
package tickets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ticketmcp/ticketmcp/internal/backend"
)

// searchLimit caps how many tickets a single search returns.
const searchLimit = 20

// SearchItem is one search hit.
type SearchItem struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Text  string  `json:"text"`
	URL   *string `json:"url"`
}

// SearchResult is the payload of the search tool.
type SearchResult struct {
	Results []SearchItem `json:"results"`
}

// FetchResult is the payload of the fetch tool.
type FetchResult struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Text     string            `json:"text"`
	URL      *string           `json:"url"`
	Metadata map[string]string `json:"metadata"`
}

// Adapter implements the search and fetch tools on top of the backend client.
type Adapter struct {
	client *backend.Client
	logger *zap.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(client *backend.Client, logger *zap.Logger) *Adapter {
	return &Adapter{client: client, logger: logger}
}

// Search looks up tickets matching the query. Backend failures degrade to an
// empty result set so a flaky backend never breaks the tool surface.
func (a *Adapter) Search(ctx context.Context, query string) *SearchResult {
	result := &SearchResult{Results: []SearchItem{}}
	tickets, err := a.client.ListTickets(ctx, query, searchLimit)
	if err != nil {
		a.logger.Warn("ticket search failed", zap.String("query", query), zap.Error(err))
		return result
	}
	for _, ticket := range tickets {
		result.Results = append(result.Results, SearchItem{
			ID:    ticket.ID.String(),
			Title: ticket.Title,
			Text:  searchText(&ticket),
		})
	}
	return result
}

// Fetch loads a single ticket with its history.
func (a *Adapter) Fetch(ctx context.Context, id string) (*FetchResult, error) {
	ticket, err := a.client.GetTicket(ctx, id)
	if err != nil {
		a.logger.Warn("ticket fetch failed", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("Failed to fetch ticket: %s", id)
	}
	// History is best-effort; the ticket is still useful without it.
	history, err := a.client.GetTicketHistory(ctx, id)
	if err != nil {
		a.logger.Warn("ticket history fetch failed", zap.String("id", id), zap.Error(err))
		history = nil
	}
	return &FetchResult{
		ID:       id,
		Title:    ticket.Title,
		Text:     fetchText(ticket, history),
		Metadata: metadata(ticket),
	}, nil
}

// searchText summarizes a ticket in one line. Empty fields are skipped; a
// ticket with nothing to say falls back to its title.
func searchText(ticket *backend.Ticket) string {
	var parts []string
	if ticket.Description != "" {
		parts = append(parts, ticket.Description)
	}
	if ticket.StatusName != "" {
		parts = append(parts, "Status: "+ticket.StatusName)
	}
	if ticket.CategoryName != "" {
		parts = append(parts, "Category: "+ticket.CategoryName)
	}
	if ticket.AccountName != "" {
		parts = append(parts, "Account: "+ticket.AccountName)
	}
	if len(parts) == 0 {
		return ticket.Title
	}
	return strings.Join(parts, " | ")
}

func fetchText(ticket *backend.Ticket, history []backend.HistoryEntry) string {
	var b strings.Builder
	if ticket.Description != "" {
		b.WriteString("Description: " + ticket.Description)
	} else {
		b.WriteString("No description available")
	}
	if len(history) > 0 {
		b.WriteString("\n\nHistory:")
		for _, entry := range history {
			b.WriteString(fmt.Sprintf("\n- %s: %s (by %s)", entry.CreatedAt, entry.Content, entry.UserName))
		}
	}
	return b.String()
}

// metadata collects the non-empty descriptive fields; nil when there are none.
func metadata(ticket *backend.Ticket) map[string]string {
	fields := map[string]string{
		"status_name":           ticket.StatusName,
		"category_name":         ticket.CategoryName,
		"account_name":          ticket.AccountName,
		"person_in_charge_name": ticket.PersonInChargeName,
		"priority":              ticket.Priority.String(),
		"created_at":            ticket.CreatedAt,
		"updated_at":            ticket.UpdatedAt,
	}
	ret := make(map[string]string)
	for key, value := range fields {
		if value != "" {
			ret[key] = value
		}
	}
	if len(ret) == 0 {
		return nil
	}
	return ret
}
