package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// FlexString decodes JSON strings, numbers, booleans and null into a string,
// since the ticket API is not consistent about scalar types across deployments.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	switch {
	case len(data) == 0 || string(data) == "null":
		*s = ""
		return nil
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	default:
		*s = FlexString(data)
		return nil
	}
}

// String returns the decoded value.
func (s FlexString) String() string {
	return string(s)
}

// Ticket is a ticket record as returned by the backend.
type Ticket struct {
	ID                 FlexString `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	StatusName         string     `json:"status_name"`
	CategoryName       string     `json:"category_name"`
	AccountName        string     `json:"account_name"`
	PersonInChargeName string     `json:"person_in_charge_name"`
	Priority           FlexString `json:"priority"`
	CreatedAt          string     `json:"created_at"`
	UpdatedAt          string     `json:"updated_at"`
}

// HistoryEntry is a single ticket history record.
type HistoryEntry struct {
	CreatedAt string `json:"created_at"`
	Content   string `json:"content"`
	UserName  string `json:"user_name"`
}

// ListTickets returns tickets matching the search term, at most limit items.
// The backend wraps the list in a "tickets" envelope on newer versions and
// returns a bare array on older ones; both are accepted.
func (c *Client) ListTickets(ctx context.Context, search string, limit int) ([]Ticket, error) {
	query := url.Values{}
	if search != "" {
		query.Set("search", search)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.Get(ctx, "tickets", query)
	if err != nil {
		return nil, err
	}
	return decodeTicketList(raw)
}

// GetTicket fetches a single ticket by id.
func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	raw, err := c.Get(ctx, "tickets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	ticket := &Ticket{}
	if err := json.Unmarshal(raw, ticket); err != nil {
		return nil, fmt.Errorf("failed to decode ticket %s: %w", id, err)
	}
	return ticket, nil
}

// GetTicketHistory fetches the history entries of a ticket, oldest first.
func (c *Client) GetTicketHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	raw, err := c.Get(ctx, "tickets/"+url.PathEscape(id)+"/history", nil)
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}
	envelope := struct {
		History []HistoryEntry `json:"history"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode history of ticket %s: %w", id, err)
	}
	return envelope.History, nil
}

// CreateTicket creates a ticket from the given fields and returns the raw record.
func (c *Client) CreateTicket(ctx context.Context, fields map[string]interface{}) (json.RawMessage, error) {
	return c.Post(ctx, "tickets", fields)
}

// UpdateTicket updates the given fields of a ticket and returns the raw record.
func (c *Client) UpdateTicket(ctx context.Context, id string, fields map[string]interface{}) (json.RawMessage, error) {
	return c.Put(ctx, "tickets/"+url.PathEscape(id), fields)
}

// AddTicketHistory appends a history comment to a ticket.
func (c *Client) AddTicketHistory(ctx context.Context, id, content string) (json.RawMessage, error) {
	return c.Post(ctx, "tickets/"+url.PathEscape(id)+"/history", map[string]string{"content": content})
}

func decodeTicketList(raw json.RawMessage) ([]Ticket, error) {
	var tickets []Ticket
	if err := json.Unmarshal(raw, &tickets); err == nil {
		return tickets, nil
	}
	envelope := struct {
		Tickets []Ticket `json:"tickets"`
	}{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode ticket list: %w", err)
	}
	return envelope.Tickets, nil
}
