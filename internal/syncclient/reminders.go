package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/marcus/rem/internal/models"
)

// PageSize is the page size requested when listing reminders.
const PageSize = 100

// maxPages guards against a server that never reports the last page.
const maxPages = 10000

// Page is the paginated list envelope.
type Page struct {
	Content       []models.RemoteReminder `json:"content"`
	TotalElements int64                   `json:"totalElements"`
	TotalPages    int                     `json:"totalPages"`
	Size          int                     `json:"size"`
	Number        int                     `json:"number"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrListingChanged means the server's list changed between page requests,
// so the collected pages are not a consistent snapshot.
var ErrListingChanged = errors.New("reminder list changed while paging")

// listingAttempts bounds how often a drifting listing is restarted.
const listingAttempts = 3

// FetchReminders returns every reminder, following pages. A bare JSON array
// response is accepted as the complete list. A listing that changes while it
// is paged is restarted from the first page, because a row shifted across a
// page boundary would otherwise look deleted.
func (c *Client) FetchReminders(ctx context.Context) ([]models.RemoteReminder, error) {
	for attempt := 1; attempt <= listingAttempts; attempt++ {
		all, err := c.fetchPages(ctx)
		if !errors.Is(err, ErrListingChanged) {
			return all, err
		}
		slog.Debug("syncclient: listing changed while paging", "attempt", attempt)
	}
	return nil, ErrListingChanged
}

func (c *Client) fetchPages(ctx context.Context) ([]models.RemoteReminder, error) {
	var all []models.RemoteReminder
	total := int64(-1)
	for page := 0; page < maxPages; page++ {
		var raw json.RawMessage
		path := fmt.Sprintf("/api/reminders?page=%d&size=%d", page, PageSize)
		if err := c.Request(ctx, RequestSpec{Method: http.MethodGet, Path: path}, &raw); err != nil {
			return nil, err
		}

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var list []models.RemoteReminder
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, fmt.Errorf("decode reminders: %w", err)
			}
			return append(all, list...), nil
		}

		var p Page
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, fmt.Errorf("decode reminders page: %w", err)
		}
		if total < 0 {
			total = p.TotalElements
		} else if p.TotalElements != total {
			return nil, ErrListingChanged
		}
		all = append(all, p.Content...)
		if len(p.Content) == 0 || p.Number+1 >= p.TotalPages {
			// A zero total is a server that does not count; trust the pages.
			if total > 0 && int64(len(all)) != total {
				return nil, ErrListingChanged
			}
			return all, nil
		}
	}
	return nil, errors.New("reminders listing exceeded page limit")
}

// GetReminder returns one reminder.
func (c *Client) GetReminder(ctx context.Context, id int64) (*models.RemoteReminder, error) {
	var r models.RemoteReminder
	if err := c.Request(ctx, RequestSpec{Method: http.MethodGet, Path: fmt.Sprintf("/api/reminders/%d", id)}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReminder creates a reminder and returns the server copy.
func (c *Client) CreateReminder(ctx context.Context, p models.ReminderPatch) (*models.RemoteReminder, error) {
	var r models.RemoteReminder
	if err := c.Request(ctx, RequestSpec{Method: http.MethodPost, Path: "/api/reminders", Body: p}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReminder applies p to reminder id. A non-empty baseVersion is sent
// as If-Match; the server answers 409 when its copy has moved on.
func (c *Client) UpdateReminder(ctx context.Context, id int64, p models.ReminderPatch, baseVersion string) (*models.RemoteReminder, error) {
	var r models.RemoteReminder
	err := c.Request(ctx, RequestSpec{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/api/reminders/%d", id),
		Body:   p,
		Header: versionHeader(baseVersion),
	}, &r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteReminder deletes reminder id. Deleting a reminder the server no
// longer has succeeds.
func (c *Client) DeleteReminder(ctx context.Context, id int64, baseVersion string) error {
	err := c.Request(ctx, RequestSpec{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/api/reminders/%d", id),
		Header: versionHeader(baseVersion),
	}, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// HealthCheck probes the server once, without credentials or retries.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.Request(ctx, RequestSpec{Method: http.MethodGet, Path: "/healthz", NoAuth: true, NoRetry: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func versionHeader(v string) http.Header {
	if v == "" {
		return nil
	}
	return http.Header{"If-Match": []string{v}}
}
