package hubspot

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
	"github.com/canectors/cdp-inventory/internal/logger"
)

type objectsPage struct {
	Results []struct {
		Properties map[string]interface{} `json:"properties"`
	} `json:"results"`
	Paging *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

func (p objectsPage) nextCursor() string {
	if p.Paging == nil || p.Paging.Next == nil {
		return ""
	}
	return p.Paging.Next.After
}

// pager walks the records of one object type with the "after" cursor.
type pager struct {
	api        *httpclient.Client
	objectType string
	properties []string
	limit      int
	cursor     string
	started    bool
	seen       map[string]struct{}
}

func newPager(api *httpclient.Client, objectType string, properties []string, limit int) *pager {
	return &pager{
		api:        api,
		objectType: objectType,
		properties: properties,
		limit:      limit,
		seen:       make(map[string]struct{}),
	}
}

func (p *pager) hasMore() bool {
	return !p.started || p.cursor != ""
}

func (p *pager) next(ctx context.Context) (objectsPage, error) {
	query := url.Values{"limit": {strconv.Itoa(p.limit)}}
	if len(p.properties) > 0 {
		query.Set("properties", strings.Join(p.properties, ","))
	}
	if p.cursor != "" {
		query.Set("after", p.cursor)
	}

	var page objectsPage
	if err := p.api.GetJSON(ctx, "crm/v3/objects/"+p.objectType, query, &page); err != nil {
		return objectsPage{}, err
	}

	p.started = true
	p.cursor = page.nextCursor()
	if p.cursor != "" {
		if _, dup := p.seen[p.cursor]; dup {
			return objectsPage{}, errhandling.NewUnexpectedError(
				"HubSpot pagination returned a repeated cursor "+p.cursor, nil)
		}
		p.seen[p.cursor] = struct{}{}
	}

	logger.FromContext(ctx).Debug("fetched hubspot page",
		slog.String("object_type", p.objectType),
		slog.Int("records", len(page.Results)),
		slog.String("next_cursor", p.cursor),
	)
	return page, nil
}

// count returns the number of records and the populated count of each
// property. Empty strings count as missing.
func (p *pager) count(ctx context.Context) (int, map[string]int, error) {
	counts := make(map[string]int, len(p.properties))
	total := 0
	for p.hasMore() {
		page, err := p.next(ctx)
		if err != nil {
			return 0, nil, err
		}
		total += len(page.Results)
		for _, record := range page.Results {
			for _, name := range p.properties {
				if populated(record.Properties[name]) {
					counts[name]++
				}
			}
		}
	}
	return total, counts, nil
}

func populated(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	default:
		return true
	}
}
