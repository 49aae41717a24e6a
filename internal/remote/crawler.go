package remote

import (
	"context"
	"fmt"

	"github.com/starford/mixport/internal/models"
	"github.com/starford/mixport/internal/retry"
)

// API is the subset of Client used by the crawler.
type API interface {
	ListPage(ctx context.Context, cursor string) (models.Page, error)
	GetNote(ctx context.Context, id models.ID) (models.Note, error)
}

// Crawler walks the note listing one page at a time. Every request is retried
// under policy; exhausting it is fatal to the caller.
type Crawler struct {
	api    API
	policy retry.Policy
}

// NewCrawler creates a Crawler.
func NewCrawler(api API, policy retry.Policy) *Crawler {
	return &Crawler{api: api, policy: policy}
}

// NextPage fetches the page after cursor ("" for the first page).
func (c *Crawler) NextPage(ctx context.Context, cursor string) (models.Page, error) {
	page, err := retry.Do(ctx, c.policy, func(ctx context.Context) (models.Page, error) {
		return c.api.ListPage(ctx, cursor)
	})
	if err != nil {
		return models.Page{}, fmt.Errorf("remote: list page: %w", err)
	}
	page.Count = len(page.Entries)
	return page, nil
}

// Note resolves the full record for one listing entry.
func (c *Crawler) Note(ctx context.Context, id models.ID) (models.Note, error) {
	note, err := retry.Do(ctx, c.policy, func(ctx context.Context) (models.Note, error) {
		return c.api.GetNote(ctx, id)
	})
	if err != nil {
		return models.Note{}, fmt.Errorf("remote: note %s: %w", id, err)
	}
	return note, nil
}
