package klaviyo

import (
	"context"
	"errors"
	"fmt"
)

// ErrStopPaging can be returned by a page callback to end pagination
// early without surfacing an error.
var ErrStopPaging = errors.New("stop paging")

// GetPaginated streams pages to fn, following next-cursor links until
// the upstream stops returning one. Pagination is restartable: seed
// params.Page.Cursor to resume. The page cap bounds runaway cursor
// chains.
func (c *Client) GetPaginated(ctx context.Context, path string, params Params, fn func(*Response) error) error {
	cursor := params.Page.Cursor
	for page := 0; page < c.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		params.Page.Cursor = cursor

		resp, err := c.Get(ctx, path, params)
		if err != nil {
			return err
		}
		if err := fn(resp); err != nil {
			if errors.Is(err, ErrStopPaging) {
				return nil
			}
			return err
		}

		// An absent next link ends pagination even when the page was full.
		cursor = resp.Links.NextCursor()
		if cursor == "" {
			return nil
		}
	}
	return fmt.Errorf("pagination for %s exceeded %d pages", path, c.maxPages)
}
