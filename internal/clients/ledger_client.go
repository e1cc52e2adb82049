// internal/clients/ledger_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libris/internal/circulation"
)

// CreateBorrow borrows one copy and reads the new record back.
func (c *Client) CreateBorrow(ctx context.Context, email string, bookID uuid.UUID) (*circulation.Borrow, error) {
	req := map[string]string{"email": email, "book_id": bookID.String()}
	var resp struct {
		BorrowID uuid.UUID `json:"borrow_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/borrow", req, http.StatusCreated, &resp); err != nil {
		return nil, err
	}
	return c.GetBorrow(ctx, resp.BorrowID)
}

// ReturnBorrow returns the copy and reads the closed record back.
func (c *Client) ReturnBorrow(ctx context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	if err := c.do(ctx, http.MethodDelete, "/borrow/"+id.String(), nil, http.StatusOK, nil); err != nil {
		return nil, err
	}
	return c.GetBorrow(ctx, id)
}

func (c *Client) GetBorrow(ctx context.Context, id uuid.UUID) (*circulation.Borrow, error) {
	var borrow circulation.Borrow
	if err := c.do(ctx, http.MethodGet, "/borrow/"+id.String(), nil, http.StatusOK, &borrow); err != nil {
		return nil, err
	}
	return &borrow, nil
}
