// internal/clients/catalog_client.go
package clients

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"libris/internal/catalog"
)

func (c *Client) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String(), nil, http.StatusOK, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *Client) ListBooks(ctx context.Context) ([]*catalog.Book, error) {
	var books []*catalog.Book
	if err := c.do(ctx, http.MethodGet, "/books", nil, http.StatusOK, &books); err != nil {
		return nil, err
	}
	return books, nil
}

type createdResponse struct {
	ID uuid.UUID `json:"id"`
}

func (c *Client) CreateAuthor(ctx context.Context, firstName, lastName string) (uuid.UUID, error) {
	req := map[string]string{"first_name": firstName, "last_name": lastName}
	var resp createdResponse
	if err := c.do(ctx, http.MethodPost, "/authors", req, http.StatusCreated, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ID, nil
}

func (c *Client) CreateBook(ctx context.Context, title string, authorID uuid.UUID, stock int) (uuid.UUID, error) {
	req := map[string]any{"title": title, "author_id": authorID, "stock": stock}
	var resp createdResponse
	if err := c.do(ctx, http.MethodPost, "/books", req, http.StatusCreated, &resp); err != nil {
		return uuid.Nil, err
	}
	return resp.ID, nil
}
