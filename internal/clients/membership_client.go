// internal/clients/membership_client.go
package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

func (c *Client) Register(ctx context.Context, username, password, email string) (uuid.UUID, error) {
	req := map[string]string{"username": username, "password": password, "email": email}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", req, http.StatusCreated, &resp); err != nil {
		return uuid.Nil, fmt.Errorf("register: %w", err)
	}
	return resp.ID, nil
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, username, password string) error {
	req := map[string]string{"email": email, "username": username, "password": password}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", req, http.StatusOK, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.token = resp.AccessToken
	return nil
}
