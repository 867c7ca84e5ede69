// Package client defines the firm's clients and their contact channels.
package client

import "time"

// Client is a firm client on whose behalf tasks are filed and invoiced.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasContactChannel reports whether the client can receive notifications.
func (c *Client) HasContactChannel() bool {
	return c.Email != "" || c.Phone != ""
}

// Store persists and retrieves clients.
type Store interface {
	// Create persists a new client and returns its assigned ID.
	Create(c *Client) (string, error)

	// Get retrieves a client by ID.
	Get(id string) (*Client, error)

	// Update saves changes to an existing client.
	Update(c *Client) error

	// List returns all clients ordered by name.
	List() ([]*Client, error)
}
