package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/pkalinin/tokengate/internal/models"
)

// Login starts a new session and returns the principal decoded from
// the fresh access token, so no extra roundtrip is needed
func (g *Gateway) Login(ctx context.Context, username string, password string) (models.Principal, error) {
	type loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	var pair tokenPairBody
	err := g.postJSON(ctx, "/api/auth/login", loginRequest{Username: username, Password: password}, &pair)
	if err != nil {
		return models.Principal{}, fmt.Errorf("login: %w", err)
	}

	g.sessions.Store(Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})

	principal, err := g.Principal()
	if err != nil {
		g.sessions.Clear()
		return models.Principal{}, fmt.Errorf("login: %w", err)
	}
	return principal, nil
}

// Register creates the user. It does not login: the caller decides when
func (g *Gateway) Register(ctx context.Context, username, password, name, role string) error {
	type registerRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Name     string `json:"name"`
		Role     string `json:"role"`
	}

	err := g.postJSON(ctx, "/api/auth/register", registerRequest{
		Username: username,
		Password: password,
		Name:     name,
		Role:     role,
	}, nil)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Revoke burns the current session server side and drops it locally.
// Local session is dropped even if the server call fails.
func (g *Gateway) Revoke(ctx context.Context) error {
	session, ok := g.sessions.Load()
	if !ok {
		return nil
	}
	defer g.sessions.Clear()

	err := g.postJSON(ctx, "/api/auth/revoke", tokenPairBody{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	}, nil)
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	return nil
}

// Me asks the server who the session belongs to. Goes through Do, so an
// expired access token is rotated transparently.
func (g *Gateway) Me(ctx context.Context) (models.Principal, error) {
	resp, err := g.Do(ctx, true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/me", nil)
	})
	if err != nil {
		return models.Principal{}, fmt.Errorf("me: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Principal{}, fmt.Errorf("me: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		UserID   uuid.UUID `json:"userId"`
		Name     string    `json:"name"`
		Role     string    `json:"role"`
		FamilyID string    `json:"familyId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Principal{}, fmt.Errorf("me: decode response: %w", err)
	}

	return models.Principal{
		UserID:   body.UserID,
		Name:     body.Name,
		Role:     body.Role,
		FamilyID: body.FamilyID,
	}, nil
}
