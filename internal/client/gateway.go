package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkalinin/tokengate/internal/logger"
	"github.com/pkalinin/tokengate/internal/models"
	"github.com/pkalinin/tokengate/internal/service/auth"
)

const defaultTimeout = 10 * time.Second

// RequestFactory builds the request to send. The gateway may call it
// twice: requests are consumed on send, so a retry needs a fresh one.
type RequestFactory func(ctx context.Context) (*http.Request, error)

// Gateway sends authenticated requests for a client app. On 401 it
// rotates the stored pair once and retries the request with the new
// access token. All rotation happens behind the caller's back.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	sessions   SessionStore
	logger     logger.Logger

	// Serializes refresh, so a burst of 401s makes one rotation
	refreshMu sync.Mutex
}

func NewGateway(baseURL string, sessions SessionStore, l logger.Logger) *Gateway {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Gateway{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		sessions:   sessions,
		logger:     l,
	}
}

// Do sends the request built by the factory.
// With requireAuth the stored access token is attached as bearer and a 401
// answer triggers one refresh-and-retry. Without requireAuth the request is
// sent as is and never refreshed.
func (g *Gateway) Do(ctx context.Context, requireAuth bool, build RequestFactory) (*http.Response, error) {
	var session Session
	if requireAuth {
		var ok bool
		session, ok = g.sessions.Load()
		if !ok {
			return nil, ErrAuthExpired
		}
	}

	resp, err := g.send(ctx, build, session.AccessToken)
	if err != nil || !requireAuth || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	resp.Body.Close()

	fresh, err := g.refreshSession(ctx, session)
	if err != nil {
		return nil, err
	}

	return g.send(ctx, build, fresh.AccessToken)
}

// Principal rebuilds the user info from the stored access token claims.
// The token is not verified here: the client trusts what it got at login.
func (g *Gateway) Principal() (models.Principal, error) {
	session, ok := g.sessions.Load()
	if !ok {
		return models.Principal{}, ErrAuthExpired
	}

	claims, err := auth.DecodeClaims(session.AccessToken)
	if err != nil {
		return models.Principal{}, fmt.Errorf("decode stored token: %w", err)
	}

	userID, err := claims.UserID()
	if err != nil {
		return models.Principal{}, fmt.Errorf("decode stored token: %w", err)
	}

	return models.Principal{
		UserID:   userID,
		Name:     claims.Name,
		Role:     claims.Role,
		FamilyID: claims.FamilyID,
	}, nil
}

func (g *Gateway) send(ctx context.Context, build RequestFactory, accessToken string) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return g.httpClient.Do(req)
}

// refreshSession rotates the stale pair through the server.
// Whatever goes wrong the session is dropped: a pair that failed to
// rotate may already be burned server side and is not worth keeping.
func (g *Gateway) refreshSession(ctx context.Context, stale Session) (Session, error) {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	// Another request may have rotated the pair while we waited
	current, ok := g.sessions.Load()
	if !ok {
		return Session{}, ErrAuthExpired
	}
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}

	var pair tokenPairBody
	err := g.postJSON(ctx, "/api/auth/refresh", tokenPairBody{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
	}, &pair)
	if err != nil {
		g.sessions.Clear()
		g.logger.Warn("session refresh failed", "err", err)
		return Session{}, ErrAuthExpired
	}

	next := Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	g.sessions.Store(next)
	return next, nil
}

type tokenPairBody struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// postJSON posts the body to the api path and decodes a 200 answer into out.
// Non 200 answers turn into a plain error with the status code.
func (g *Gateway) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
