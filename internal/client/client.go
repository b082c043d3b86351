// Package client talks to the car parts API on behalf of terminal tools.
//
// Auth state lives in an explicit Session value. A SessionStore persists it
// between runs; nothing is kept in package globals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carparts/backend/internal/domain"
)

var ErrNotLoggedIn = errors.New("not logged in")

// APIError is a non-2xx response. Message is the server's "message" field.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Session struct {
	Token     string              `json:"token"`
	ExpiresAt string              `json:"expiresAt,omitempty"`
	User      domain.AuthResponse `json:"user"`
}

func (s *Session) Valid() bool {
	return s != nil && s.Token != ""
}

type SessionStore struct {
	path string
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// Load returns nil without error when no session has been saved.
func (s *SessionStore) Load() (*Session, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("session file %s: %w", s.path, err)
	}
	return &session, nil
}

func (s *SessionStore) Save(session *Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *SessionStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Use(session *Session) {
	c.session = session
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var resp domain.AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", false, domain.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	session := &Session{Token: resp.Token, ExpiresAt: resp.ExpiresAt, User: resp}
	session.User.Token = ""
	c.session = session
	return session, nil
}

func (c *Client) Logout() {
	c.session = nil
}

func (c *Client) PartByBarcode(ctx context.Context, barcode string) (domain.PartDetail, error) {
	var part domain.PartDetail
	err := c.do(ctx, http.MethodGet, "/api/parts/barcode/"+url.PathEscape(barcode), true, nil, &part)
	return part, err
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderDetail, error) {
	var order domain.OrderDetail
	err := c.do(ctx, http.MethodPost, "/api/orders", true, req, &order)
	return order, err
}

func (c *Client) Receipt(ctx context.Context, orderID string) (string, error) {
	var resp domain.ReceiptResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(orderID)+"/receipt", true, nil, &resp); err != nil {
		return "", err
	}
	return resp.Data.Receipt, nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, body any, out any) error {
	if authed && !c.session.Valid() {
		return ErrNotLoggedIn
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(res.Body).Decode(&payload)
		if payload.Message == "" {
			payload.Message = http.StatusText(res.StatusCode)
		}
		return &APIError{Status: res.StatusCode, Message: payload.Message}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
