// Package main provides a CI-friendly smoke test for the Relay session API.
//
// It validates:
//   - health endpoint
//   - session issuance
//   - refresh rotation (family preserved)
//   - replayed refresh token rejected and whole family revoked
//   - logout blocks the access token on guarded routes
//   - session directory list/revoke round trip
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type smokeClient struct {
	base    string
	http    *http.Client
	timeout time.Duration
	verbose bool
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Relay server base URL")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	c := &smokeClient{
		base:    strings.TrimRight(*baseURL, "/"),
		http:    &http.Client{},
		timeout: *timeout,
		verbose: *verbose,
	}

	root := context.Background()
	user := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	expiry := time.Now().UTC().Add(time.Hour)

	c.mustHealthy(root)

	// Login session A.
	familyA := c.mustIssue(root, user, "rt-a1", expiry, "smoke/desktop")
	c.logf("issued: family=%s", familyA)

	// Rotate A once; the family must survive the rotation.
	family, grantID := c.mustRefresh(root, user, "rt-a1", "rt-a2", expiry)
	if family != familyA {
		fatalf("refresh left the family: got=%q want=%q", family, familyA)
	}
	c.logf("rotated: grant=%s", grantID)

	// Replay the rotated token: uniform 401 and the family dies with it.
	c.mustRefreshRejected(root, user, "rt-a1", "rt-a3", expiry)
	c.mustRefreshRejected(root, user, "rt-a2", "rt-a4", expiry)
	c.logf("replay rejected, family revoked")

	// Fresh login session B for the directory and logout checks.
	c.mustIssue(root, user, "rt-b1", expiry, "smoke/mobile")

	sessions := c.mustListSessions(root, user, "at-b1")
	if len(sessions) != 1 {
		fatalf("directory: got=%d sessions want=1", len(sessions))
	}

	c.mustLogout(root, user, "at-b1", "rt-b1", expiry)

	// The blocked access token must be rejected by the guard now.
	status := c.listSessionsStatus(root, user, "at-b1")
	if status != http.StatusUnauthorized {
		fatalf("guard after logout: got=%d want=%d", status, http.StatusUnauthorized)
	}

	fmt.Printf("OK: user=%s family=%s\n", user, familyA)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *smokeClient) logf(format string, args ...any) {
	if c.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func (c *smokeClient) do(parent context.Context, method, path string, body any, bearer string) (int, []byte) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fatalf("encode %s %s: %v", method, path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &buf)
	if err != nil {
		fatalf("build %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("read %s %s: %v", method, path, err)
	}
	return resp.StatusCode, data
}

func (c *smokeClient) mustHealthy(parent context.Context) {
	status, _ := c.do(parent, http.MethodGet, "/healthz", nil, "")
	if status != http.StatusOK {
		fatalf("healthz: got=%d want=%d", status, http.StatusOK)
	}
}

func (c *smokeClient) mustIssue(parent context.Context, user, refreshTokenID string, expiresAt time.Time, device string) string {
	status, data := c.do(parent, http.MethodPost, "/auth/issue", map[string]any{
		"user_id":          user,
		"refresh_token_id": refreshTokenID,
		"expires_at":       expiresAt,
		"device_info":      device,
	}, "")
	if status != http.StatusOK {
		fatalf("issue: got=%d body=%s", status, data)
	}

	var res struct {
		FamilyID string `json:"family_id"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		fatalf("issue: bad body %q: %v", data, err)
	}
	if strings.TrimSpace(res.FamilyID) == "" {
		fatalf("issue: missing family_id in %s", data)
	}
	return res.FamilyID
}

func (c *smokeClient) mustRefresh(parent context.Context, user, oldID, newID string, expiresAt time.Time) (familyID, grantID string) {
	status, data := c.do(parent, http.MethodPost, "/auth/refresh", map[string]any{
		"user_id":              user,
		"refresh_token_id":     oldID,
		"new_refresh_token_id": newID,
		"new_expires_at":       expiresAt,
	}, "")
	if status != http.StatusOK {
		fatalf("refresh: got=%d body=%s", status, data)
	}

	var res struct {
		FamilyID string `json:"family_id"`
		GrantID  string `json:"grant_id"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		fatalf("refresh: bad body %q: %v", data, err)
	}
	return res.FamilyID, res.GrantID
}

func (c *smokeClient) mustRefreshRejected(parent context.Context, user, oldID, newID string, expiresAt time.Time) {
	status, data := c.do(parent, http.MethodPost, "/auth/refresh", map[string]any{
		"user_id":              user,
		"refresh_token_id":     oldID,
		"new_refresh_token_id": newID,
		"new_expires_at":       expiresAt,
	}, "")
	if status != http.StatusUnauthorized {
		fatalf("refresh replay: got=%d want=%d body=%s", status, http.StatusUnauthorized, data)
	}

	var res errorBody
	if err := json.Unmarshal(data, &res); err != nil {
		fatalf("refresh replay: bad body %q: %v", data, err)
	}
	if res.Error.Code != "invalid_session" {
		fatalf("refresh replay: code=%q want=%q", res.Error.Code, "invalid_session")
	}
}

func (c *smokeClient) mustListSessions(parent context.Context, user, bearer string) []json.RawMessage {
	status, data := c.do(parent, http.MethodGet, "/auth/sessions?user_id="+url.QueryEscape(user), nil, bearer)
	if status != http.StatusOK {
		fatalf("sessions: got=%d body=%s", status, data)
	}

	var res struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		fatalf("sessions: bad body %q: %v", data, err)
	}
	return res.Sessions
}

func (c *smokeClient) listSessionsStatus(parent context.Context, user, bearer string) int {
	status, _ := c.do(parent, http.MethodGet, "/auth/sessions?user_id="+url.QueryEscape(user), nil, bearer)
	return status
}

func (c *smokeClient) mustLogout(parent context.Context, user, accessTokenID, refreshTokenID string, accessExpiresAt time.Time) {
	status, data := c.do(parent, http.MethodPost, "/auth/logout", map[string]any{
		"user_id":           user,
		"access_token_id":   accessTokenID,
		"access_expires_at": accessExpiresAt,
		"refresh_token_id":  refreshTokenID,
	}, "")
	if status != http.StatusNoContent {
		fatalf("logout: got=%d body=%s", status, data)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
