package authapi

import (
	"time"

	"relay/cmd/internal/auth/session"
)

type issueRequest struct {
	UserID         string    `json:"user_id"`
	RefreshTokenID string    `json:"refresh_token_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	DeviceInfo     string    `json:"device_info,omitempty"`
	IP             string    `json:"ip,omitempty"`
}

type issueResponse struct {
	FamilyID string `json:"family_id"`
}

type refreshRequest struct {
	UserID            string    `json:"user_id"`
	RefreshTokenID    string    `json:"refresh_token_id"`
	NewRefreshTokenID string    `json:"new_refresh_token_id"`
	NewExpiresAt      time.Time `json:"new_expires_at"`
}

type refreshResponse struct {
	FamilyID string `json:"family_id"`
	GrantID  string `json:"grant_id"`
}

type logoutRequest struct {
	UserID          string    `json:"user_id"`
	AccessTokenID   string    `json:"access_token_id"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	RefreshTokenID  string    `json:"refresh_token_id"`
}

type logoutAllRequest struct {
	UserID string `json:"user_id"`
}

type logoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type sessionsResponse struct {
	Sessions []session.SessionView `json:"sessions"`
}

type revokeSessionRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type revokeSessionResponse struct {
	Revoked bool `json:"revoked"`
}
