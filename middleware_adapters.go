package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/realistikosu/userpages/middleware"
)

var errNoUser = errors.New("user not found in context")

// TailscaleClientAdapter narrows the tailscale local client to what the
// auth middleware needs.
type TailscaleClientAdapter struct {
	client TailscaleClient
}

func NewTailscaleClientAdapter(client TailscaleClient) *TailscaleClientAdapter {
	return &TailscaleClientAdapter{client: client}
}

func (a *TailscaleClientAdapter) WhoIs(ctx context.Context, remoteAddr string) (*middleware.WhoIsResponse, error) {
	resp, err := a.client.WhoIs(ctx, remoteAddr)
	if err != nil {
		return nil, err
	}

	if resp == nil || resp.UserProfile == nil {
		return &middleware.WhoIsResponse{}, nil
	}

	return &middleware.WhoIsResponse{
		UserProfile: &middleware.UserProfile{
			LoginName:   resp.UserProfile.LoginName,
			DisplayName: resp.UserProfile.DisplayName,
		},
	}, nil
}

// MemberStoreAdapter exposes the member queries as a middleware.MemberStore.
type MemberStoreAdapter struct {
	queries Querier
}

func NewMemberStoreAdapter(queries Querier) *MemberStoreAdapter {
	return &MemberStoreAdapter{queries: queries}
}

func (a *MemberStoreAdapter) CreateOrReturnID(ctx context.Context, email string) (middleware.MemberRow, error) {
	row, err := a.queries.CreateOrReturnID(ctx, email)
	if err != nil {
		return middleware.MemberRow{}, err
	}

	return middleware.MemberRow{
		ID:        row.ID,
		IsAdmin:   row.IsAdmin,
		IsBlocked: row.IsBlocked,
	}, nil
}

// ConvertTelemetryConfig hands the HTTP instruments to the middleware.
func ConvertTelemetryConfig(tc *TelemetryConfig) *middleware.TelemetryConfig {
	if tc == nil {
		return nil
	}

	return &middleware.TelemetryConfig{
		ServiceName: tc.ServiceName,
		Tracer:      tc.Tracer,
		Meter:       tc.Meter,
		Metrics: middleware.TelemetryMetrics{
			RequestCounter:  tc.Metrics.RequestCounter,
			RequestDuration: tc.Metrics.RequestDuration,
			ErrorCounter:    tc.Metrics.ErrorCounter,
		},
	}
}

// GetUser returns the member the auth middleware resolved for r.
func GetUser(r *http.Request) (*middleware.ContextUser, error) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		return nil, errNoUser
	}
	return user, nil
}
