package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"tailscale.com/client/tailscale/apitype"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tailcfg"
)

type MockQueries struct {
	inTransaction           bool
	CreateOrReturnIDFunc    func(ctx context.Context, email string) (CreateOrReturnIDRow, error)
	GetMemberFunc           func(ctx context.Context, id int64) (Member, error)
	GetMemberByUsernameFunc func(ctx context.Context, username string) (Member, error)
	GetUserpageFunc         func(ctx context.Context, memberID int64) (Userpage, error)
	UpsertUserpageFunc      func(ctx context.Context, arg UpsertUserpageParams) error

	// Upserts records every UpsertUserpage call that reached the default.
	Upserts []UpsertUserpageParams
}

func (m *MockQueries) CreateOrReturnID(ctx context.Context, pEmail string) (CreateOrReturnIDRow, error) {
	if m.CreateOrReturnIDFunc != nil {
		return m.CreateOrReturnIDFunc(ctx, pEmail)
	}

	return CreateOrReturnIDRow{
		ID:        1,
		IsAdmin:   false,
		IsBlocked: false,
	}, nil
}

func (m *MockQueries) GetMember(ctx context.Context, id int64) (Member, error) {
	if m.GetMemberFunc != nil {
		return m.GetMemberFunc(ctx, id)
	}

	return Member{
		ID:         id,
		Email:      "mock@example.com",
		DateJoined: pgtype.Timestamptz{Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Valid: true},
	}, nil
}

func (m *MockQueries) GetMemberByUsername(ctx context.Context, username string) (Member, error) {
	if m.GetMemberByUsernameFunc != nil {
		return m.GetMemberByUsernameFunc(ctx, username)
	}

	if username != "mock" {
		return Member{}, pgx.ErrNoRows
	}
	return m.GetMember(ctx, 1)
}

func (m *MockQueries) GetUserpage(ctx context.Context, memberID int64) (Userpage, error) {
	if m.GetUserpageFunc != nil {
		return m.GetUserpageFunc(ctx, memberID)
	}

	return Userpage{
		MemberID:  memberID,
		Body:      "[b]mock userpage[/b]",
		UpdatedAt: pgtype.Timestamptz{Time: time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC), Valid: true},
	}, nil
}

func (m *MockQueries) UpsertUserpage(ctx context.Context, arg UpsertUserpageParams) error {
	if m.UpsertUserpageFunc != nil {
		return m.UpsertUserpageFunc(ctx, arg)
	}

	m.Upserts = append(m.Upserts, arg)
	return nil
}

func (m *MockQueries) WithTx(pgx.Tx) ExtendedQuerier {
	m.inTransaction = true
	return m
}

type MockTailscaleClient struct {
	WhoIsFunc         func(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
	ExpandSNINameFunc func(ctx context.Context, hostname string) (string, bool)
	StatusFunc        func(ctx context.Context) (*ipnstate.Status, error)
}

func (m *MockTailscaleClient) WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error) {
	if m.WhoIsFunc != nil {
		return m.WhoIsFunc(ctx, remoteAddr)
	}

	return &apitype.WhoIsResponse{
		UserProfile: &tailcfg.UserProfile{
			LoginName:   "mock@example.com",
			DisplayName: "Mock User",
		},
	}, nil
}

func (m *MockTailscaleClient) ExpandSNIName(ctx context.Context, hostname string) (string, bool) {
	if m.ExpandSNINameFunc != nil {
		return m.ExpandSNINameFunc(ctx, hostname)
	}
	return "", false
}

func (m *MockTailscaleClient) Status(ctx context.Context) (*ipnstate.Status, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx)
	}

	return &ipnstate.Status{
		BackendState: "Running",
		CertDomains:  []string{"tsnet.example.com"},
	}, nil
}

func (m *MockTailscaleClient) StatusWithoutPeers(ctx context.Context) (*ipnstate.Status, error) {
	return m.Status(ctx)
}
