package intake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

var admin = ledger.Creator{Type: ledger.CreatorAdmin, ID: "admin-1"}

func TestRequestAddUser_CreatesProcessingUserAndRequest(t *testing.T) {
	// GIVEN
	e := newEnv(t)
	ctx := context.Background()

	// WHEN
	req, err := e.svc.RequestAddUser(ctx, admin, intake.NewUser{Email: " Ada@Example.com ", Name: "Ada", Role: ledger.RoleInvestor})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceInitiated, req.Status)
	assert.Equal(t, ledger.ActionAddUser, req.Action.Name)
	assert.Equal(t, now, req.Date)

	payload := req.Action.Payload.(ledger.AddUser)
	u, err := e.store.GetUser(ctx, payload.UserID)
	require.NoError(t, err)
	assert.Equal(t, ledger.UserProcessing, u.Status)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "dir-ada@example.com", u.DirectoryID)
	assert.Equal(t, u.ID, req.RelatedUserID)

	require.Len(t, e.notifier.got, 1)
	assert.True(t, e.notifier.got[0].IsCompliance)
}

func TestRequestAddUser_Guards(t *testing.T) {
	e := newEnv(t)
	e.user(t, "taken", ledger.RoleInvestor, ledger.UserActive)
	ctx := context.Background()

	_, err := e.svc.RequestAddUser(ctx, admin, intake.NewUser{Email: "not-an-email", Name: "X", Role: ledger.RoleInvestor})
	requireKind(t, err, ledger.KindValidation, nil)

	_, err = e.svc.RequestAddUser(ctx, admin, intake.NewUser{Email: "a@b.c", Name: "X", Role: "pirate"})
	requireKind(t, err, ledger.KindValidation, nil)

	_, err = e.svc.RequestAddUser(ctx, admin, intake.NewUser{Email: "TAKEN@example.com", Name: "X", Role: ledger.RoleInvestor})
	requireKind(t, err, ledger.KindBusiness, ledger.ErrEmailTaken)
}

func TestRequestAddUser_DirectoryFailureLeavesNothing(t *testing.T) {
	e := newEnv(t)
	e.dir.CreateUserFunc = func(context.Context, directory.Profile) (string, error) {
		return "", errors.New("directory down")
	}

	_, err := e.svc.RequestAddUser(context.Background(), admin, intake.NewUser{Email: "a@b.c", Name: "A", Role: ledger.RoleIssuer})

	require.Error(t, err)
	u, _ := e.store.FindUserByEmail(context.Background(), "a@b.c")
	assert.Nil(t, u)
	_, total, _ := e.store.ListComplianceRequests(context.Background(), ledger.ComplianceFilter{})
	assert.Zero(t, total)
}

func TestRequestDeactivateUser_OnlyOncePerUser(t *testing.T) {
	e := newEnv(t)
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
	ctx := context.Background()

	_, err := e.svc.RequestDeactivateUser(ctx, admin, "inv-1")
	require.NoError(t, err)
	u, _ := e.store.GetUser(ctx, "inv-1")
	assert.True(t, u.IsRequestDeactivate)

	_, err = e.svc.RequestDeactivateUser(ctx, admin, "inv-1")
	requireKind(t, err, ledger.KindBusiness, ledger.ErrDeactivatePending)

	_, err = e.svc.RequestDeactivateUser(ctx, admin, "ghost")
	requireKind(t, err, ledger.KindNotFound, nil)
}

func TestRequestUpdateUser(t *testing.T) {
	e := newEnv(t)
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
	e.user(t, "inv-2", ledger.RoleInvestor, ledger.UserActive)
	ctx := context.Background()

	_, err := e.svc.RequestUpdateUser(ctx, admin, "inv-1", ledger.UserPatch{})
	requireKind(t, err, ledger.KindValidation, nil)

	taken := "INV-2@example.com"
	_, err = e.svc.RequestUpdateUser(ctx, admin, "inv-1", ledger.UserPatch{Email: &taken})
	requireKind(t, err, ledger.KindBusiness, ledger.ErrEmailTaken)

	// Keeping one's own address is not a conflict
	own := "inv-1@example.com"
	name := "Renamed"
	req, err := e.svc.RequestUpdateUser(ctx, admin, "inv-1", ledger.UserPatch{Name: &name, Email: &own})
	require.NoError(t, err)
	payload := req.Action.Payload.(ledger.UpdateUser)
	assert.Equal(t, "Renamed", *payload.Patch.Name)

	// Nothing changes before review
	u, _ := e.store.GetUser(ctx, "inv-1")
	assert.Equal(t, "inv-1", u.Name)
}

func TestRequestDeleteUser(t *testing.T) {
	e := newEnv(t)
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)

	req, err := e.svc.RequestDeleteUser(context.Background(), ledger.Creator{Type: ledger.CreatorUser, ID: "inv-1"}, "inv-1")

	require.NoError(t, err)
	assert.Equal(t, ledger.DeleteUser{UserID: "inv-1"}, req.Action.Payload)
	assert.Equal(t, ledger.CreatorUser, req.Creator.Type)
}
