package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/compliance-engine/intake"
	"github.com/warp/compliance-engine/ledger"
)

var adminCreator = ledger.Creator{Type: ledger.CreatorAdmin, ID: "admin-2"}

func TestAddUser_ApproveEnablesAccount(t *testing.T) {
	// GIVEN: a pending registration
	e := newEnv(t)
	ctx := context.Background()
	req, err := e.intake.RequestAddUser(ctx, adminCreator,
		intake.NewUser{Email: "ana@example.com", Name: "Ana", Role: ledger.RoleInvestor})
	require.NoError(t, err)
	userID := req.Action.EntityID

	// WHEN
	out, err := e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: the user is active and the directory account enabled with a password
	require.NoError(t, err)
	assert.Equal(t, ledger.ComplianceAccepted, out.Request.Status)
	assert.Equal(t, ledger.UserActive, e.getUser(t, userID).Status)

	patches := e.dir.patches["dir-ana@example.com"]
	require.Len(t, patches, 1)
	require.NotNil(t, patches[0].Enabled)
	assert.True(t, *patches[0].Enabled)
	require.NotNil(t, patches[0].Password)
	assert.Equal(t, "s3cret-pass", *patches[0].Password)

	require.Len(t, e.notifier.emails, 1)
	assert.Equal(t, "ana@example.com", e.notifier.emails[0].To)
	assert.Contains(t, e.notifier.emails[0].Body, "s3cret-pass")
	assert.Contains(t, e.notifier.texts(""), "User approved")
}

func TestAddUser_RejectStoresRemarks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req, err := e.intake.RequestAddUser(ctx, adminCreator,
		intake.NewUser{Email: "bo@example.com", Name: "Bo", Role: ledger.RoleIssuer})
	require.NoError(t, err)

	_, err = e.dispatcher.Reject(ctx, req.ID, officer, "missing KYC")

	require.NoError(t, err)
	got := e.getRequest(t, req.ID)
	assert.Equal(t, ledger.ComplianceRejected, got.Status)
	assert.Equal(t, "missing KYC", got.Remarks)
	assert.Equal(t, ledger.UserRejected, e.getUser(t, req.Action.EntityID).Status)
	assert.Empty(t, e.dir.patches)
	require.Len(t, e.notifier.emails, 1)
	assert.Contains(t, e.notifier.emails[0].Body, "missing KYC")
}

func TestAddUser_DirectoryFailureLeavesRequestInitiated(t *testing.T) {
	// GIVEN: the directory is down
	e := newEnv(t)
	ctx := context.Background()
	req, err := e.intake.RequestAddUser(ctx, adminCreator,
		intake.NewUser{Email: "cy@example.com", Name: "Cy", Role: ledger.RoleInvestor})
	require.NoError(t, err)
	e.dir.Err = errors.New("directory unavailable")

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: the request can be retried
	require.Error(t, err)
	assert.Equal(t, ledger.KindInternal, ledger.KindOf(err))
	assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, req.ID).Status)
	assert.Equal(t, ledger.UserProcessing, e.getUser(t, req.Action.EntityID).Status)

	e.dir.Err = nil
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)
	require.NoError(t, err)
}

func TestDeactivateUser(t *testing.T) {
	t.Run("approve disables the account", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		req, err := e.intake.RequestDeactivateUser(ctx, adminCreator, "inv-1")
		require.NoError(t, err)

		_, err = e.dispatcher.Approve(ctx, req.ID, officer)

		require.NoError(t, err)
		u := e.getUser(t, "inv-1")
		assert.Equal(t, ledger.UserInactive, u.Status)
		assert.False(t, u.IsRequestDeactivate)
		patches := e.dir.patches["dir-inv-1"]
		require.Len(t, patches, 1)
		assert.False(t, *patches[0].Enabled)
		assert.Contains(t, e.notifier.texts("inv-1"), "Account deactivation approved")
	})

	t.Run("reject clears the flag and keeps the user active", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		req, err := e.intake.RequestDeactivateUser(ctx, adminCreator, "inv-1")
		require.NoError(t, err)

		_, err = e.dispatcher.Reject(ctx, req.ID, officer, "open positions")

		require.NoError(t, err)
		u := e.getUser(t, "inv-1")
		assert.Equal(t, ledger.UserActive, u.Status)
		assert.False(t, u.IsRequestDeactivate)
		assert.Empty(t, e.dir.patches)
		assert.Contains(t, e.notifier.texts("inv-1"), "Account deactivation rejected")

		// a new request can be filed afterwards
		_, err = e.intake.RequestDeactivateUser(ctx, adminCreator, "inv-1")
		require.NoError(t, err)
	})

	t.Run("approval waits for the user lock", func(t *testing.T) {
		// GIVEN: a pending deactivation and someone holding the user's lock
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		req, err := e.intake.RequestDeactivateUser(ctx, adminCreator, "inv-1")
		require.NoError(t, err)
		unlock := e.locks.Lock("user:inv-1")

		// WHEN
		done := make(chan error, 1)
		go func() {
			_, err := e.dispatcher.Approve(ctx, req.ID, officer)
			done <- err
		}()

		// THEN: nothing is written until the lock is released
		select {
		case err := <-done:
			unlock()
			t.Fatalf("approval finished while the user was locked: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
		assert.True(t, e.getUser(t, "inv-1").IsRequestDeactivate)

		unlock()
		require.NoError(t, <-done)
		assert.Equal(t, ledger.UserInactive, e.getUser(t, "inv-1").Status)
	})
}

func TestUpdateUser(t *testing.T) {
	t.Run("approve applies the patch and moves the login", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		name, email := "Renamed", "renamed@example.com"
		req, err := e.intake.RequestUpdateUser(ctx, adminCreator, "inv-1", ledger.UserPatch{Name: &name, Email: &email})
		require.NoError(t, err)

		_, err = e.dispatcher.Approve(ctx, req.ID, officer)

		require.NoError(t, err)
		u := e.getUser(t, "inv-1")
		assert.Equal(t, "Renamed", u.Name)
		assert.Equal(t, "renamed@example.com", u.Email)
		patches := e.dir.patches["dir-inv-1"]
		require.Len(t, patches, 1)
		assert.Equal(t, "renamed@example.com", *patches[0].Email)
	})

	t.Run("approve fails when the email was taken meanwhile", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		email := "taken@example.com"
		req, err := e.intake.RequestUpdateUser(ctx, adminCreator, "inv-1", ledger.UserPatch{Email: &email})
		require.NoError(t, err)
		other := e.user(t, "taken", ledger.RoleInvestor, ledger.UserActive)
		require.Equal(t, email, other.Email)

		_, err = e.dispatcher.Approve(ctx, req.ID, officer)

		requireKind(t, err, ledger.KindBusiness, ledger.ErrEmailTaken)
		assert.Equal(t, ledger.ComplianceInitiated, e.getRequest(t, req.ID).Status)
		assert.Equal(t, "inv-1@example.com", e.getUser(t, "inv-1").Email)
	})

	t.Run("reject leaves the profile alone", func(t *testing.T) {
		e := newEnv(t)
		ctx := context.Background()
		e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
		name := "Nope"
		req, err := e.intake.RequestUpdateUser(ctx, adminCreator, "inv-1", ledger.UserPatch{Name: &name})
		require.NoError(t, err)

		_, err = e.dispatcher.Reject(ctx, req.ID, officer, "")

		require.NoError(t, err)
		assert.Equal(t, "inv-1", e.getUser(t, "inv-1").Name)
		assert.Contains(t, e.notifier.texts("inv-1"), "Profile update rejected")
	})
}

func TestDeleteUser_InvestorCascade(t *testing.T) {
	// GIVEN: an investor with a holding, a transaction, notifications and
	// another pending request
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "issuer-1", ledger.RoleIssuer, ledger.UserActive)
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
	p := e.product(t, "p1", "issuer-1", 50, 40)
	e.holding(t, "inv-1", p, 10)
	buy, err := e.intake.RequestBuy(ctx, "inv-1", "p1", 5)
	require.NoError(t, err)
	require.NoError(t, e.store.InsertNotification(ctx, ledger.Notification{ID: "n1", ReceiverID: "inv-1", Text: "hi", CreatedAt: now}))

	req, err := e.intake.RequestDeleteUser(ctx, adminCreator, "inv-1")
	require.NoError(t, err)

	// WHEN
	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	// THEN: everything referencing the investor is gone except the
	// request that deleted them
	require.NoError(t, err)
	assert.Nil(t, e.getUser(t, "inv-1"))
	assert.Nil(t, e.getHolding(t, "inv-1", "p1"))
	txs, err := e.store.FindTransactions(ctx, ledger.TransactionFilter{InvestorID: "inv-1"})
	require.NoError(t, err)
	assert.Empty(t, txs)
	gone, err := e.store.GetComplianceRequest(ctx, buy.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Equal(t, ledger.ComplianceAccepted, e.getRequest(t, req.ID).Status)
	feed, err := e.store.ListNotifications(ctx, "inv-1", 10)
	require.NoError(t, err)
	assert.Empty(t, feed)
	assert.Equal(t, []string{"dir-inv-1"}, e.dir.deleted)
}

func TestDeleteUser_IssuerRemovesProducts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "issuer-1", ledger.RoleIssuer, ledger.UserActive)
	e.product(t, "p1", "issuer-1", 50, 50)
	e.product(t, "p2", "issuer-1", 20, 20)
	req, err := e.intake.RequestDeleteUser(ctx, adminCreator, "issuer-1")
	require.NoError(t, err)

	_, err = e.dispatcher.Approve(ctx, req.ID, officer)

	require.NoError(t, err)
	products, err := e.store.ListProductsByIssuer(ctx, "issuer-1")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestDeleteUser_RejectKeepsEverything(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "inv-1", ledger.RoleInvestor, ledger.UserActive)
	req, err := e.intake.RequestDeleteUser(ctx, adminCreator, "inv-1")
	require.NoError(t, err)

	_, err = e.dispatcher.Reject(ctx, req.ID, officer, "no")

	require.NoError(t, err)
	assert.NotNil(t, e.getUser(t, "inv-1"))
	assert.Empty(t, e.dir.deleted)
}
