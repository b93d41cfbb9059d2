package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/ledger"
)

const passwordLength = 16

// =============================================================================
// ADD USER
// =============================================================================

func (d *Dispatcher) resolveAddUser(ctx context.Context, res *resolution, a ledger.AddUser) error {
	const op = "compliance.add_user"

	user, err := d.loadUser(ctx, op, a.UserID)
	if err != nil {
		return err
	}
	if user.Status != ledger.UserProcessing {
		return ledger.Errorf(ledger.KindBusiness, op, nil, "user %s is %s", user.ID, user.Status)
	}

	if res.rejecting() {
		user.Status = ledger.UserRejected
		if err := d.saveUser(ctx, user); err != nil {
			return err
		}
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.email(ctx, user, "Your registration was declined",
			fmt.Sprintf("Hello %s,\n\nYour registration was not approved.\n\nReason: %s\n", user.Name, res.req.Remarks))
		return nil
	}

	password, err := d.passwords(passwordLength)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	enabled := true
	if err := d.directory.UpdateUser(ctx, user.DirectoryID, directory.Patch{Enabled: &enabled, Password: &password}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user.Status = ledger.UserActive
	if err := d.saveUser(ctx, user); err != nil {
		return err
	}
	if err := d.accept(ctx, res, ""); err != nil {
		return err
	}

	d.email(ctx, user, "Your account is ready",
		fmt.Sprintf("Hello %s,\n\nYour account was approved.\n\nLogin: %s\nTemporary password: %s\n\nPlease change it after your first login.\n",
			user.Name, user.Email, password))
	d.notifyCompliance(ctx, entityUser, user.ID, ledger.NotifySuccess, "User approved",
		map[string]string{"name": user.Name, "role": string(user.Role)})
	return nil
}

// =============================================================================
// DEACTIVATE USER
// =============================================================================

func (d *Dispatcher) resolveDeactivateUser(ctx context.Context, res *resolution, a ledger.DeactivateUser) error {
	const op = "compliance.deactivate_user"

	unlock := d.locks.Lock(userKey(a.UserID))
	defer unlock()

	user, err := d.loadUser(ctx, op, a.UserID)
	if err != nil {
		return err
	}

	if !res.rejecting() {
		enabled := false
		if err := d.directory.UpdateUser(ctx, user.DirectoryID, directory.Patch{Enabled: &enabled}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		user.Status = ledger.UserInactive
	}
	user.IsRequestDeactivate = false
	if err := d.saveUser(ctx, user); err != nil {
		return err
	}
	if err := d.finishDecision(ctx, res); err != nil {
		return err
	}

	typ, verb := decided(res)
	d.notifyUser(ctx, user.ID, entityUser, user.ID, typ, "Account deactivation "+verb,
		map[string]string{"remarks": res.req.Remarks})
	if res.rejecting() {
		d.email(ctx, user, "Account deactivation declined",
			fmt.Sprintf("Hello %s,\n\nThe request to deactivate your account was declined.\n\nReason: %s\n", user.Name, res.req.Remarks))
	} else {
		d.email(ctx, user, "Your account was deactivated",
			fmt.Sprintf("Hello %s,\n\nYour account has been deactivated.\n", user.Name))
	}
	return nil
}

// =============================================================================
// UPDATE USER
// =============================================================================

func (d *Dispatcher) resolveUpdateUser(ctx context.Context, res *resolution, a ledger.UpdateUser) error {
	const op = "compliance.update_user"

	user, err := d.loadUser(ctx, op, a.UserID)
	if err != nil {
		return err
	}

	if res.rejecting() {
		if err := d.reject(ctx, res); err != nil {
			return err
		}
		d.notifyUser(ctx, user.ID, entityUser, user.ID, ledger.NotifyWarning, "Profile update rejected",
			map[string]string{"remarks": res.req.Remarks})
		return nil
	}

	if email := a.Patch.Email; email != nil && !strings.EqualFold(*email, user.Email) {
		other, err := d.store.FindUserByEmail(ctx, *email)
		if err != nil {
			return fmt.Errorf("find user by email: %w", err)
		}
		if other != nil && other.ID != user.ID {
			return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrEmailTaken, "email %s", *email)
		}
		// The directory owns the login, so it changes first.
		if err := d.directory.UpdateUser(ctx, user.DirectoryID, directory.Patch{Email: email}); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	a.Patch.Apply(user)
	if err := d.saveUser(ctx, user); err != nil {
		return err
	}
	if err := d.accept(ctx, res, ""); err != nil {
		return err
	}
	d.notifyUser(ctx, user.ID, entityUser, user.ID, ledger.NotifySuccess, "Profile update approved", nil)
	return nil
}

// =============================================================================
// DELETE USER
// =============================================================================

func (d *Dispatcher) resolveDeleteUser(ctx context.Context, res *resolution, a ledger.DeleteUser) error {
	const op = "compliance.delete_user"

	user, err := d.loadUser(ctx, op, a.UserID)
	if err != nil {
		return err
	}

	if res.rejecting() {
		return d.reject(ctx, res)
	}

	if user.DirectoryID != "" {
		if err := d.directory.DeleteUser(ctx, user.DirectoryID); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := d.cascadeDelete(ctx, user, res.req.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := d.store.DeleteUser(ctx, user.ID); err != nil {
		return fmt.Errorf("%s: delete user %s: %w", op, user.ID, err)
	}
	if err := d.accept(ctx, res, ""); err != nil {
		return err
	}

	d.notifyCompliance(ctx, entityUser, user.ID, ledger.NotifyInfo, "User deleted",
		map[string]string{"name": user.Name, "email": user.Email})
	return nil
}

// cascadeDelete removes everything that references user. The collections
// are independent so they are cleared concurrently; keepRequestID is the
// request being resolved.
func (d *Dispatcher) cascadeDelete(ctx context.Context, user *ledger.User, keepRequestID string) error {
	g, gctx := errgroup.WithContext(ctx)

	counts := make([]int, 4)
	g.Go(func() error {
		n, err := d.store.DeleteNotificationsByUser(gctx, user.ID)
		counts[0] = n
		return err
	})
	g.Go(func() error {
		n, err := d.store.DeleteComplianceRequestsByUser(gctx, user.ID, keepRequestID)
		counts[1] = n
		return err
	})

	switch user.Role {
	case ledger.RoleInvestor:
		g.Go(func() error {
			n, err := d.store.DeleteHoldingsByInvestor(gctx, user.ID)
			counts[2] = n
			return err
		})
		g.Go(func() error {
			n, err := d.store.DeleteTransactionsByInvestor(gctx, user.ID)
			counts[3] = n
			return err
		})
	case ledger.RoleIssuer:
		g.Go(func() error {
			products, err := d.store.ListProductsByIssuer(gctx, user.ID)
			if err != nil {
				return err
			}
			for _, p := range products {
				if err := d.store.DeleteProduct(gctx, p.ID); err != nil {
					return err
				}
			}
			counts[2] = len(products)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	d.log.InfoContext(ctx, "user data deleted",
		slog.String("user_id", user.ID),
		slog.Int("notifications", counts[0]),
		slog.Int("compliance_requests", counts[1]),
		slog.Int("holdings_or_products", counts[2]),
		slog.Int("transactions", counts[3]),
	)
	return nil
}

// finishDecision writes Accepted or Rejected according to the decision.
func (d *Dispatcher) finishDecision(ctx context.Context, res *resolution) error {
	if res.rejecting() {
		return d.reject(ctx, res)
	}
	return d.accept(ctx, res, "")
}
