package intake

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/warp/compliance-engine/directory"
	"github.com/warp/compliance-engine/ledger"
)

// NewUser is a registration submitted for review.
type NewUser struct {
	Email string
	Name  string
	Role  ledger.Role
}

func (u NewUser) validate(op string) error {
	if strings.TrimSpace(u.Name) == "" {
		return invalid(op, "name is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return invalid(op, "invalid email %q", u.Email)
	}
	if !u.Role.Valid() {
		return invalid(op, "invalid role %q", u.Role)
	}
	return nil
}

// RequestAddUser opens a disabled directory account and a processing user.
func (s *Service) RequestAddUser(ctx context.Context, creator ledger.Creator, in NewUser) (*ledger.ComplianceRequest, error) {
	const op = "intake.add_user"

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := in.validate(op); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("email:" + in.Email)
	defer unlock()

	if err := s.emailFree(ctx, op, in.Email, ""); err != nil {
		return nil, err
	}

	directoryID, err := s.directory.CreateUser(ctx, directory.Profile{Email: in.Email, Name: in.Name, Role: string(in.Role)})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	user := ledger.User{
		ID:          uuid.NewString(),
		DirectoryID: directoryID,
		Email:       in.Email,
		Name:        in.Name,
		Role:        in.Role,
		Status:      ledger.UserProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.submit(ctx, creator, user.ID, ledger.ActionInfo{
		Entity:     "user",
		EntityName: user.Name,
		EntityID:   user.ID,
		Payload:    ledger.AddUser{UserID: user.ID},
	})
}

func (s *Service) RequestDeactivateUser(ctx context.Context, creator ledger.Creator, userID string) (*ledger.ComplianceRequest, error) {
	const op = "intake.deactivate_user"

	unlock := s.locks.Lock(userKey(userID))
	defer unlock()

	user, err := s.user(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != ledger.UserActive {
		return nil, ledger.Errorf(ledger.KindBusiness, op, ledger.ErrInactive, "user %s is %s", userID, user.Status)
	}
	if user.IsRequestDeactivate {
		return nil, ledger.E(ledger.KindBusiness, op, ledger.ErrDeactivatePending)
	}

	user.IsRequestDeactivate = true
	user.UpdatedAt = s.now()
	if err := s.store.UpdateUser(ctx, *user); err != nil {
		return nil, fmt.Errorf("update user %s: %w", userID, err)
	}

	return s.submit(ctx, creator, user.ID, ledger.ActionInfo{
		Entity:     "user",
		EntityName: user.Name,
		EntityID:   user.ID,
		Payload:    ledger.DeactivateUser{UserID: user.ID},
	})
}

func (s *Service) RequestUpdateUser(ctx context.Context, creator ledger.Creator, userID string, patch ledger.UserPatch) (*ledger.ComplianceRequest, error) {
	const op = "intake.update_user"

	if patch.Name == nil && patch.Email == nil {
		return nil, invalid(op, "nothing to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, invalid(op, "name cannot be empty")
	}

	user, err := s.user(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	if patch.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*patch.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, invalid(op, "invalid email %q", *patch.Email)
		}
		patch.Email = &email
		if err := s.emailFree(ctx, op, email, user.ID); err != nil {
			return nil, err
		}
	}

	return s.submit(ctx, creator, user.ID, ledger.ActionInfo{
		Entity:     "user",
		EntityName: user.Name,
		EntityID:   user.ID,
		Payload:    ledger.UpdateUser{UserID: user.ID, Patch: patch},
	})
}

func (s *Service) RequestDeleteUser(ctx context.Context, creator ledger.Creator, userID string) (*ledger.ComplianceRequest, error) {
	const op = "intake.delete_user"

	user, err := s.user(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, creator, user.ID, ledger.ActionInfo{
		Entity:     "user",
		EntityName: user.Name,
		EntityID:   user.ID,
		Payload:    ledger.DeleteUser{UserID: user.ID},
	})
}

// emailFree fails when email belongs to a user other than selfID.
func (s *Service) emailFree(ctx context.Context, op, email, selfID string) error {
	other, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("find user by email: %w", err)
	}
	if other != nil && other.ID != selfID {
		return ledger.Errorf(ledger.KindBusiness, op, ledger.ErrEmailTaken, "email %s", email)
	}
	return nil
}
