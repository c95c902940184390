// Package access decides whether a caller may act on an organization's data.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/macleangm-debug/FieldForce/internal/models"
)

// ErrForbidden is returned when the caller lacks membership or role.
var ErrForbidden = errors.New("forbidden")

// MembershipStore reads active organization memberships.
type MembershipStore interface {
	// FindActive returns the caller's active membership in orgID, or nil.
	FindActive(ctx context.Context, orgID, userID string) (*models.Membership, error)
	// ActiveOrgIDs returns the subset of orgIDs where userID is an active member.
	ActiveOrgIDs(ctx context.Context, userID string, orgIDs []string) ([]string, error)
}

type Guard struct {
	members MembershipStore
}

func NewGuard(members MembershipStore) *Guard {
	return &Guard{members: members}
}

// Authorize reports whether caller may write to form.
func (g *Guard) Authorize(ctx context.Context, form *models.Form, caller models.Caller) (bool, error) {
	if caller.Superadmin {
		return true, nil
	}
	m, err := g.members.FindActive(ctx, form.OrgID, caller.UserID)
	if err != nil {
		return false, fmt.Errorf("lookup membership: %w", err)
	}
	return m != nil, nil
}

// CheckOrg returns ErrForbidden unless caller is a member of orgID.
func (g *Guard) CheckOrg(ctx context.Context, orgID string, caller models.Caller) error {
	if caller.Superadmin {
		return nil
	}
	m, err := g.members.FindActive(ctx, orgID, caller.UserID)
	if err != nil {
		return fmt.Errorf("lookup membership: %w", err)
	}
	if m == nil {
		return ErrForbidden
	}
	return nil
}

// RequireRole returns ErrForbidden unless caller holds one of roles in orgID.
// Superadmins pass.
func (g *Guard) RequireRole(ctx context.Context, orgID string, caller models.Caller, roles ...models.Role) error {
	if caller.Superadmin {
		return nil
	}
	m, err := g.members.FindActive(ctx, orgID, caller.UserID)
	if err != nil {
		return fmt.Errorf("lookup membership: %w", err)
	}
	if m == nil {
		return ErrForbidden
	}
	for _, r := range roles {
		if m.Role == r {
			return nil
		}
	}
	return fmt.Errorf("role %q not permitted: %w", m.Role, ErrForbidden)
}

// OrgSet is the precomputed set of orgs a caller may write to.
type OrgSet struct {
	all  bool
	orgs map[string]struct{}
}

func (s OrgSet) Allows(orgID string) bool {
	if s.all {
		return true
	}
	_, ok := s.orgs[orgID]
	return ok
}

// AllowedOrgs resolves membership for a whole batch with a single store query.
// Superadmins bypass the lookup entirely.
func (g *Guard) AllowedOrgs(ctx context.Context, caller models.Caller, orgIDs []string) (OrgSet, error) {
	if caller.Superadmin {
		return OrgSet{all: true}, nil
	}
	set := OrgSet{orgs: make(map[string]struct{})}
	if len(orgIDs) == 0 {
		return set, nil
	}
	ids, err := g.members.ActiveOrgIDs(ctx, caller.UserID, orgIDs)
	if err != nil {
		return set, fmt.Errorf("lookup memberships: %w", err)
	}
	for _, id := range ids {
		set.orgs[id] = struct{}{}
	}
	return set, nil
}
