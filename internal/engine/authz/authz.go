// Package authz maps the portal's three roles to permissions. Roles live on
// the user record and the permission map comes from config, so there is no
// RBAC storage to query.
package authz

import (
	"fmt"

	"amvali/internal/config"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Checker answers role/permission questions from the configured role map.
type Checker struct {
	Roles map[string]config.RBACRole
}

// NewChecker builds a Checker from config.
func NewChecker(cfg *config.Config) Checker {
	return Checker{Roles: cfg.RBAC.Roles}
}

// Allow returns nil if the role grants the permission, ForbiddenError otherwise.
func (c Checker) Allow(role, perm string) error {
	r, ok := c.Roles[role]
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	for _, p := range r.Permissions {
		if p == perm {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}

// Permissions lists the permissions granted to a role.
func (c Checker) Permissions(role string) []string {
	r, ok := c.Roles[role]
	if !ok {
		return nil
	}
	out := make([]string, len(r.Permissions))
	copy(out, r.Permissions)
	return out
}
