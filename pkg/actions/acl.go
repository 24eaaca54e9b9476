package actions

import (
	"context"

	"github.com/lodeworks/lode/pkg/engine"
)

// AclAction gates the chain on the authenticated user's roles and
// permissions. The user must hold every listed role AND every listed
// permission; either list may be empty. A failed check cancels the chain so
// nothing downstream runs.
type AclAction struct {
	roles       []string
	permissions []string
}

// NewAclAction wraps an AclAction in an engine action at order 20, after
// authentication.
func NewAclAction(roles, permissions []string) *engine.Action {
	return engine.NewAction("acl", &AclAction{roles: roles, permissions: permissions}).WithOrder(20)
}

// Run implements engine.Handler.
func (a *AclAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	user := ch.User()
	if user == nil {
		ch.Cancel()
		return engine.Unauthorized("authentication required")
	}
	if !user.HasRole(a.roles...) || !user.HasPermission(a.permissions...) {
		ch.Cancel()
		return engine.Forbidden("access denied")
	}
	return nil
}
