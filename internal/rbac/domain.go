// Package rbac maps user roles to invoicing permissions.
package rbac

// Permission identifiers used by route guards.
const (
	PermInvoiceView    = "invoicing.view"
	PermInvoiceCreate  = "invoicing.create"
	PermInvoiceEdit    = "invoicing.edit"
	PermInvoiceApprove = "invoicing.qc_approve"
)

// Role identifiers as stored on the users table.
const (
	RoleUser    = "user"
	RoleQC      = "qc"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

var rolePermissions = map[string][]string{
	RoleUser:    {PermInvoiceView, PermInvoiceCreate, PermInvoiceEdit},
	RoleQC:      {PermInvoiceView, PermInvoiceApprove},
	RoleManager: {PermInvoiceView, PermInvoiceCreate, PermInvoiceEdit, PermInvoiceApprove},
	RoleAdmin:   {PermInvoiceView, PermInvoiceCreate, PermInvoiceEdit, PermInvoiceApprove},
}

// PermissionsForRole returns the permission set granted to a role.
func PermissionsForRole(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Elevated reports whether a role may act on drafts owned by other users.
// QC reviewers qualify: the drafts they approve are never their own.
func Elevated(role string) bool {
	return role == RoleQC || role == RoleManager || role == RoleAdmin
}
