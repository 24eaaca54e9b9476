package engine

import "strings"

// User is the authenticated identity resolved for a request. Nested
// sub-requests inherit the outer request's user through the chain's parent
// links unless they explicitly set their own.
type User struct {
	Username    string   `json:"username"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// HasRole reports whether the user holds every named role.
func (u *User) HasRole(roles ...string) bool {
	for _, want := range roles {
		found := false
		for _, have := range u.Roles {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// HasPermission reports whether the user holds every named permission.
func (u *User) HasPermission(perms ...string) bool {
	for _, want := range perms {
		found := false
		for _, have := range u.Permissions {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
