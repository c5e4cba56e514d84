// Package domain contains core domain types for the advisory backend.
package domain

import "strings"

// DefaultRole is assigned when a caller omits the role.
const DefaultRole = "farmer"

// ConversationContext identifies the caller of a single chat request.
// It is immutable for the lifetime of the request.
type ConversationContext struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     string `json:"role"`
	EntityID string `json:"entity_id,omitempty"`
}

// NormalizedRole returns the lower-cased role, or DefaultRole when empty.
func (c ConversationContext) NormalizedRole() string {
	role := strings.ToLower(strings.TrimSpace(c.Role))
	if role == "" {
		return DefaultRole
	}
	return role
}

// HasRole reports whether the caller's role matches any of roles, ignoring case.
func (c ConversationContext) HasRole(roles ...string) bool {
	role := c.NormalizedRole()
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}
