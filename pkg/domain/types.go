package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role is a space membership role.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// ParseRole normalizes a role string to uppercase and validates it.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleMember:
		return role, nil
	default:
		return "", fmt.Errorf("invalid member role: %q", value)
	}
}

// Identity is the authenticated caller as supplied by token verification.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Space is a shared container for files with an owner and a member list.
// MemberEmails is a cache derived from stored membership rows; the owner is
// never part of it. Members is the synthesized listing with the owner first.
type Space struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	OwnerID      string        `json:"ownerId"`
	OwnerEmail   string        `json:"ownerEmail"`
	CreatedAt    time.Time     `json:"createdAt"`
	MemberEmails []string      `json:"memberEmails"`
	Members      []SpaceMember `json:"members,omitempty"`
}

// SpaceMember is one entry in a space's membership listing. Stored rows never
// include the owner; listings synthesize the owner as the first entry.
type SpaceMember struct {
	Email   string    `json:"email"`
	Role    Role      `json:"role"`
	AddedAt time.Time `json:"addedAt"`
	Owner   bool      `json:"owner"`
}

// SpaceFile is a file resident in a space. StoragePath is the backend-specific
// locator and is never exposed to callers.
type SpaceFile struct {
	ID               string    `json:"id"`
	SpaceID          string    `json:"spaceId"`
	OriginalFilename string    `json:"originalFilename"`
	StoragePath      string    `json:"-"`
	ContentType      string    `json:"contentType"`
	Size             int64     `json:"size"`
	UploaderID       string    `json:"uploaderId"`
	UploaderEmail    string    `json:"uploaderEmail"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// Activity is an immutable audit entry for a mutating action in a space.
type Activity struct {
	ID        string    `json:"id"`
	SpaceID   string    `json:"spaceId"`
	UserEmail string    `json:"userEmail"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}
