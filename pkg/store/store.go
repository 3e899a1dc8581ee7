package store

import (
	"context"
	"errors"

	"spacedrive/pkg/domain"
)

// ErrMemberNotFound reports a role update against a membership row that does
// not exist.
var ErrMemberNotFound = errors.New("member not found in space")

// ActivityLimit caps how many audit entries a listing returns.
const ActivityLimit = 50

// Store defines persistence for spaces, memberships, files, and activity.
// The cached member-email list on a space is always re-derived from the
// membership rows inside the same logical operation that mutates them.
type Store interface {
	// spaces
	CreateSpace(ctx context.Context, space domain.Space) error
	GetSpace(ctx context.Context, id string) (domain.Space, bool, error)
	ListSpacesForUser(ctx context.Context, email string) ([]domain.Space, error)
	UpdateSpace(ctx context.Context, space domain.Space) error
	DeleteSpace(ctx context.Context, id string) error

	// members
	AddMember(ctx context.Context, spaceID string, member domain.SpaceMember) error
	RemoveMember(ctx context.Context, spaceID, email string) error
	UpdateMemberRole(ctx context.Context, spaceID, email string, role domain.Role) error
	IsMember(ctx context.Context, spaceID, email string) (bool, error)
	IsAdmin(ctx context.Context, spaceID, email string) (bool, error)

	// files
	CreateFile(ctx context.Context, file domain.SpaceFile) error
	GetFile(ctx context.Context, id string) (domain.SpaceFile, bool, error)
	ListFilesForSpace(ctx context.Context, spaceID string) ([]domain.SpaceFile, error)
	DeleteFile(ctx context.Context, id string) error

	// activity
	LogActivity(ctx context.Context, entry domain.Activity) error
	ListActivity(ctx context.Context, spaceID string) ([]domain.Activity, error)
}
