package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"spacedrive/pkg/domain"
	"spacedrive/pkg/storage"
	"spacedrive/pkg/store"
)

// Activity verbs recorded in the audit log.
const (
	actionCreatedSpace      = "created space"
	actionUpdatedSpace      = "updated space"
	actionAddedMember       = "added member"
	actionRemovedMember     = "removed member"
	actionUpdatedMemberRole = "updated member role"
	actionUploadedFile      = "uploaded file"
	actionDeletedFile       = "deleted file"
)

// Config holds the dependencies of the orchestrator.
type Config struct {
	Store store.Store
	Blobs storage.BlobStore
}

// App sequences space and file operations: it enforces permission rules,
// keeps metadata and stored bytes consistent, and records audit activity.
type App struct {
	store store.Store
	blobs storage.BlobStore
}

// New constructs the orchestrator.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("metadata store required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("blob store required")
	}
	return &App{store: cfg.Store, blobs: cfg.Blobs}, nil
}

// CreateSpace persists a new space owned by the caller. Anyone with a valid
// identity may create a space.
func (a *App) CreateSpace(ctx context.Context, name, description string, owner domain.Identity) (domain.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Space{}, fmt.Errorf("%w: space name required", ErrInvalidArgument)
	}
	space := domain.Space{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(description),
		OwnerID:      owner.ID,
		OwnerEmail:   normalizeEmail(owner.Email),
		CreatedAt:    time.Now().UTC(),
		MemberEmails: []string{},
	}
	if err := a.store.CreateSpace(ctx, space); err != nil {
		return domain.Space{}, persistence("create space", err)
	}
	if err := a.logActivity(ctx, space.ID, space.OwnerEmail, actionCreatedSpace, name); err != nil {
		return domain.Space{}, err
	}
	return a.getSpace(ctx, space.ID)
}

// GetSpace returns a space with its membership listing. Callers must be
// members.
func (a *App) GetSpace(ctx context.Context, spaceID, callerEmail string) (domain.Space, error) {
	callerEmail = normalizeEmail(callerEmail)
	space, err := a.getSpace(ctx, spaceID)
	if err != nil {
		return domain.Space{}, err
	}
	if err := a.requireMember(ctx, spaceID, callerEmail); err != nil {
		return domain.Space{}, err
	}
	return space, nil
}

// ListSpaces returns every space the caller owns or belongs to.
func (a *App) ListSpaces(ctx context.Context, callerEmail string) ([]domain.Space, error) {
	spaces, err := a.store.ListSpacesForUser(ctx, normalizeEmail(callerEmail))
	if err != nil {
		return nil, persistence("list spaces", err)
	}
	return spaces, nil
}

// UpdateSpace overwrites a space's name and description. Admin only.
func (a *App) UpdateSpace(ctx context.Context, spaceID, name, description, callerEmail string) (domain.Space, error) {
	callerEmail = normalizeEmail(callerEmail)
	space, err := a.getSpace(ctx, spaceID)
	if err != nil {
		return domain.Space{}, err
	}
	if err := a.requireAdmin(ctx, spaceID, callerEmail); err != nil {
		return domain.Space{}, err
	}
	if name = strings.TrimSpace(name); name != "" {
		space.Name = name
	}
	space.Description = strings.TrimSpace(description)
	if err := a.store.UpdateSpace(ctx, space); err != nil {
		return domain.Space{}, persistence("update space", err)
	}
	if err := a.logActivity(ctx, spaceID, callerEmail, actionUpdatedSpace, space.Name); err != nil {
		return domain.Space{}, err
	}
	return a.getSpace(ctx, spaceID)
}

// DeleteSpace removes the space's blobs, then its metadata cascade. A storage
// failure aborts the operation before any metadata is touched, so a failed
// delete never orphans blobs.
func (a *App) DeleteSpace(ctx context.Context, spaceID, callerEmail string) error {
	callerEmail = normalizeEmail(callerEmail)
	if _, err := a.getSpace(ctx, spaceID); err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, spaceID, callerEmail); err != nil {
		return err
	}
	if err := a.blobs.DeleteAll(ctx, spaceID); err != nil {
		return storageFailure("delete space blobs", err)
	}
	if err := a.store.DeleteSpace(ctx, spaceID); err != nil {
		return persistence("delete space", err)
	}
	return nil
}

// AddMember grants a user membership with role MEMBER. Admin only. Adding an
// existing member is a no-op; adding the owner is rejected.
func (a *App) AddMember(ctx context.Context, spaceID, memberEmail, actorEmail string) error {
	actorEmail = normalizeEmail(actorEmail)
	memberEmail = normalizeEmail(memberEmail)
	if memberEmail == "" {
		return fmt.Errorf("%w: member email required", ErrInvalidArgument)
	}
	space, err := a.getSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, spaceID, actorEmail); err != nil {
		return err
	}
	if strings.EqualFold(memberEmail, space.OwnerEmail) {
		return fmt.Errorf("%w: %s is already the owner", ErrInvalidOperation, memberEmail)
	}
	member := domain.SpaceMember{
		Email:   memberEmail,
		Role:    domain.RoleMember,
		AddedAt: time.Now().UTC(),
	}
	if err := a.store.AddMember(ctx, spaceID, member); err != nil {
		return persistence("add member", err)
	}
	return a.logActivity(ctx, spaceID, actorEmail, actionAddedMember, memberEmail)
}

// RemoveMember revokes a user's membership. Admin only; the owner can never
// be removed.
func (a *App) RemoveMember(ctx context.Context, spaceID, memberEmail, actorEmail string) error {
	actorEmail = normalizeEmail(actorEmail)
	memberEmail = normalizeEmail(memberEmail)
	space, err := a.getSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, spaceID, actorEmail); err != nil {
		return err
	}
	if strings.EqualFold(memberEmail, space.OwnerEmail) {
		return fmt.Errorf("%w: the owner cannot be removed", ErrInvalidOperation)
	}
	if err := a.store.RemoveMember(ctx, spaceID, memberEmail); err != nil {
		return persistence("remove member", err)
	}
	return a.logActivity(ctx, spaceID, actorEmail, actionRemovedMember, memberEmail)
}

// UpdateMemberRole changes a stored member's role. Admin only; the owner's
// role can never change; the role must be ADMIN or MEMBER.
func (a *App) UpdateMemberRole(ctx context.Context, spaceID, memberEmail, role, actorEmail string) error {
	actorEmail = normalizeEmail(actorEmail)
	memberEmail = normalizeEmail(memberEmail)
	space, err := a.getSpace(ctx, spaceID)
	if err != nil {
		return err
	}
	if err := a.requireAdmin(ctx, spaceID, actorEmail); err != nil {
		return err
	}
	if strings.EqualFold(memberEmail, space.OwnerEmail) {
		return fmt.Errorf("%w: the owner's role cannot change", ErrInvalidOperation)
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if err := a.store.UpdateMemberRole(ctx, spaceID, memberEmail, parsed); err != nil {
		if errors.Is(err, store.ErrMemberNotFound) {
			return fmt.Errorf("%w: member %s", ErrNotFound, memberEmail)
		}
		return persistence("update member role", err)
	}
	detail := fmt.Sprintf("%s -> %s", memberEmail, parsed)
	return a.logActivity(ctx, spaceID, actorEmail, actionUpdatedMemberRole, detail)
}

// UploadFile streams the bytes to the blob store, then records the file.
// Members only.
func (a *App) UploadFile(ctx context.Context, r io.Reader, spaceID, filename, contentType string, size int64, uploader domain.Identity) (domain.SpaceFile, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.SpaceFile{}, fmt.Errorf("%w: filename required", ErrInvalidArgument)
	}
	if _, err := a.getSpace(ctx, spaceID); err != nil {
		return domain.SpaceFile{}, err
	}
	uploaderEmail := normalizeEmail(uploader.Email)
	if err := a.requireMember(ctx, spaceID, uploaderEmail); err != nil {
		return domain.SpaceFile{}, err
	}
	storagePath, err := a.blobs.Put(ctx, r, spaceID, filename, contentType)
	if err != nil {
		return domain.SpaceFile{}, storageFailure("store file", err)
	}
	file := domain.SpaceFile{
		ID:               uuid.NewString(),
		SpaceID:          spaceID,
		OriginalFilename: filename,
		StoragePath:      storagePath,
		ContentType:      contentType,
		Size:             size,
		UploaderID:       uploader.ID,
		UploaderEmail:    uploaderEmail,
		UploadedAt:       time.Now().UTC(),
	}
	if err := a.store.CreateFile(ctx, file); err != nil {
		_ = a.blobs.Delete(ctx, storagePath)
		return domain.SpaceFile{}, persistence("save file", err)
	}
	if err := a.logActivity(ctx, spaceID, uploaderEmail, actionUploadedFile, filename); err != nil {
		return domain.SpaceFile{}, err
	}
	return file, nil
}

// ListFiles returns the files of a space, most recent first. Members only.
func (a *App) ListFiles(ctx context.Context, spaceID, callerEmail string) ([]domain.SpaceFile, error) {
	if _, err := a.getSpace(ctx, spaceID); err != nil {
		return nil, err
	}
	if err := a.requireMember(ctx, spaceID, normalizeEmail(callerEmail)); err != nil {
		return nil, err
	}
	files, err := a.store.ListFilesForSpace(ctx, spaceID)
	if err != nil {
		return nil, persistence("list files", err)
	}
	return files, nil
}

// DownloadFile opens the file's byte stream. Members of the file's space
// only. Downloads are read-only and leave no activity entry.
func (a *App) DownloadFile(ctx context.Context, fileID, callerEmail string) (io.ReadCloser, domain.SpaceFile, error) {
	file, ok, err := a.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, domain.SpaceFile{}, persistence("get file", err)
	}
	if !ok {
		return nil, domain.SpaceFile{}, fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}
	if err := a.requireMember(ctx, file.SpaceID, normalizeEmail(callerEmail)); err != nil {
		return nil, domain.SpaceFile{}, err
	}
	stream, err := a.blobs.Get(ctx, file.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, domain.SpaceFile{}, fmt.Errorf("%w: blob for file %s", ErrNotFound, fileID)
		}
		return nil, domain.SpaceFile{}, storageFailure("open file", err)
	}
	return stream, file, nil
}

// DeleteFile removes a file's blob, then its record. Allowed for space admins
// and for the uploader.
func (a *App) DeleteFile(ctx context.Context, fileID, callerEmail string) error {
	callerEmail = normalizeEmail(callerEmail)
	file, ok, err := a.store.GetFile(ctx, fileID)
	if err != nil {
		return persistence("get file", err)
	}
	if !ok {
		return fmt.Errorf("%w: file %s", ErrNotFound, fileID)
	}
	admin, err := a.store.IsAdmin(ctx, file.SpaceID, callerEmail)
	if err != nil {
		return persistence("check admin", err)
	}
	if !admin && !strings.EqualFold(file.UploaderEmail, callerEmail) {
		return fmt.Errorf("%w: not an admin or the uploader", ErrPermissionDenied)
	}
	if err := a.blobs.Delete(ctx, file.StoragePath); err != nil {
		return storageFailure("delete blob", err)
	}
	if err := a.store.DeleteFile(ctx, fileID); err != nil {
		return persistence("delete file", err)
	}
	return a.logActivity(ctx, file.SpaceID, callerEmail, actionDeletedFile, file.OriginalFilename)
}

// ActivityLog returns the most recent audit entries, newest first. Members
// only.
func (a *App) ActivityLog(ctx context.Context, spaceID, callerEmail string) ([]domain.Activity, error) {
	if _, err := a.getSpace(ctx, spaceID); err != nil {
		return nil, err
	}
	if err := a.requireMember(ctx, spaceID, normalizeEmail(callerEmail)); err != nil {
		return nil, err
	}
	entries, err := a.store.ListActivity(ctx, spaceID)
	if err != nil {
		return nil, persistence("list activity", err)
	}
	return entries, nil
}

func (a *App) getSpace(ctx context.Context, spaceID string) (domain.Space, error) {
	space, ok, err := a.store.GetSpace(ctx, spaceID)
	if err != nil {
		return domain.Space{}, persistence("get space", err)
	}
	if !ok {
		return domain.Space{}, fmt.Errorf("%w: space %s", ErrNotFound, spaceID)
	}
	return space, nil
}

func (a *App) requireMember(ctx context.Context, spaceID, email string) error {
	ok, err := a.store.IsMember(ctx, spaceID, email)
	if err != nil {
		return persistence("check membership", err)
	}
	if !ok {
		return fmt.Errorf("%w: not a member of this space", ErrPermissionDenied)
	}
	return nil
}

func (a *App) requireAdmin(ctx context.Context, spaceID, email string) error {
	ok, err := a.store.IsAdmin(ctx, spaceID, email)
	if err != nil {
		return persistence("check admin", err)
	}
	if !ok {
		return fmt.Errorf("%w: admin role required", ErrPermissionDenied)
	}
	return nil
}

func (a *App) logActivity(ctx context.Context, spaceID, actorEmail, action, details string) error {
	entry := domain.Activity{
		ID:        uuid.NewString(),
		SpaceID:   spaceID,
		UserEmail: actorEmail,
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err := a.store.LogActivity(ctx, entry); err != nil {
		return persistence("log activity", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
