package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"spacedrive/pkg/domain"
	"spacedrive/pkg/storage"
	"spacedrive/pkg/store"
)

var (
	owner  = domain.Identity{ID: "u-1", Email: "a@x.com", DisplayName: "Alice"}
	member = domain.Identity{ID: "u-2", Email: "b@x.com", DisplayName: "Bob"}
	other  = domain.Identity{ID: "u-3", Email: "c@x.com", DisplayName: "Cleo"}
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.FileStore) {
	t.Helper()
	metadata := store.NewMemoryStore()
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	a, err := New(Config{Store: metadata, Blobs: blobs})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, metadata, blobs
}

func mustCreateSpace(t *testing.T, a *App) domain.Space {
	t.Helper()
	space, err := a.CreateSpace(context.Background(), "Team Docs", "shared docs", owner)
	if err != nil {
		t.Fatalf("create space: %v", err)
	}
	return space
}

func mustAddMember(t *testing.T, a *App, spaceID, email string) {
	t.Helper()
	if err := a.AddMember(context.Background(), spaceID, email, owner.Email); err != nil {
		t.Fatalf("add member %s: %v", email, err)
	}
}

func TestCreateSpaceAssignsOwnerAndLogs(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	if space.ID == "" {
		t.Fatalf("expected space id")
	}
	if space.OwnerEmail != "a@x.com" {
		t.Fatalf("unexpected owner email: %q", space.OwnerEmail)
	}
	if len(space.Members) != 1 || !space.Members[0].Owner || space.Members[0].Role != domain.RoleAdmin {
		t.Fatalf("expected owner-only member listing, got %+v", space.Members)
	}
	if len(space.MemberEmails) != 0 {
		t.Fatalf("owner must not appear in the member-email cache: %v", space.MemberEmails)
	}

	entries, err := a.ActivityLog(ctx, space.ID, owner.Email)
	if err != nil {
		t.Fatalf("activity log: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "created space" {
		t.Fatalf("expected creation entry, got %+v", entries)
	}
}

func TestTeamDocsScenario(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	payload := bytes.Repeat([]byte("x"), 10*1024)
	file, err := a.UploadFile(ctx, bytes.NewReader(payload), space.ID, "report.pdf", "application/pdf", int64(len(payload)), member)
	if err != nil {
		t.Fatalf("upload file: %v", err)
	}

	files, err := a.ListFiles(ctx, space.ID, owner.Email)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one file, got %d", len(files))
	}
	if files[0].OriginalFilename != "report.pdf" || files[0].UploaderEmail != "b@x.com" {
		t.Fatalf("unexpected file record: %+v", files[0])
	}
	if files[0].Size != int64(len(payload)) || files[0].ContentType != "application/pdf" {
		t.Fatalf("unexpected file metadata: %+v", files[0])
	}

	entries, err := a.ActivityLog(ctx, space.ID, member.Email)
	if err != nil {
		t.Fatalf("activity log: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	want := []string{"uploaded file", "added member", "created space"}
	if len(actions) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected actions %v in descending time order, got %v", want, actions)
		}
	}

	// b is a member but not an admin; a is the implicit admin owner.
	stream, got, err := a.DownloadFile(ctx, file.ID, member.Email)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("downloaded bytes differ")
	}
	if got.OriginalFilename != "report.pdf" {
		t.Fatalf("unexpected download filename: %q", got.OriginalFilename)
	}
}

func TestMembershipPredicates(t *testing.T) {
	a, metadata := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	if admin, _ := metadata.IsAdmin(ctx, space.ID, owner.Email); !admin {
		t.Fatalf("owner must be admin")
	}
	if admin, _ := metadata.IsAdmin(ctx, space.ID, member.Email); admin {
		t.Fatalf("plain member must not be admin")
	}
	if ok, _ := metadata.IsMember(ctx, space.ID, member.Email); !ok {
		t.Fatalf("added member must be a member")
	}
	if ok, _ := metadata.IsMember(ctx, space.ID, other.Email); ok {
		t.Fatalf("stranger must not be a member")
	}
}

func TestAddMemberIsIdempotent(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)
	mustAddMember(t, a, space.ID, member.Email)

	got, err := a.GetSpace(ctx, space.ID, owner.Email)
	if err != nil {
		t.Fatalf("get space: %v", err)
	}
	if len(got.MemberEmails) != 1 || got.MemberEmails[0] != "b@x.com" {
		t.Fatalf("expected single cached member, got %v", got.MemberEmails)
	}
	if len(got.Members) != 2 {
		t.Fatalf("expected owner + one member, got %+v", got.Members)
	}

	entries, _ := a.ActivityLog(ctx, space.ID, owner.Email)
	added := 0
	for _, e := range entries {
		if e.Action == "added member" {
			added++
		}
	}
	if added != 2 {
		t.Fatalf("both add calls must be audited, got %d entries", added)
	}
}

func TestAddMemberRejectsOwner(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)

	err := a.AddMember(context.Background(), space.ID, "A@X.com", owner.Email)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "already the owner") {
		t.Fatalf("expected owner rejection message, got %v", err)
	}
}

func TestAddMemberRequiresAdmin(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	err := a.AddMember(context.Background(), space.ID, other.Email, member.Email)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestUpdateMemberRole(t *testing.T) {
	a, metadata := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	// Lowercase input is normalized.
	if err := a.UpdateMemberRole(ctx, space.ID, member.Email, "admin", owner.Email); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if admin, _ := metadata.IsAdmin(ctx, space.ID, member.Email); !admin {
		t.Fatalf("member should be admin after role update")
	}

	entries, _ := a.ActivityLog(ctx, space.ID, owner.Email)
	if entries[0].Action != "updated member role" || entries[0].Details != "b@x.com -> ADMIN" {
		t.Fatalf("unexpected role-change audit entry: %+v", entries[0])
	}
}

func TestUpdateMemberRoleRejectsOwner(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)

	err := a.UpdateMemberRole(context.Background(), space.ID, owner.Email, "MEMBER", owner.Email)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for owner role change, got %v", err)
	}
}

func TestUpdateMemberRoleRejectsUnknownRole(t *testing.T) {
	a, metadata := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	err := a.UpdateMemberRole(ctx, space.ID, member.Email, "SUPERADMIN", owner.Email)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	// The stored row must be untouched.
	if admin, _ := metadata.IsAdmin(ctx, space.ID, member.Email); admin {
		t.Fatalf("rejected role update must not change the row")
	}
}

func TestUpdateMemberRoleUnknownMember(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)

	err := a.UpdateMemberRole(context.Background(), space.ID, other.Email, "ADMIN", owner.Email)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	a, metadata := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	if err := a.RemoveMember(ctx, space.ID, member.Email, owner.Email); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if ok, _ := metadata.IsMember(ctx, space.ID, member.Email); ok {
		t.Fatalf("removed member must not be a member")
	}
	spaces, err := a.ListSpaces(ctx, member.Email)
	if err != nil {
		t.Fatalf("list spaces: %v", err)
	}
	for _, s := range spaces {
		if s.ID == space.ID {
			t.Fatalf("removed member must not see the space")
		}
	}
}

func TestRemoveOwnerRejected(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)

	err := a.RemoveMember(context.Background(), space.ID, owner.Email, owner.Email)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestDeleteFilePermissions(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)
	mustAddMember(t, a, space.ID, other.Email)

	file, err := a.UploadFile(ctx, strings.NewReader("hello"), space.ID, "notes.txt", "text/plain", 5, member)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// A non-admin, non-uploader member is refused.
	if err := a.DeleteFile(ctx, file.ID, other.Email); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// The uploader may delete their own file without being an admin.
	if err := a.DeleteFile(ctx, file.ID, member.Email); err != nil {
		t.Fatalf("uploader delete: %v", err)
	}
	if err := a.DeleteFile(ctx, file.ID, member.Email); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteSpaceCascades(t *testing.T) {
	a, metadata := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)
	mustAddMember(t, a, space.ID, other.Email)

	var fileIDs []string
	for _, name := range []string{"one.txt", "two.txt", "three.txt"} {
		file, err := a.UploadFile(ctx, strings.NewReader(name), space.ID, name, "text/plain", int64(len(name)), owner)
		if err != nil {
			t.Fatalf("upload %s: %v", name, err)
		}
		fileIDs = append(fileIDs, file.ID)
	}

	if err := a.DeleteSpace(ctx, space.ID, owner.Email); err != nil {
		t.Fatalf("delete space: %v", err)
	}

	if _, err := a.GetSpace(ctx, space.ID, owner.Email); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for deleted space, got %v", err)
	}
	for _, id := range fileIDs {
		if _, ok, _ := metadata.GetFile(ctx, id); ok {
			t.Fatalf("file row %s must be gone", id)
		}
	}
	spaces, _ := a.ListSpaces(ctx, member.Email)
	if len(spaces) != 0 {
		t.Fatalf("member must not see deleted space: %+v", spaces)
	}
}

func TestDeleteSpaceRequiresAdmin(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	if err := a.DeleteSpace(context.Background(), space.ID, member.Email); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestDeleteSpaceStorageFailureKeepsMetadata(t *testing.T) {
	metadata := store.NewMemoryStore()
	blobs := &failingBlobStore{}
	a, err := New(Config{Store: metadata, Blobs: blobs})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx := context.Background()

	space := mustCreateSpace(t, a)

	err = a.DeleteSpace(ctx, space.ID, owner.Email)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	// Blob deletion failed before the cascade, so metadata is intact.
	if _, ok, _ := metadata.GetSpace(ctx, space.ID); !ok {
		t.Fatalf("space metadata must survive a storage failure")
	}
}

func TestDownloadRequiresMembership(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	file, err := a.UploadFile(ctx, strings.NewReader("secret"), space.ID, "secret.txt", "text/plain", 6, owner)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, _, err := a.DownloadFile(ctx, file.ID, other.Email); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// Downloads leave no audit entry.
	before, _ := a.ActivityLog(ctx, space.ID, owner.Email)
	stream, _, err := a.DownloadFile(ctx, file.ID, owner.Email)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	stream.Close()
	after, _ := a.ActivityLog(ctx, space.ID, owner.Email)
	if len(after) != len(before) {
		t.Fatalf("download must not be audited")
	}
}

func TestUploadRequiresMembership(t *testing.T) {
	a, _ := newTestAppPair(t)
	space := mustCreateSpace(t, a)

	_, err := a.UploadFile(context.Background(), strings.NewReader("x"), space.ID, "x.txt", "text/plain", 1, other)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestUploadUnknownSpace(t *testing.T) {
	a, _ := newTestAppPair(t)

	_, err := a.UploadFile(context.Background(), strings.NewReader("x"), "missing", "x.txt", "text/plain", 1, owner)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSpaceRequiresAdmin(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	mustAddMember(t, a, space.ID, member.Email)

	if _, err := a.UpdateSpace(ctx, space.ID, "Renamed", "", member.Email); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	updated, err := a.UpdateSpace(ctx, space.ID, "Renamed", "new description", owner.Email)
	if err != nil {
		t.Fatalf("update space: %v", err)
	}
	if updated.Name != "Renamed" || updated.Description != "new description" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
}

func TestMemberCacheMatchesRowsAfterEveryMutation(t *testing.T) {
	a, _ := newTestAppPair(t)
	ctx := context.Background()

	space := mustCreateSpace(t, a)
	check := func(wantEmails ...string) {
		t.Helper()
		got, err := a.GetSpace(ctx, space.ID, owner.Email)
		if err != nil {
			t.Fatalf("get space: %v", err)
		}
		if len(got.MemberEmails) != len(wantEmails) {
			t.Fatalf("cache %v, want %v", got.MemberEmails, wantEmails)
		}
		for i := range wantEmails {
			if got.MemberEmails[i] != wantEmails[i] {
				t.Fatalf("cache %v, want %v", got.MemberEmails, wantEmails)
			}
		}
		// The listing is always the owner plus the stored rows, owner first.
		if !got.Members[0].Owner || got.Members[0].Email != got.OwnerEmail {
			t.Fatalf("owner must lead the member listing: %+v", got.Members)
		}
		if len(got.Members) != len(wantEmails)+1 {
			t.Fatalf("listing %+v, want owner plus %v", got.Members, wantEmails)
		}
	}

	check()
	mustAddMember(t, a, space.ID, "c@x.com")
	check("c@x.com")
	mustAddMember(t, a, space.ID, "b@x.com")
	check("b@x.com", "c@x.com") // cache is ordered by email
	if err := a.UpdateMemberRole(ctx, space.ID, "c@x.com", "ADMIN", owner.Email); err != nil {
		t.Fatalf("update role: %v", err)
	}
	check("b@x.com", "c@x.com")
	if err := a.RemoveMember(ctx, space.ID, "c@x.com", owner.Email); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	check("b@x.com")
}

// newTestAppPair returns the app plus the backing store for assertions.
func newTestAppPair(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	a, metadata, _ := newTestApp(t)
	return a, metadata
}

// failingBlobStore simulates a broken storage backend.
type failingBlobStore struct{}

func (f *failingBlobStore) Put(context.Context, io.Reader, string, string, string) (string, error) {
	return "", errors.New("backend down")
}

func (f *failingBlobStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("backend down")
}

func (f *failingBlobStore) Delete(context.Context, string) error {
	return errors.New("backend down")
}

func (f *failingBlobStore) DeleteAll(context.Context, string) error {
	return errors.New("backend down")
}
