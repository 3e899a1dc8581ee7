package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"spacedrive/pkg/domain"
)

// MemoryStore keeps metadata in-process. It backs tests and local development
// and upholds the same invariants as the database-backed store, including the
// derived member-email cache.
type MemoryStore struct {
	mu       sync.RWMutex
	spaces   map[string]domain.Space
	order    []string
	members  map[string][]domain.SpaceMember // stored rows only, never the owner
	files    map[string]domain.SpaceFile
	activity map[string][]domain.Activity
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		spaces:   make(map[string]domain.Space),
		members:  make(map[string][]domain.SpaceMember),
		files:    make(map[string]domain.SpaceFile),
		activity: make(map[string][]domain.Activity),
	}
}

// CreateSpace stores a space and tracks insertion order.
func (m *MemoryStore) CreateSpace(_ context.Context, space domain.Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.spaces[space.ID]; !exists {
		m.order = append(m.order, space.ID)
	}
	space.Members = nil
	m.spaces[space.ID] = space
	return nil
}

// GetSpace retrieves a space with its membership listing populated.
func (m *MemoryStore) GetSpace(_ context.Context, id string) (domain.Space, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	space, ok := m.spaces[id]
	if !ok {
		return domain.Space{}, false, nil
	}
	return m.withMembers(space), true, nil
}

// ListSpacesForUser returns spaces owned by the user or carrying the user in
// the member-email cache, in creation order.
func (m *MemoryStore) ListSpacesForUser(_ context.Context, email string) ([]domain.Space, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Space, 0)
	for _, id := range m.order {
		space, ok := m.spaces[id]
		if !ok {
			continue
		}
		if space.OwnerEmail == email || contains(space.MemberEmails, email) {
			res = append(res, m.withMembers(space))
		}
	}
	return res, nil
}

// UpdateSpace overwrites name and description.
func (m *MemoryStore) UpdateSpace(_ context.Context, space domain.Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.spaces[space.ID]
	if !ok {
		return nil
	}
	current.Name = space.Name
	current.Description = space.Description
	m.spaces[space.ID] = current
	return nil
}

// DeleteSpace removes the space with its files, members, and activity.
func (m *MemoryStore) DeleteSpace(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for fileID, file := range m.files {
		if file.SpaceID == id {
			delete(m.files, fileID)
		}
	}
	delete(m.members, id)
	delete(m.activity, id)
	delete(m.spaces, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// AddMember inserts a membership row unless one already exists, then resyncs
// the cache.
func (m *MemoryStore) AddMember(_ context.Context, spaceID string, member domain.SpaceMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.members[spaceID] {
		if existing.Email == member.Email {
			return nil
		}
	}
	member.Owner = false
	m.members[spaceID] = append(m.members[spaceID], member)
	m.syncMemberCache(spaceID)
	return nil
}

// RemoveMember deletes the membership row and resyncs the cache.
func (m *MemoryStore) RemoveMember(_ context.Context, spaceID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.members[spaceID]
	filtered := rows[:0]
	for _, row := range rows {
		if row.Email != email {
			filtered = append(filtered, row)
		}
	}
	m.members[spaceID] = filtered
	m.syncMemberCache(spaceID)
	return nil
}

// UpdateMemberRole changes a stored role or reports ErrMemberNotFound.
func (m *MemoryStore) UpdateMemberRole(_ context.Context, spaceID, email string, role domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.members[spaceID]
	for i := range rows {
		if rows[i].Email == email {
			rows[i].Role = role
			m.syncMemberCache(spaceID)
			return nil
		}
	}
	return ErrMemberNotFound
}

// IsMember reports whether the user may read the space.
func (m *MemoryStore) IsMember(_ context.Context, spaceID, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := m.resolveRole(spaceID, email)
	return found, nil
}

// IsAdmin reports whether the user may administer the space.
func (m *MemoryStore) IsAdmin(_ context.Context, spaceID, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, found := m.resolveRole(spaceID, email)
	return found && role == domain.RoleAdmin, nil
}

func (m *MemoryStore) resolveRole(spaceID, email string) (domain.Role, bool) {
	space, ok := m.spaces[spaceID]
	if !ok {
		return "", false
	}
	if space.OwnerEmail == email {
		return domain.RoleAdmin, true
	}
	for _, row := range m.members[spaceID] {
		if row.Email == email {
			return row.Role, true
		}
	}
	return "", false
}

// CreateFile stores a file record.
func (m *MemoryStore) CreateFile(_ context.Context, file domain.SpaceFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = file
	return nil
}

// GetFile retrieves a file record.
func (m *MemoryStore) GetFile(_ context.Context, id string) (domain.SpaceFile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.files[id]
	return file, ok, nil
}

// ListFilesForSpace returns files most recent first.
func (m *MemoryStore) ListFilesForSpace(_ context.Context, spaceID string) ([]domain.SpaceFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.SpaceFile, 0)
	for _, file := range m.files {
		if file.SpaceID == spaceID {
			res = append(res, file)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].UploadedAt.After(res[j].UploadedAt)
	})
	return res, nil
}

// DeleteFile removes a file record.
func (m *MemoryStore) DeleteFile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

// LogActivity appends an audit entry, assigning an ID when absent.
func (m *MemoryStore) LogActivity(_ context.Context, entry domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.activity[entry.SpaceID] = append(m.activity[entry.SpaceID], entry)
	return nil
}

// ListActivity returns up to ActivityLimit entries, newest first.
func (m *MemoryStore) ListActivity(_ context.Context, spaceID string) ([]domain.Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.activity[spaceID]
	res := make([]domain.Activity, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		res = append(res, entries[i])
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Timestamp.After(res[j].Timestamp)
	})
	if len(res) > ActivityLimit {
		res = res[:ActivityLimit]
	}
	return res, nil
}

// syncMemberCache mirrors the database store: the cache is rewritten from the
// rows, ordered by email, on every membership mutation.
func (m *MemoryStore) syncMemberCache(spaceID string) {
	space, ok := m.spaces[spaceID]
	if !ok {
		return
	}
	emails := make([]string, 0, len(m.members[spaceID]))
	for _, row := range m.members[spaceID] {
		emails = append(emails, row.Email)
	}
	sort.Strings(emails)
	space.MemberEmails = emails
	m.spaces[spaceID] = space
}

func (m *MemoryStore) withMembers(space domain.Space) domain.Space {
	rows := m.members[space.ID]
	members := make([]domain.SpaceMember, 0, len(rows)+1)
	members = append(members, domain.SpaceMember{
		Email:   space.OwnerEmail,
		Role:    domain.RoleAdmin,
		AddedAt: space.CreatedAt,
		Owner:   true,
	})
	sorted := make([]domain.SpaceMember, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AddedAt.Before(sorted[j].AddedAt)
	})
	members = append(members, sorted...)
	space.Members = members
	if space.MemberEmails == nil {
		space.MemberEmails = []string{}
	}
	return space
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
