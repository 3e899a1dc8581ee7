package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"spacedrive/pkg/domain"
)

const migrateLockID int64 = 52215221

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&SpaceModel{}, &SpaceMemberModel{}, &SpaceFileModel{}, &ActivityModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateSpace inserts a new space record.
func (s *GormStore) CreateSpace(ctx context.Context, space domain.Space) error {
	model := spaceToModel(space)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetSpace retrieves a space with its membership listing populated.
func (s *GormStore) GetSpace(ctx context.Context, id string) (domain.Space, bool, error) {
	var model SpaceModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Space{}, false, nil
		}
		return domain.Space{}, false, err
	}
	space := spaceFromModel(model)
	if err := s.populateMembers(ctx, &space); err != nil {
		return domain.Space{}, false, err
	}
	return space, true, nil
}

// ListSpacesForUser returns spaces where the user is owner or a cached member.
// The cache is a jsonb array, so membership matches exactly rather than by
// substring.
func (s *GormStore) ListSpacesForUser(ctx context.Context, email string) ([]domain.Space, error) {
	var models []SpaceModel
	if err := s.db.WithContext(ctx).
		Where("admin_email = ? OR member_emails_cache @> ?", email, emailJSON(email)).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	spaces := make([]domain.Space, 0, len(models))
	for _, m := range models {
		space := spaceFromModel(m)
		if err := s.populateMembers(ctx, &space); err != nil {
			return nil, err
		}
		spaces = append(spaces, space)
	}
	return spaces, nil
}

// UpdateSpace overwrites name and description. Membership rows and the cache
// are never touched here; the cache only moves with its rows.
func (s *GormStore) UpdateSpace(ctx context.Context, space domain.Space) error {
	return s.db.WithContext(ctx).Model(&SpaceModel{}).
		Where("id = ?", space.ID).
		Updates(map[string]any{
			"name":        space.Name,
			"description": space.Description,
		}).Error
}

// DeleteSpace removes file rows, membership rows, activity, then the space,
// in one transaction, respecting foreign-key direction.
func (s *GormStore) DeleteSpace(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SpaceFileModel{}, "space_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&SpaceMemberModel{}, "space_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ActivityModel{}, "space_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&SpaceModel{}, "id = ?", id).Error
	})
}

// AddMember inserts a membership row and resyncs the email cache in the same
// transaction. Inserting an existing member is a no-op.
func (s *GormStore) AddMember(ctx context.Context, spaceID string, member domain.SpaceMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := SpaceMemberModel{
			ID:          uuid.NewString(),
			SpaceID:     spaceID,
			MemberEmail: member.Email,
			Role:        string(member.Role),
			AddedAt:     member.AddedAt,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "space_id"}, {Name: "member_email"}},
			DoNothing: true,
		}).Create(&model).Error; err != nil {
			return err
		}
		return syncMemberCache(tx, spaceID)
	})
}

// RemoveMember deletes the membership row and resyncs the email cache.
func (s *GormStore) RemoveMember(ctx context.Context, spaceID, email string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SpaceMemberModel{}, "space_id = ? AND member_email = ?", spaceID, email).Error; err != nil {
			return err
		}
		return syncMemberCache(tx, spaceID)
	})
}

// UpdateMemberRole changes the stored role. Returns ErrMemberNotFound when no
// row matches.
func (s *GormStore) UpdateMemberRole(ctx context.Context, spaceID, email string, role domain.Role) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SpaceMemberModel{}).
			Where("space_id = ? AND member_email = ?", spaceID, email).
			Update("role", string(role))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMemberNotFound
		}
		return syncMemberCache(tx, spaceID)
	})
}

// IsMember reports whether the user may read the space.
func (s *GormStore) IsMember(ctx context.Context, spaceID, email string) (bool, error) {
	_, found, err := s.resolveRole(ctx, spaceID, email)
	return found, err
}

// IsAdmin reports whether the user may administer the space.
func (s *GormStore) IsAdmin(ctx context.Context, spaceID, email string) (bool, error) {
	role, found, err := s.resolveRole(ctx, spaceID, email)
	return found && role == domain.RoleAdmin, err
}

// resolveRole is the single membership-resolution point: the owner is an
// implicit ADMIN, everyone else resolves via their stored row.
func (s *GormStore) resolveRole(ctx context.Context, spaceID, email string) (domain.Role, bool, error) {
	var ownerCount int64
	if err := s.db.WithContext(ctx).Model(&SpaceModel{}).
		Where("id = ? AND admin_email = ?", spaceID, email).
		Count(&ownerCount).Error; err != nil {
		return "", false, err
	}
	if ownerCount > 0 {
		return domain.RoleAdmin, true, nil
	}
	var row SpaceMemberModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ? AND member_email = ?", spaceID, email).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	return domain.Role(row.Role), true, nil
}

// CreateFile inserts a file record.
func (s *GormStore) CreateFile(ctx context.Context, file domain.SpaceFile) error {
	model := fileToModel(file)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetFile retrieves a file record.
func (s *GormStore) GetFile(ctx context.Context, id string) (domain.SpaceFile, bool, error) {
	var model SpaceFileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SpaceFile{}, false, nil
		}
		return domain.SpaceFile{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFilesForSpace returns files ordered by upload time, most recent first.
func (s *GormStore) ListFilesForSpace(ctx context.Context, spaceID string) ([]domain.SpaceFile, error) {
	var models []SpaceFileModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("uploaded_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]domain.SpaceFile, 0, len(models))
	for _, m := range models {
		files = append(files, fileFromModel(m))
	}
	return files, nil
}

// DeleteFile removes a file record.
func (s *GormStore) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&SpaceFileModel{}, "id = ?", id).Error
}

// LogActivity appends an audit entry.
func (s *GormStore) LogActivity(ctx context.Context, entry domain.Activity) error {
	model := ActivityModel{
		ID:        entry.ID,
		SpaceID:   entry.SpaceID,
		UserEmail: entry.UserEmail,
		Action:    entry.Action,
		Details:   entry.Details,
		Timestamp: entry.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListActivity returns the most recent entries, newest first.
func (s *GormStore) ListActivity(ctx context.Context, spaceID string) ([]domain.Activity, error) {
	var models []ActivityModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("timestamp DESC").
		Limit(ActivityLimit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	entries := make([]domain.Activity, 0, len(models))
	for _, m := range models {
		entries = append(entries, domain.Activity{
			ID:        m.ID,
			SpaceID:   m.SpaceID,
			UserEmail: m.UserEmail,
			Action:    m.Action,
			Details:   m.Details,
			Timestamp: m.Timestamp,
		})
	}
	return entries, nil
}

// syncMemberCache rewrites the space's cached email list from the membership
// rows so the cache stays a pure function of the table.
func syncMemberCache(tx *gorm.DB, spaceID string) error {
	var emails []string
	if err := tx.Model(&SpaceMemberModel{}).
		Where("space_id = ?", spaceID).
		Order("member_email ASC").
		Pluck("member_email", &emails).Error; err != nil {
		return err
	}
	raw, err := json.Marshal(emails)
	if err != nil {
		return err
	}
	return tx.Model(&SpaceModel{}).
		Where("id = ?", spaceID).
		Update("member_emails_cache", datatypes.JSON(raw)).Error
}

func (s *GormStore) populateMembers(ctx context.Context, space *domain.Space) error {
	var rows []SpaceMemberModel
	if err := s.db.WithContext(ctx).
		Where("space_id = ?", space.ID).
		Order("added_at ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	members := make([]domain.SpaceMember, 0, len(rows)+1)
	members = append(members, domain.SpaceMember{
		Email:   space.OwnerEmail,
		Role:    domain.RoleAdmin,
		AddedAt: space.CreatedAt,
		Owner:   true,
	})
	for _, row := range rows {
		role := domain.Role(row.Role)
		if role == "" {
			role = domain.RoleMember
		}
		members = append(members, domain.SpaceMember{
			Email:   row.MemberEmail,
			Role:    role,
			AddedAt: row.AddedAt,
		})
	}
	space.Members = members
	return nil
}

func emailJSON(email string) datatypes.JSON {
	raw, _ := json.Marshal([]string{email})
	return datatypes.JSON(raw)
}

func spaceToModel(space domain.Space) SpaceModel {
	emails := space.MemberEmails
	if emails == nil {
		emails = []string{}
	}
	raw, _ := json.Marshal(emails)
	return SpaceModel{
		ID:                space.ID,
		Name:              space.Name,
		Description:       space.Description,
		OwnerID:           space.OwnerID,
		OwnerEmail:        space.OwnerEmail,
		CreatedAt:         space.CreatedAt,
		MemberEmailsCache: datatypes.JSON(raw),
	}
}

func spaceFromModel(m SpaceModel) domain.Space {
	emails := []string{}
	if len(m.MemberEmailsCache) > 0 {
		_ = json.Unmarshal(m.MemberEmailsCache, &emails)
	}
	return domain.Space{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		OwnerID:      m.OwnerID,
		OwnerEmail:   m.OwnerEmail,
		CreatedAt:    m.CreatedAt,
		MemberEmails: emails,
	}
}

func fileToModel(f domain.SpaceFile) SpaceFileModel {
	return SpaceFileModel{
		ID:               f.ID,
		SpaceID:          f.SpaceID,
		OriginalFilename: f.OriginalFilename,
		StoragePath:      f.StoragePath,
		ContentType:      f.ContentType,
		Size:             f.Size,
		UploaderID:       f.UploaderID,
		UploaderEmail:    f.UploaderEmail,
		UploadedAt:       f.UploadedAt,
	}
}

func fileFromModel(m SpaceFileModel) domain.SpaceFile {
	return domain.SpaceFile{
		ID:               m.ID,
		SpaceID:          m.SpaceID,
		OriginalFilename: m.OriginalFilename,
		StoragePath:      m.StoragePath,
		ContentType:      m.ContentType,
		Size:             m.Size,
		UploaderID:       m.UploaderID,
		UploaderEmail:    m.UploaderEmail,
		UploadedAt:       m.UploadedAt,
	}
}
