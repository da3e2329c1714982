// Package persistence holds optional storage backends. SqliteTokenStore is
// an alternate backing for tokenmanager.Manager, selected with
// token_store.backend: sqlite; the JSON file store in
// infrastructure/tokenstore remains the default per spec §6.
package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
)

// ProjectRecord is the gorm model backing a project row.
type ProjectRecord struct {
	ProjectID      string `gorm:"primaryKey"`
	RefreshToken   string
	AccessToken    string
	ExpiresAt      int64
	Enabled        bool
	DisabledReason string
	UpdatedAt      time.Time
}

// OAuthRecord is the gorm model backing the single OAuth client row.
type OAuthRecord struct {
	ID           uint `gorm:"primaryKey"`
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// SqliteTokenStore implements tokenmanager.Store over a sqlite database,
// mirroring the teacher's gorm connection/auto-migrate pattern.
type SqliteTokenStore struct {
	db *gorm.DB
}

// NewSqliteTokenStore opens (and migrates) the sqlite database at dsn.
func NewSqliteTokenStore(dsn string) (*SqliteTokenStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to token store database: %w", err)
	}

	if err := db.AutoMigrate(&ProjectRecord{}, &OAuthRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate token store database: %w", err)
	}

	return &SqliteTokenStore{db: db}, nil
}

// Load reads the project pool and OAuth config back into domain entities.
func (s *SqliteTokenStore) Load() (*entity.ProjectPool, *entity.OAuthConfig, error) {
	var records []ProjectRecord
	if err := s.db.Find(&records).Error; err != nil {
		return nil, nil, fmt.Errorf("loading projects: %w", err)
	}

	projects := make([]*entity.Project, 0, len(records))
	for _, r := range records {
		projects = append(projects, &entity.Project{
			ProjectID:      r.ProjectID,
			RefreshToken:   r.RefreshToken,
			AccessToken:    r.AccessToken,
			ExpiresAt:      r.ExpiresAt,
			Enabled:        r.Enabled,
			DisabledReason: r.DisabledReason,
			SessionID:      uuid.NewString(),
		})
	}

	var oauthRecord OAuthRecord
	oauth := &entity.OAuthConfig{}
	if err := s.db.First(&oauthRecord).Error; err == nil {
		oauth.ClientID = oauthRecord.ClientID
		oauth.ClientSecret = oauthRecord.ClientSecret
		oauth.TokenURL = oauthRecord.TokenURL
	}

	return &entity.ProjectPool{Projects: projects}, oauth, nil
}

// Save implements tokenmanager.Store: whole-pool upsert, matching the JSON
// store's read-modify-write-the-lot semantics (spec §6 invariant).
func (s *SqliteTokenStore) Save(pool *entity.ProjectPool, oauth *entity.OAuthConfig) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, p := range pool.Projects {
			record := ProjectRecord{
				ProjectID:      p.ProjectID,
				RefreshToken:   p.RefreshToken,
				AccessToken:    p.AccessToken,
				ExpiresAt:      p.ExpiresAt,
				Enabled:        p.Enabled,
				DisabledReason: p.DisabledReason,
				UpdatedAt:      time.Now().UTC(),
			}
			if err := tx.Save(&record).Error; err != nil {
				return fmt.Errorf("saving project %s: %w", p.ProjectID, err)
			}
		}

		oauthRecord := OAuthRecord{ID: 1, ClientID: oauth.ClientID, ClientSecret: oauth.ClientSecret, TokenURL: oauth.TokenURL}
		return tx.Save(&oauthRecord).Error
	})
}
