// Package textshare stores short-lived text blobs retrievable by code,
// with optional password protection.
package textshare

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/r-file/rfile/internal/codegen"
)

var (
	ErrNotFound         = errors.New("share not found or expired")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrContentTooLarge  = errors.New("content exceeds size limit")
	ErrInvalidExpiry    = errors.New("invalid expiry option")
	ErrGenerationFailed = errors.New("could not generate a unique code")
)

// MaxContentSize caps the stored blob at 10 KiB.
const MaxContentSize = 10 * 1024

// ExpiryOptions are the accepted lifetimes in minutes.
var ExpiryOptions = []int{30, 60, 1440}

const createAttempts = 10

type TextShare struct {
	ID           uint   `gorm:"primaryKey"`
	Code         string `gorm:"uniqueIndex;size:10"`
	Content      string
	PasswordHash string
	ExpiresAt    time.Time `gorm:"index"`
	CreatedAt    time.Time
	ViewCount    int
}

type CreateResult struct {
	Code        string
	ExpiresAt   time.Time
	HasPassword bool
}

type GetResult struct {
	Content   string
	ExpiresAt time.Time
	ViewCount int
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.AutoMigrate(&TextShare{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create stores content under a fresh unique code. An empty password
// leaves the share open.
func (s *Store) Create(content string, expiresIn int, password string) (CreateResult, error) {
	if len(content) > MaxContentSize {
		return CreateResult{}, ErrContentTooLarge
	}
	if !validExpiry(expiresIn) {
		return CreateResult{}, ErrInvalidExpiry
	}

	code := ""
	for i := 0; i < createAttempts; i++ {
		candidate := codegen.Generate()
		var count int64
		if err := s.db.Model(&TextShare{}).Where("code = ?", candidate).Count(&count).Error; err != nil {
			return CreateResult{}, err
		}
		if count == 0 {
			code = candidate
			break
		}
	}
	if code == "" {
		return CreateResult{}, ErrGenerationFailed
	}

	hash := ""
	if password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return CreateResult{}, fmt.Errorf("hashing password: %w", err)
		}
		hash = string(h)
	}

	share := TextShare{
		Code:         code,
		Content:      content,
		PasswordHash: hash,
		ExpiresAt:    time.Now().Add(time.Duration(expiresIn) * time.Minute),
	}
	if err := s.db.Create(&share).Error; err != nil {
		return CreateResult{}, err
	}

	return CreateResult{
		Code:        share.Code,
		ExpiresAt:   share.ExpiresAt,
		HasPassword: hash != "",
	}, nil
}

// Get returns the share's content, checking the password if one was set
// and incrementing the view counter.
func (s *Store) Get(code, password string) (GetResult, error) {
	share, err := s.lookup(code)
	if err != nil {
		return GetResult{}, err
	}

	if share.PasswordHash != "" {
		if password == "" {
			return GetResult{}, ErrPasswordRequired
		}
		if bcrypt.CompareHashAndPassword([]byte(share.PasswordHash), []byte(password)) != nil {
			return GetResult{}, ErrInvalidPassword
		}
	}

	if err := s.db.Model(&share).Update("view_count", gorm.Expr("view_count + 1")).Error; err != nil {
		return GetResult{}, err
	}

	return GetResult{
		Content:   share.Content,
		ExpiresAt: share.ExpiresAt,
		ViewCount: share.ViewCount + 1,
	}, nil
}

// NeedsPassword reports whether the share requires a password to read.
func (s *Store) NeedsPassword(code string) (bool, error) {
	share, err := s.lookup(code)
	if err != nil {
		return false, err
	}
	return share.PasswordHash != "", nil
}

// PurgeExpired deletes shares past their expiry. Expired rows are
// already invisible to reads; this reclaims the space.
func (s *Store) PurgeExpired() (int64, error) {
	res := s.db.Where("expires_at <= ?", time.Now()).Delete(&TextShare{})
	return res.RowsAffected, res.Error
}

func (s *Store) lookup(code string) (TextShare, error) {
	var share TextShare
	err := s.db.Where("code = ? AND expires_at > ?", code, time.Now()).First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TextShare{}, ErrNotFound
	}
	if err != nil {
		return TextShare{}, err
	}
	return share, nil
}

func validExpiry(minutes int) bool {
	for _, opt := range ExpiryOptions {
		if minutes == opt {
			return true
		}
	}
	return false
}
