// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Contact model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a contact is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - When the email unique index rejects a write, functions return ErrDuplicate.
//   - On other DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - CreateContact(ctx, db, c) -> *domain.Contact, error
//     Inserts a new row with a fresh UUID and UTC timestamps.
//
//   - ListContacts(ctx, db) -> []domain.Contact, error
//     Returns the full collection ordered by first name, last name, id.
//
//   - GetContact(ctx, db, id) -> *domain.Contact, error
//
//   - UpdateContact(ctx, db, id, c) -> *domain.Contact, error
//     Replaces every mutable column of the row identified by id.
//
//   - DeleteContact(ctx, db, id) -> error
//
// Usage:
//
//	c, err := repo.CreateContact(ctx, db, &domain.Contact{Email: "a@b.com"})
//	if errors.Is(err, repo.ErrDuplicate) {
//	    // email already taken
//	}
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-contacts/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a unique index rejected the write (the
// contact email, or an idempotency key).
var ErrDuplicate = errors.New("duplicate")

// CreateContact inserts c as a new row. Any client-supplied ID is replaced by
// a random UUID; CreatedAt and UpdatedAt are set to the current UTC time.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) (*domain.Contact, error) {
	now := time.Now().UTC()
	row := *c
	row.ID = uuid.NewString()
	row.CreatedAt = now
	row.UpdatedAt = now
	row.PendingSync = false

	if err := db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &row, nil
}

// ListContacts returns every contact ordered by first name, last name and id.
// It returns an empty slice when the table is empty.
func ListContacts(ctx context.Context, db *gorm.DB) ([]domain.Contact, error) {
	out := []domain.Contact{}
	err := db.WithContext(ctx).
		Order("name_first asc, name_last asc, id asc").
		Find(&out).Error
	return out, err
}

// GetContact fetches a single contact by id, or ErrNotFound.
func GetContact(ctx context.Context, db *gorm.DB, id string) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateContact overwrites all mutable columns of the contact identified by
// id with the values in c (zero values included). ID and CreatedAt are kept.
// It returns the stored row after the update.
func UpdateContact(ctx context.Context, db *gorm.DB, id string, c *domain.Contact) (*domain.Contact, error) {
	row := *c
	row.ID = id
	row.UpdatedAt = time.Now().UTC()

	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", id).
		Select("*").
		Omit("id", "created_at").
		Updates(&row)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrDuplicate
		}
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return GetContact(ctx, db, id)
}

// DeleteContact removes the contact identified by id. It returns ErrNotFound
// when no row matched.
func DeleteContact(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Contact{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects unique-constraint violations across drivers
// that may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
