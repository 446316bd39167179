package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"contractor-status-relay/internal/model"
)

// Store is the durable status store. Every operation runs in its own
// transaction: committed on success, rolled back on error.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a store on top of an opened and migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// timestamp returns the processing time used for every write, in UTC with
// whole seconds so stored values compare consistently.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err == nil || errors.Is(err, ErrConflict) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func scoped(tx *gorm.DB, requestNumber, positionNumber string) *gorm.DB {
	q := tx.Model(&model.Request{}).Where("request_number = ?", requestNumber)
	if positionNumber != "" {
		q = q.Where("position_number = ?", positionNumber)
	}
	return q
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func describe(requestNumber, positionNumber string) string {
	if positionNumber == "" {
		return requestNumber
	}
	return requestNumber + "/" + positionNumber
}

// AddRequest inserts a new request with the default status and returns its id.
// An existing (request, position) pair yields ErrConflict.
func (s *Store) AddRequest(ctx context.Context, requestNumber, positionNumber, comment, author string) (uint, error) {
	now := s.timestamp()
	req := model.Request{
		RequestNumber:   requestNumber,
		PositionNumber:  positionNumber,
		Comment:         optional(comment),
		CommentAuthor:   optional(author),
		Status:          model.DefaultStatus,
		CreatedAt:       now,
		StatusUpdatedAt: now,
	}

	log := logrus.WithFields(logrus.Fields{"request_number": requestNumber, "position_number": positionNumber})

	err := s.inTx(ctx, "add request", func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s/%s", ErrConflict, requestNumber, positionNumber)
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		log.Warn("Request already exists and cannot be duplicated")
		return 0, err
	}
	if err != nil {
		log.Errorf("Failed to insert request: %v", err)
		return 0, err
	}

	log.Infof("Request created with status '%s'", model.DefaultStatus)
	return req.ID, nil
}

// UpdateStatus sets a new status. With a position number exactly that record
// is touched; without one every record of the request is updated.
func (s *Store) UpdateStatus(ctx context.Context, requestNumber, newStatus, positionNumber string) (bool, error) {
	now := s.timestamp()
	var affected int64

	err := s.inTx(ctx, "update status", func(tx *gorm.DB) error {
		res := scoped(tx, requestNumber, positionNumber).Updates(map[string]any{
			"status":            newStatus,
			"status_updated_at": now,
		})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		logrus.Errorf("Failed to update status for %s: %v", describe(requestNumber, positionNumber), err)
		return false, err
	}

	if affected == 0 {
		logrus.Warnf("No request found for %s when setting status '%s'", describe(requestNumber, positionNumber), newStatus)
		return false, nil
	}
	logrus.Infof("Updated request %s to status '%s'", describe(requestNumber, positionNumber), newStatus)
	return true, nil
}

// UpdateComment overwrites comment and comment author using the same scoping
// as UpdateStatus. The status timestamp is left alone.
func (s *Store) UpdateComment(ctx context.Context, requestNumber, comment, positionNumber, author string) (bool, error) {
	var affected int64

	err := s.inTx(ctx, "update comment", func(tx *gorm.DB) error {
		res := scoped(tx, requestNumber, positionNumber).Updates(map[string]any{
			"comment":        optional(comment),
			"comment_author": optional(author),
		})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		logrus.Errorf("Failed to update comment for %s: %v", describe(requestNumber, positionNumber), err)
		return false, err
	}

	if affected == 0 {
		logrus.Warnf("No request found for %s when saving comment", describe(requestNumber, positionNumber))
		return false, nil
	}
	logrus.Infof("Updated comment for request %s", describe(requestNumber, positionNumber))
	return true, nil
}

// GetRequests lists requests, most recently updated first. A positive limit
// caps the result.
func (s *Store) GetRequests(ctx context.Context, limit int) ([]model.Request, error) {
	var requests []model.Request

	err := s.inTx(ctx, "get requests", func(tx *gorm.DB) error {
		q := tx.Order("status_updated_at desc").Order("id desc")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&requests).Error
	})
	if err != nil {
		logrus.Errorf("Failed to fetch requests: %v", err)
		return nil, err
	}
	return requests, nil
}

// GetDelayedRequests returns requests whose status was last updated strictly
// before now minus thresholdMinutes, oldest first.
func (s *Store) GetDelayedRequests(ctx context.Context, thresholdMinutes int) ([]model.Request, error) {
	cutoff := s.timestamp().Add(-time.Duration(thresholdMinutes) * time.Minute)
	var requests []model.Request

	err := s.inTx(ctx, "get delayed requests", func(tx *gorm.DB) error {
		return tx.Where("status_updated_at < ?", cutoff).
			Order("status_updated_at asc").
			Order("id asc").
			Find(&requests).Error
	})
	if err != nil {
		logrus.Errorf("Failed to fetch delayed requests: %v", err)
		return nil, err
	}
	return requests, nil
}

// BackdateRequest moves status_updated_at minutes into the past. It is used
// to stage stale requests.
func (s *Store) BackdateRequest(ctx context.Context, requestNumber string, minutes int, positionNumber string) (bool, error) {
	updatedAt := s.timestamp().Add(-time.Duration(minutes) * time.Minute)
	var affected int64

	err := s.inTx(ctx, "backdate request", func(tx *gorm.DB) error {
		res := scoped(tx, requestNumber, positionNumber).Update("status_updated_at", updatedAt)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		logrus.Errorf("Failed to backdate request %s: %v", describe(requestNumber, positionNumber), err)
		return false, err
	}

	if affected == 0 {
		logrus.Warnf("No request found for %s to backdate", describe(requestNumber, positionNumber))
		return false, nil
	}
	logrus.Infof("Request %s backdated by %d minutes", describe(requestNumber, positionNumber), minutes)
	return true, nil
}
