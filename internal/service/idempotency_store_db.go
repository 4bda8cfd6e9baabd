package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sandeepkv93/product-catalog-backend/internal/domain"
	"github.com/sandeepkv93/product-catalog-backend/internal/observability"
)

const maxBeginAttempts = 3

type DBIdempotencyStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBIdempotencyStore(db *gorm.DB) *DBIdempotencyStore {
	return &DBIdempotencyStore{db: db, now: time.Now}
}

func (s *DBIdempotencyStore) CleanupExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	scoped := s.db.WithContext(ctx)
	sub := scoped.Model(&domain.IdempotencyRecord{}).
		Select("id").
		Where("expires_at <= ?", now.UTC()).
		Order("id ASC").
		Limit(batchSize)
	res := scoped.
		Where("id IN (?)", sub).
		Delete(&domain.IdempotencyRecord{})
	if res.Error != nil {
		observability.RecordIdempotencyCleanupRun(ctx, "error")
		return res.RowsAffected, fmt.Errorf("cleanup idempotency records: %w", res.Error)
	}
	observability.RecordIdempotencyCleanupRun(ctx, "success")
	observability.RecordIdempotencyCleanupDeletedRows(ctx, res.RowsAffected)
	return res.RowsAffected, nil
}

// RunCleanupLoop deletes expired records every interval until ctx is done.
func (s *DBIdempotencyStore) RunCleanupLoop(ctx context.Context, interval time.Duration, batchSize int, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.CleanupExpired(ctx, s.now().UTC(), batchSize)
			if err != nil {
				logger.Warn("idempotency db cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("idempotency db cleanup removed expired records", "deleted", deleted)
			}
		}
	}
}

// Begin claims key for fingerprint. A new key is claimed by an insert that
// ignores conflicts and an expired key by a conditional update, so no write
// waits on a row lock. Anything else is classified from the stored record.
func (s *DBIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	for range maxBeginAttempts {
		result, settled, err := s.tryBegin(ctx, scope, key, fingerprint, ttl)
		if err != nil {
			return IdempotencyBeginResult{}, fmt.Errorf("begin idempotent request: %w", err)
		}
		if settled {
			return result, nil
		}
	}
	return IdempotencyBeginResult{}, fmt.Errorf("begin idempotent request: %w", errClaimRaced)
}

// errClaimRaced means the record kept disappearing between the failed claim
// and the read, which only happens while cleanup is deleting it.
var errClaimRaced = errors.New("idempotency record changed during claim")

func (s *DBIdempotencyStore) tryBegin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, bool, error) {
	now := s.now().UTC()
	db := s.db.WithContext(ctx)
	claimed := IdempotencyBeginResult{State: IdempotencyStateNew}

	inserted := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&domain.IdempotencyRecord{
		Scope:           scope,
		IdempotencyKey:  key,
		FingerprintHash: fingerprint,
		Status:          string(IdempotencyStateInProgress),
		ExpiresAt:       now.Add(ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if inserted.Error != nil {
		return IdempotencyBeginResult{}, false, inserted.Error
	}
	if inserted.RowsAffected == 1 {
		return claimed, true, nil
	}

	reclaimed := db.Model(&domain.IdempotencyRecord{}).
		Where("scope = ? AND idempotency_key = ? AND expires_at <= ?", scope, key, now).
		Updates(map[string]any{
			"fingerprint_hash": fingerprint,
			"status":           string(IdempotencyStateInProgress),
			"response_status":  0,
			"response_body":    nil,
			"content_type":     "",
			"expires_at":       now.Add(ttl),
			"updated_at":       now,
		})
	if reclaimed.Error != nil {
		return IdempotencyBeginResult{}, false, reclaimed.Error
	}
	if reclaimed.RowsAffected == 1 {
		return claimed, true, nil
	}

	var rec domain.IdempotencyRecord
	err := db.Where("scope = ? AND idempotency_key = ?", scope, key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return IdempotencyBeginResult{}, false, nil
	}
	if err != nil {
		return IdempotencyBeginResult{}, false, err
	}
	return stateForRecord(rec.FingerprintHash, rec.Status, fingerprint, CachedHTTPResponse{
		StatusCode:  rec.ResponseStatus,
		ContentType: rec.ContentType,
		Body:        rec.ResponseBody,
	}), true, nil
}

func (s *DBIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&domain.IdempotencyRecord{}).
		Where("scope = ? AND idempotency_key = ? AND fingerprint_hash = ?", scope, key, fingerprint).
		Where("status <> ?", idempotencyStatusCompleted).
		Updates(map[string]any{
			"status":          idempotencyStatusCompleted,
			"response_status": response.StatusCode,
			"response_body":   response.Body,
			"content_type":    response.ContentType,
			"expires_at":      now.Add(ttl),
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("complete idempotent request: %w", res.Error)
	}
	return nil
}

func (s *DBIdempotencyStore) Release(ctx context.Context, scope, key, fingerprint string) error {
	err := s.db.WithContext(ctx).
		Where("scope = ? AND idempotency_key = ? AND fingerprint_hash = ?", scope, key, fingerprint).
		Where("status <> ?", idempotencyStatusCompleted).
		Delete(&domain.IdempotencyRecord{}).Error
	if err != nil {
		return fmt.Errorf("release idempotent request: %w", err)
	}
	return nil
}

// stateForRecord classifies an unexpired claim for an incoming fingerprint.
func stateForRecord(storedFingerprint, status, fingerprint string, cached CachedHTTPResponse) IdempotencyBeginResult {
	if storedFingerprint != fingerprint {
		return IdempotencyBeginResult{State: IdempotencyStateConflict}
	}
	if status == idempotencyStatusCompleted {
		cached.Body = append([]byte(nil), cached.Body...)
		return IdempotencyBeginResult{State: IdempotencyStateReplay, Cached: &cached}
	}
	return IdempotencyBeginResult{State: IdempotencyStateInProgress}
}
