package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverWishlistRepository serves from primary (Redis) and switches to
// fallback (memory) on the first primary error, probing primary again once
// per recoveryInterval.
type FailoverWishlistRepository struct {
	primary   domain.WishlistRepository
	fallback  domain.WishlistRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverWishlistRepository(primary, fallback domain.WishlistRepository, logger *zerolog.Logger) *FailoverWishlistRepository {
	return &FailoverWishlistRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverWishlistRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverWishlistRepository) primaryResult(err error) bool {
	if err == nil {
		if r.isDown.Swap(false) {
			r.logger.Info().Msg("Primary wishlist repository recovered")
		}
		return true
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary wishlist repository failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
	return false
}

func (r *FailoverWishlistRepository) AddToWishlist(ctx context.Context, userID, activityID string, savedAt time.Time) error {
	if r.usePrimary() && r.primaryResult(r.primary.AddToWishlist(ctx, userID, activityID, savedAt)) {
		return nil
	}
	return r.fallback.AddToWishlist(ctx, userID, activityID, savedAt)
}

func (r *FailoverWishlistRepository) RemoveFromWishlist(ctx context.Context, userID, activityID string) error {
	if r.usePrimary() && r.primaryResult(r.primary.RemoveFromWishlist(ctx, userID, activityID)) {
		return nil
	}
	return r.fallback.RemoveFromWishlist(ctx, userID, activityID)
}

func (r *FailoverWishlistRepository) GetWishlist(ctx context.Context, userID string) ([]models.WishlistEntry, error) {
	if r.usePrimary() {
		entries, err := r.primary.GetWishlist(ctx, userID)
		if r.primaryResult(err) {
			return entries, nil
		}
	}
	return r.fallback.GetWishlist(ctx, userID)
}

func (r *FailoverWishlistRepository) ClearWishlist(ctx context.Context, userID string) error {
	if r.usePrimary() {
		r.primaryResult(r.primary.ClearWishlist(ctx, userID))
	}
	// memory may hold entries saved while primary was down
	return r.fallback.ClearWishlist(ctx, userID)
}

func (r *FailoverWishlistRepository) CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, chatID, limit, window)
		if r.primaryResult(err) {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, chatID, limit, window)
}
