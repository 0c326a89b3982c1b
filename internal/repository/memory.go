package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"tourbook/internal/models"
)

type MemoryWishlistRepository struct {
	mu         sync.Mutex
	wishlists  map[string]map[string]time.Time
	rateLimits sync.Map
}

func NewMemoryWishlistRepository() *MemoryWishlistRepository {
	return &MemoryWishlistRepository{
		wishlists: make(map[string]map[string]time.Time),
	}
}

func (r *MemoryWishlistRepository) AddToWishlist(_ context.Context, userID, activityID string, savedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved, ok := r.wishlists[userID]
	if !ok {
		saved = make(map[string]time.Time)
		r.wishlists[userID] = saved
	}
	if _, exists := saved[activityID]; !exists {
		saved[activityID] = savedAt.Truncate(time.Second)
	}
	return nil
}

func (r *MemoryWishlistRepository) RemoveFromWishlist(_ context.Context, userID, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wishlists[userID], activityID)
	return nil
}

func (r *MemoryWishlistRepository) GetWishlist(_ context.Context, userID string) ([]models.WishlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]models.WishlistEntry, 0, len(r.wishlists[userID]))
	for id, at := range r.wishlists[userID] {
		entries = append(entries, models.WishlistEntry{ActivityID: id, SavedAt: at})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].SavedAt.Equal(entries[j].SavedAt) {
			return entries[i].ActivityID > entries[j].ActivityID
		}
		return entries[i].SavedAt.After(entries[j].SavedAt)
	})
	return entries, nil
}

func (r *MemoryWishlistRepository) ClearWishlist(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wishlists, userID)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryWishlistRepository) CheckRateLimit(_ context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(chatID)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(chatID, entry)
	return entry.count <= limit, nil
}
