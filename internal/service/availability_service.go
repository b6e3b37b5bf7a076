package service

import (
	"context"
	"fmt"
	"strconv"

	appErrors "github.com/noah-isme/olympiad-codes-api/pkg/errors"
)

type availabilityCounter interface {
	AvailableCounts(ctx context.Context, sessionID string, classNumber *int) (map[int]int, error)
}

// AvailabilityService reports free codes per class, cached between pool mutations.
type AvailabilityService struct {
	codes availabilityCounter
	cache *CacheService
}

// NewAvailabilityService constructs AvailabilityService.
func NewAvailabilityService(codes availabilityCounter, cache *CacheService) *AvailabilityService {
	return &AvailabilityService{codes: codes, cache: cache}
}

// AvailabilityKey is the cache key for a session and an optional class.
func AvailabilityKey(sessionID string, classNumber *int) string {
	scope := "all"
	if classNumber != nil {
		scope = strconv.Itoa(*classNumber)
	}
	return fmt.Sprintf("availability:%s:%s", sessionID, scope)
}

// Counts returns available codes per class. Classes with a pool but no free code report zero.
func (s *AvailabilityService) Counts(ctx context.Context, sessionID string, classNumber *int) (map[int]int, error) {
	key := AvailabilityKey(sessionID, classNumber)
	var cached map[int]int
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	counts, err := s.codes.AvailableCounts(ctx, sessionID, classNumber)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count available codes")
	}
	s.cache.Set(ctx, key, counts, 0)
	return counts, nil
}

// Invalidate drops cached counts of one session.
func (s *AvailabilityService) Invalidate(ctx context.Context, sessionID string) {
	if s == nil {
		return
	}
	s.cache.Invalidate(ctx, fmt.Sprintf("availability:%s:*", sessionID))
}

// InvalidateAll drops cached counts of every session.
func (s *AvailabilityService) InvalidateAll(ctx context.Context) {
	if s == nil {
		return
	}
	s.cache.Invalidate(ctx, "availability:*")
}

// OwnAvailable returns the free codes of a single class.
func (s *AvailabilityService) OwnAvailable(ctx context.Context, sessionID string, classNumber int) (int, error) {
	counts, err := s.Counts(ctx, sessionID, &classNumber)
	if err != nil {
		return 0, err
	}
	return counts[classNumber], nil
}
