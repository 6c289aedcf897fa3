package chat

import (
	"context"
	"example.com/backstage/services/orderbot/internal/cache"
	"example.com/backstage/services/orderbot/internal/utils"

	"github.com/pkg/errors"
)

// Blacklist holds the numbers the bot ignores
type Blacklist struct {
	cache cache.Cache
}

// NewBlacklist creates a blacklist stored as a set in c
func NewBlacklist(c cache.Cache) *Blacklist {
	return &Blacklist{cache: c}
}

// Add blocks a number
func (b *Blacklist) Add(ctx context.Context, number string) error {
	if err := b.cache.AddToSet(ctx, cache.BlacklistKey, utils.NormalizePhone(number)); err != nil {
		return errors.Wrap(err, "failed to add number to blacklist")
	}
	return nil
}

// Remove unblocks a number
func (b *Blacklist) Remove(ctx context.Context, number string) error {
	if err := b.cache.RemoveFromSet(ctx, cache.BlacklistKey, utils.NormalizePhone(number)); err != nil {
		return errors.Wrap(err, "failed to remove number from blacklist")
	}
	return nil
}

// Contains reports whether a number is blocked
func (b *Blacklist) Contains(ctx context.Context, number string) (bool, error) {
	blocked, err := b.cache.IsMember(ctx, cache.BlacklistKey, utils.NormalizePhone(number))
	if err != nil {
		return false, errors.Wrap(err, "failed to check blacklist")
	}
	return blocked, nil
}
