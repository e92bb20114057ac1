package cache

import (
	"context"
	"fmt"
)

// Tags used by the recipe endpoints.
const (
	// TagRecipeListing marks every cached page of the recipe listing.
	TagRecipeListing = "recipe-listing"

	tagRecipePrefix    = "recipe:"
	tagUserSavedPrefix = "user-saved:"
)

// TagRecipe marks the cached view of a single recipe.
func TagRecipe(recipeID string) string {
	return tagRecipePrefix + recipeID
}

// TagUserSaved marks every cached saved-recipe view of one user, both the
// id list and the full objects.
func TagUserSaved(userID string) string {
	return tagUserSavedPrefix + userID
}

// Invalidator translates committed writes into tag purges.
//
// Contract:
//   - Call only after the write is durable.
//   - A returned error never means the write failed; callers log it and move
//     on. Staleness is then bounded by the entry TTL.
type Invalidator struct {
	cache Cache
}

// NewInvalidator creates an invalidator over c.
func NewInvalidator(c Cache) *Invalidator {
	return &Invalidator{cache: c}
}

// RecipeCreated purges every cached recipe listing page.
// Saved-recipe views are left alone.
func (i *Invalidator) RecipeCreated(ctx context.Context) (int, error) {
	return i.Invalidate(ctx, TagRecipeListing)
}

// SavedRecipesChanged purges the saved-recipe views of userID only.
// Other users and the recipe listing are left alone.
func (i *Invalidator) SavedRecipesChanged(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("cache: saved recipes invalidation: %w", ErrInvalidTag)
	}
	return i.Invalidate(ctx, TagUserSaved(userID))
}

// Invalidate purges every entry carrying any of tags.
func (i *Invalidator) Invalidate(ctx context.Context, tags ...string) (int, error) {
	if i == nil || i.cache == nil {
		return 0, ErrNilCache
	}
	n, err := i.cache.InvalidateTags(ctx, tags...)
	if err != nil {
		return n, fmt.Errorf("cache: invalidate %v: %w", tags, err)
	}
	return n, nil
}

// Flush removes every entry.
func (i *Invalidator) Flush(ctx context.Context) (int, error) {
	if i == nil || i.cache == nil {
		return 0, ErrNilCache
	}
	return i.cache.DeleteMatching(ctx, "")
}
