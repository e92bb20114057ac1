// Package store persists users, recipes and saved-recipe lists.
//
// The Store interface is the authoritative entry store behind the HTTP
// handlers. SQLiteStore is the only implementation and keeps everything in a
// single SQLite database file.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a user or recipe does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateUser is returned when registering a taken username.
	ErrDuplicateUser = errors.New("store: username already exists")

	// ErrInvalidRecipe is returned when a recipe input is incomplete.
	ErrInvalidRecipe = errors.New("store: invalid recipe")
)

// User is a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Recipe is a stored recipe. The id is serialized as "_id" so existing
// clients keep working.
type Recipe struct {
	ID           string    `json:"_id"`
	Name         string    `json:"name"`
	Ingredients  []string  `json:"ingredients"`
	Instructions []string  `json:"instructions"`
	ImageURL     string    `json:"imageUrl"`
	CookingTime  int       `json:"cookingTime"`
	UserOwner    string    `json:"userOwner"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RecipeInput holds the fields of a new recipe.
type RecipeInput struct {
	Name         string   `json:"name"`
	Ingredients  []string `json:"ingredients"`
	Instructions []string `json:"instructions"`
	ImageURL     string   `json:"imageUrl"`
	CookingTime  int      `json:"cookingTime"`
	UserOwner    string   `json:"userOwner"`
}

// Validate reports the first missing or malformed field.
func (in RecipeInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRecipe)
	case len(in.Ingredients) == 0:
		return fmt.Errorf("%w: ingredients are required", ErrInvalidRecipe)
	case len(in.Instructions) == 0:
		return fmt.Errorf("%w: instructions are required", ErrInvalidRecipe)
	case strings.TrimSpace(in.ImageURL) == "":
		return fmt.Errorf("%w: imageUrl is required", ErrInvalidRecipe)
	case in.CookingTime <= 0:
		return fmt.Errorf("%w: cookingTime must be positive", ErrInvalidRecipe)
	case strings.TrimSpace(in.UserOwner) == "":
		return fmt.Errorf("%w: userOwner is required", ErrInvalidRecipe)
	}
	for _, s := range in.Ingredients {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty ingredient", ErrInvalidRecipe)
		}
	}
	for _, s := range in.Instructions {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty instruction", ErrInvalidRecipe)
		}
	}
	return nil
}

// Page selects a window of the recipe listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows skipped before the page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// RecipePage is one page of the listing plus the total number of recipes.
type RecipePage struct {
	Recipes []Recipe
	Total   int
}

// Store defines the persistence interface for the recipe service.
type Store interface {
	// CreateUser inserts a user. A taken username returns ErrDuplicateUser.
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)

	// UserByUsername looks a user up by name.
	UserByUsername(ctx context.Context, username string) (User, error)

	// UserByID looks a user up by id.
	UserByID(ctx context.Context, id string) (User, error)

	// CreateRecipe validates and inserts a recipe.
	CreateRecipe(ctx context.Context, in RecipeInput) (Recipe, error)

	// ListRecipes returns one page of recipes, newest first.
	ListRecipes(ctx context.Context, page Page) (RecipePage, error)

	// RecipeByID returns a single recipe.
	RecipeByID(ctx context.Context, id string) (Recipe, error)

	// SavedRecipeIDs returns the ids a user saved, in the order saved.
	SavedRecipeIDs(ctx context.Context, userID string) ([]string, error)

	// SavedRecipes returns the full recipes a user saved, in the order saved.
	SavedRecipes(ctx context.Context, userID string) ([]Recipe, error)

	// SaveRecipe appends recipeID to the user's saved list and returns the
	// updated id list. Saving the same recipe twice keeps one copy.
	SaveRecipe(ctx context.Context, userID, recipeID string) ([]string, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases database resources.
	Close() error
}
