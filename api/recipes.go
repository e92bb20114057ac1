package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jonwraymond/recipebox/auth"
	"github.com/jonwraymond/recipebox/cache"
	"github.com/jonwraymond/recipebox/store"
)

// Pagination bounds for the recipe listing.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

type listResponse struct {
	Recipes []store.Recipe `json:"recipes"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
	Total   int            `json:"total"`
}

type createResponse struct {
	CreatedRecipe store.Recipe `json:"createdRecipe"`
}

type saveRequest struct {
	RecipeID string `json:"recipeID"`
	UserID   string `json:"userID"`
}

type savedIDsResponse struct {
	SavedRecipes []string `json:"savedRecipes"`
}

type savedRecipesResponse struct {
	SavedRecipes []store.Recipe `json:"savedRecipes"`
}

// parsePage reads ?page= and ?limit=. Missing values take the defaults;
// malformed or out of range values are rejected.
func parsePage(q url.Values) (store.Page, error) {
	page := store.Page{Number: 1, Size: DefaultPageSize}

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return store.Page{}, badRequest("page must be a positive integer, got %q", v)
		}
		page.Number = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageSize {
			return store.Page{}, badRequest("limit must be between 1 and %d, got %q", MaxPageSize, v)
		}
		page.Size = n
	}
	return page, nil
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.store.ListRecipes(r.Context(), page)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Recipes: nonNil(result.Recipes),
		Page:    page.Number,
		Limit:   page.Size,
		Total:   result.Total,
	})
}

// handleCreateRecipe stores a recipe owned by the caller. An empty
// userOwner defaults to the caller; naming someone else is forbidden.
func (s *Server) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var in store.RecipeInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	owner, err := s.authorizeOwner(r, in.UserOwner, "recipes", "create")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in.UserOwner = owner

	recipe, err := s.store.CreateRecipe(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.invalidate(r, "recipe-created", func(ctx context.Context, inv *cache.Invalidator) (int, error) {
		return inv.RecipeCreated(ctx)
	})
	writeJSON(w, http.StatusCreated, createResponse{CreatedRecipe: recipe})
}

func (s *Server) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	recipe, err := s.store.RecipeByID(r.Context(), r.PathValue("recipeId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipe)
}

// handleSaveRecipe adds a recipe to the caller's saved list.
func (s *Server) handleSaveRecipe(w http.ResponseWriter, r *http.Request) {
	var in saveRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.RecipeID = strings.TrimSpace(in.RecipeID)
	if in.RecipeID == "" {
		s.fail(w, r, badRequest("recipeID is required"))
		return
	}

	userID, err := s.authorizeOwner(r, in.UserID, "savedRecipes", "save")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ids, err := s.store.SaveRecipe(r.Context(), userID, in.RecipeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.invalidate(r, "saved-recipes-changed", func(ctx context.Context, inv *cache.Invalidator) (int, error) {
		return inv.SavedRecipesChanged(ctx, userID)
	})
	writeJSON(w, http.StatusOK, savedIDsResponse{SavedRecipes: nonNil(ids)})
}

func (s *Server) handleSavedRecipeIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.SavedRecipeIDs(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savedIDsResponse{SavedRecipes: nonNil(ids)})
}

func (s *Server) handleSavedRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.store.SavedRecipes(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savedRecipesResponse{SavedRecipes: nonNil(recipes)})
}

// authorizeOwner resolves the user a write acts for. An empty owner means
// the caller.
func (s *Server) authorizeOwner(r *http.Request, owner, resource, action string) (string, error) {
	subject := auth.IdentityFromContext(r.Context())
	owner = strings.TrimSpace(owner)
	if owner == "" && !subject.Anonymous() {
		owner = subject.UserID
	}
	err := s.owners.Authorize(r.Context(), &auth.AuthzRequest{
		Subject:  subject,
		Owner:    owner,
		Resource: resource,
		Action:   action,
	})
	if err != nil {
		return "", err
	}
	return owner, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
