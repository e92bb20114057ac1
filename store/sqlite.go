package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database. Intended for testing.
const MemoryPath = ":memory:"

// SQLiteStore implements Store backed by a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenAt creates or opens a SQLite database at the given path and applies
// the schema. The parent directory is created if it does not exist.
func OpenAt(path string) (*SQLiteStore, error) {
	dsn := MemoryPath
	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create directory %s: %w", dir, err)
		}
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// SQLite allows one writer at a time, and every connection to :memory:
	// is a separate database. A single connection covers both.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the tables if they don't exist.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS recipes (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT    NOT NULL UNIQUE,
			name         TEXT    NOT NULL,
			ingredients  TEXT    NOT NULL,
			instructions TEXT    NOT NULL,
			image_url    TEXT    NOT NULL,
			cooking_time INTEGER NOT NULL,
			user_owner   TEXT    NOT NULL REFERENCES users(id),
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_recipes_owner ON recipes(user_owner);
		CREATE TABLE IF NOT EXISTS saved_recipes (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id   TEXT NOT NULL REFERENCES users(id),
			recipe_id TEXT NOT NULL REFERENCES recipes(id),
			saved_at  TEXT NOT NULL,
			UNIQUE(user_id, recipe_id)
		);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: migration failed: %w", err)
	}
	return nil
}

// CreateUser inserts a user with a fresh id.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (User, error) {
	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicateUser
	}
	if err != nil {
		return User{}, fmt.Errorf("store: insert user failed: %w", err)
	}
	return u, nil
}

// UserByUsername looks a user up by name.
func (s *SQLiteStore) UserByUsername(ctx context.Context, username string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

// UserByID looks a user up by id.
func (s *SQLiteStore) UserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// CreateRecipe validates and inserts a recipe. The owner must exist.
func (s *SQLiteStore) CreateRecipe(ctx context.Context, in RecipeInput) (Recipe, error) {
	if err := in.Validate(); err != nil {
		return Recipe{}, err
	}
	ingredients, err := json.Marshal(in.Ingredients)
	if err != nil {
		return Recipe{}, fmt.Errorf("store: encode ingredients: %w", err)
	}
	instructions, err := json.Marshal(in.Instructions)
	if err != nil {
		return Recipe{}, fmt.Errorf("store: encode instructions: %w", err)
	}

	now := s.now()
	r := Recipe{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Ingredients:  append([]string(nil), in.Ingredients...),
		Instructions: append([]string(nil), in.Instructions...),
		ImageURL:     in.ImageURL,
		CookingTime:  in.CookingTime,
		UserOwner:    in.UserOwner,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Recipe{}, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := userExists(ctx, tx, in.UserOwner); err != nil {
		return Recipe{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recipes (id, name, ingredients, instructions, image_url, cooking_time, user_owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, string(ingredients), string(instructions), r.ImageURL, r.CookingTime, r.UserOwner,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Recipe{}, fmt.Errorf("store: insert recipe failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Recipe{}, fmt.Errorf("store: commit failed: %w", err)
	}
	return r, nil
}

// ListRecipes returns one page of recipes, newest first. A page size of zero
// or less returns every recipe after the offset.
func (s *SQLiteStore) ListRecipes(ctx context.Context, page Page) (RecipePage, error) {
	limit := page.Size
	if limit <= 0 {
		limit = -1
	}

	// Count and page share one snapshot so Total matches the listed rows.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RecipePage{}, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	var out RecipePage
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipes`).Scan(&out.Total); err != nil {
		return RecipePage{}, fmt.Errorf("store: count failed: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+recipeColumns+` FROM recipes
		ORDER BY seq DESC LIMIT ? OFFSET ?`, limit, page.Offset())
	if err != nil {
		return RecipePage{}, fmt.Errorf("store: query failed: %w", err)
	}
	defer rows.Close()

	out.Recipes, err = scanRecipes(rows)
	if err != nil {
		return RecipePage{}, err
	}
	if out.Recipes == nil {
		out.Recipes = []Recipe{}
	}
	return out, nil
}

// RecipeByID returns a single recipe.
func (s *SQLiteStore) RecipeByID(ctx context.Context, id string) (Recipe, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE id = ?`, id)
	r, err := scanRecipe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipe{}, ErrNotFound
	}
	if err != nil {
		return Recipe{}, fmt.Errorf("store: query failed: %w", err)
	}
	return r, nil
}

// SavedRecipeIDs returns the ids a user saved, in the order saved.
func (s *SQLiteStore) SavedRecipeIDs(ctx context.Context, userID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := userExists(ctx, tx, userID); err != nil {
		return nil, err
	}
	return savedIDs(ctx, tx, userID)
}

// SavedRecipes returns the full recipes a user saved, in the order saved.
func (s *SQLiteStore) SavedRecipes(ctx context.Context, userID string) ([]Recipe, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := userExists(ctx, tx, userID); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT `+qualifiedRecipeColumns+` FROM saved_recipes s
		JOIN recipes r ON r.id = s.recipe_id
		WHERE s.user_id = ? ORDER BY s.seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query failed: %w", err)
	}
	defer rows.Close()

	recipes, err := scanRecipes(rows)
	if err != nil {
		return nil, err
	}
	if recipes == nil {
		recipes = []Recipe{}
	}
	return recipes, nil
}

// SaveRecipe appends recipeID to the user's saved list.
func (s *SQLiteStore) SaveRecipe(ctx context.Context, userID, recipeID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := userExists(ctx, tx, userID); err != nil {
		return nil, err
	}
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM recipes WHERE id = ?`, recipeID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipe %s: %w", recipeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO saved_recipes (user_id, recipe_id, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, recipe_id) DO NOTHING`,
		userID, recipeID, s.now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert saved recipe failed: %w", err)
	}

	ids, err := savedIDs(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit failed: %w", err)
	}
	return ids, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping failed: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recipeColumns = `id, name, ingredients, instructions, image_url, cooking_time, user_owner, created_at, updated_at`

const qualifiedRecipeColumns = `r.id, r.name, r.ingredients, r.instructions, r.image_url, r.cooking_time, r.user_owner, r.created_at, r.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func userExists(ctx context.Context, tx *sql.Tx, userID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: query failed: %w", err)
	}
	return nil
}

func savedIDs(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT recipe_id FROM saved_recipes WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query failed: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var created string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("store: query failed: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return u, nil
}

// scanRecipe scans a single row into a Recipe. sql.ErrNoRows is returned
// unwrapped.
func scanRecipe(row rowScanner) (Recipe, error) {
	var r Recipe
	var ingredients, instructions, created, updated string
	err := row.Scan(
		&r.ID, &r.Name, &ingredients, &instructions, &r.ImageURL,
		&r.CookingTime, &r.UserOwner, &created, &updated,
	)
	if err != nil {
		return Recipe{}, err
	}
	if err := json.Unmarshal([]byte(ingredients), &r.Ingredients); err != nil {
		return Recipe{}, fmt.Errorf("store: decode ingredients: %w", err)
	}
	if err := json.Unmarshal([]byte(instructions), &r.Instructions); err != nil {
		return Recipe{}, fmt.Errorf("store: decode instructions: %w", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return r, nil
}

func scanRecipes(rows *sql.Rows) ([]Recipe, error) {
	var recipes []Recipe
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan failed: %w", err)
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}

var _ Store = (*SQLiteStore)(nil)
