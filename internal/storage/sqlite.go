package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store wraps a SQLite database holding profiles, persona bots, and posts.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "aury.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection: writes from concurrent persona branches queue here
	// instead of failing with "database is locked".
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

// --- Profiles ---

// CreateProfile inserts p, assigning an ID and CreatedAt when unset.
// Returns ErrConflict if the handle is taken.
func (s *Store) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, username, handle, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Username, p.Handle, formatTime(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return Profile{}, fmt.Errorf("profile %q: %w", p.Handle, ErrConflict)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("inserting profile: %w", err)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (Profile, error) {
	return s.getProfile(ctx, "id", id)
}

func (s *Store) GetProfileByHandle(ctx context.Context, handle string) (Profile, error) {
	return s.getProfile(ctx, "handle", handle)
}

func (s *Store) getProfile(ctx context.Context, column, value string) (Profile, error) {
	var p Profile
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, handle, created_at FROM profiles WHERE `+column+` = ?`, value,
	).Scan(&p.ID, &p.Username, &p.Handle, &createdAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// --- Bots ---

const botColumns = `id, name, handle, persona_type, created_by_user_id, active, created_at`

// CreateBot inserts b, assigning an ID and CreatedAt when unset.
// Returns ErrConflict if a bot with the same handle already exists.
func (s *Store) CreateBot(ctx context.Context, b Bot) (Bot, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	var owner sql.NullString
	if b.CreatedByUserID != "" {
		owner = sql.NullString{String: b.CreatedByUserID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (`+botColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Handle, b.PersonaType, owner, b.Active, formatTime(b.CreatedAt),
	)
	if isUniqueViolation(err) {
		return Bot{}, fmt.Errorf("bot %q: %w", b.Handle, ErrConflict)
	}
	if err != nil {
		return Bot{}, fmt.Errorf("inserting bot: %w", err)
	}
	return b, nil
}

func (s *Store) GetBot(ctx context.Context, id string) (Bot, error) {
	return s.scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id))
}

// GetBotByHandle looks a bot up by exact handle.
func (s *Store) GetBotByHandle(ctx context.Context, handle string) (Bot, error) {
	return s.scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots WHERE handle = ?`, handle))
}

// ListBotsByOwner returns the bots created on behalf of ownerID, oldest first.
func (s *Store) ListBotsByOwner(ctx context.Context, ownerID string) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots WHERE created_by_user_id = ? ORDER BY created_at ASC, handle ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []Bot
	for rows.Next() {
		b, err := s.scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanBot(row rowScanner) (Bot, error) {
	var b Bot
	var owner sql.NullString
	var createdAt string
	err := row.Scan(&b.ID, &b.Name, &b.Handle, &b.PersonaType, &owner, &b.Active, &createdAt)
	if err == sql.ErrNoRows {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, err
	}
	b.CreatedByUserID = owner.String
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return Bot{}, err
	}
	return b, nil
}

// --- Posts ---

const postColumns = `id, title, content, topics, is_bot, author_id, bot_id, metadata, created_at`

// CreatePost inserts p, assigning an ID and CreatedAt when unset. The
// author/bot invariant is checked before touching the database.
func (s *Store) CreatePost(ctx context.Context, p Post) (Post, error) {
	if err := validatePostAuthorship(p); err != nil {
		return Post{}, err
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}

	topics, err := json.Marshal(p.Topics)
	if err != nil {
		return Post{}, fmt.Errorf("marshaling topics: %w", err)
	}
	var metadata sql.NullString
	if len(p.Metadata) > 0 {
		if !json.Valid(p.Metadata) {
			return Post{}, fmt.Errorf("metadata is not valid JSON")
		}
		metadata = sql.NullString{String: string(p.Metadata), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, string(topics), p.IsBot,
		nullable(p.AuthorID), nullable(p.BotID), metadata, formatTime(p.CreatedAt),
	)
	if err != nil {
		return Post{}, fmt.Errorf("inserting post: %w", err)
	}
	return p, nil
}

func validatePostAuthorship(p Post) error {
	if p.IsBot {
		if p.BotID == "" || p.AuthorID != "" {
			return fmt.Errorf("bot post must set bot_id and not author_id")
		}
		return nil
	}
	if p.AuthorID == "" || p.BotID != "" {
		return fmt.Errorf("user post must set author_id and not bot_id")
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) GetPost(ctx context.Context, id string) (Post, error) {
	return scanPost(s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
}

// ListPosts returns posts newest first.
func (s *Store) ListPosts(ctx context.Context, limit, offset int) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountPosts returns the total number of posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

func scanPost(row rowScanner) (Post, error) {
	var p Post
	var topics, createdAt string
	var authorID, botID, metadata sql.NullString
	err := row.Scan(&p.ID, &p.Title, &p.Content, &topics, &p.IsBot, &authorID, &botID, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return Post{}, ErrNotFound
	}
	if err != nil {
		return Post{}, err
	}
	if err := json.Unmarshal([]byte(topics), &p.Topics); err != nil {
		return Post{}, fmt.Errorf("parsing topics: %w", err)
	}
	if p.Topics == nil {
		p.Topics = []string{}
	}
	p.AuthorID = authorID.String
	p.BotID = botID.String
	if metadata.Valid {
		p.Metadata = json.RawMessage(metadata.String)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Post{}, err
	}
	return p, nil
}
