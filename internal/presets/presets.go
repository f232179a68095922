package presets

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kartoza/bridge-predict/internal/params"
)

// ErrPresetNotFound is returned when no preset has the requested id
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a named parameter set saved for reuse. Images are never stored.
type Preset struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Values      params.Set `json:"values"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
}

const schema = `CREATE TABLE IF NOT EXISTS presets (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	"values"    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
)`

// timeFormat is fixed width so timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store handles preset persistence in a sqlite database
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) presets.db in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "presets.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open presets database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create presets table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns all presets sorted by creation date (newest first)
func (s *Store) List() ([]*Preset, error) {
	rows, err := s.db.Query(`SELECT id, name, description, "values", created_at, updated_at
		FROM presets ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query presets: %w", err)
	}
	defer rows.Close()

	presets := []*Preset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		presets = append(presets, p)
	}
	return presets, rows.Err()
}

// Get retrieves a preset by ID
func (s *Store) Get(id string) (*Preset, error) {
	row := s.db.QueryRow(`SELECT id, name, description, "values", created_at, updated_at
		FROM presets WHERE id = ?`, id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}
	return p, err
}

// Create saves a new preset. Only finite values of known fields are kept.
func (s *Store) Create(preset *Preset) (*Preset, error) {
	preset.Name = strings.TrimSpace(preset.Name)
	if preset.Name == "" {
		return nil, fmt.Errorf("preset name is required")
	}

	preset.ID = uuid.New().String()
	now := time.Now().UTC().Format(timeFormat)
	preset.CreatedAt = now
	preset.UpdatedAt = now
	preset.Values = finiteValues(preset.Values)

	values, err := json.Marshal(preset.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preset values: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO presets (id, name, description, "values", created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		preset.ID, preset.Name, preset.Description, string(values), preset.CreatedAt, preset.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert preset: %w", err)
	}

	return preset, nil
}

// Update renames a preset or replaces its values. Empty name, description
// and nil values are left unchanged.
func (s *Store) Update(id string, updates *Preset) (*Preset, error) {
	preset, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(updates.Name); name != "" {
		preset.Name = name
	}
	if updates.Description != "" {
		preset.Description = updates.Description
	}
	if updates.Values != nil {
		preset.Values = finiteValues(updates.Values)
	}
	preset.UpdatedAt = time.Now().UTC().Format(timeFormat)

	values, err := json.Marshal(preset.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preset values: %w", err)
	}

	_, err = s.db.Exec(`UPDATE presets SET name = ?, description = ?, "values" = ?, updated_at = ? WHERE id = ?`,
		preset.Name, preset.Description, string(values), preset.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update preset: %w", err)
	}

	return preset, nil
}

// Delete removes a preset
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete preset: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (*Preset, error) {
	var p Preset
	var values string
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &values, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read preset: %w", err)
	}
	if err := json.Unmarshal([]byte(values), &p.Values); err != nil {
		return nil, fmt.Errorf("failed to parse preset %s: %w", p.ID, err)
	}
	return &p, nil
}

func finiteValues(in params.Set) params.Set {
	out := make(params.Set, len(in))
	for id, v := range in {
		if _, known := params.Lookup(id); known && params.IsFinite(v) {
			out[id] = v
		}
	}
	return out
}
