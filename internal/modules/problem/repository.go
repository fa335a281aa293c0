package problem

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StoredProblem pairs a model with its registry metadata.
type StoredProblem struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Variables   int       `json:"variables"`
	Constraints int       `json:"constraints"`
	Model       *Model    `json:"model"`
	LPText      string    `json:"lp_text,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository persists parsed models in problems.db so runs can reference
// them by name without re-parsing LP sources.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new problem repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "problems").Logger(),
	}
}

// Save stores a model under its name, replacing any previous version.
func (r *Repository) Save(m *Model, source, lpText string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	modelJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal model %s: %w", m.Name, err)
	}
	_, err = r.db.Exec(`
		INSERT OR REPLACE INTO problems (name, source, variables, constraints, model, lp_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Name, source, m.NumVariables(), len(m.Constraints), string(modelJSON),
		nullIfEmpty(lpText), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save problem %s: %w", m.Name, err)
	}
	return nil
}

// Get loads a stored problem by name. Returns nil when absent.
func (r *Repository) Get(name string) (*StoredProblem, error) {
	row := r.db.QueryRow(
		"SELECT name, source, variables, constraints, model, lp_text, created_at FROM problems WHERE name = ?",
		name,
	)
	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get problem %s: %w", name, err)
	}
	return p, nil
}

// List returns all stored problems, newest first.
func (r *Repository) List() ([]*StoredProblem, error) {
	rows, err := r.db.Query(
		"SELECT name, source, variables, constraints, model, lp_text, created_at FROM problems ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	defer rows.Close()

	var problems []*StoredProblem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}

// Delete removes a stored problem. Returns true if a row was removed.
func (r *Repository) Delete(name string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM problems WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete problem %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProblem(row rowScanner) (*StoredProblem, error) {
	var p StoredProblem
	var modelJSON, createdAt string
	var lpText sql.NullString

	if err := row.Scan(&p.Name, &p.Source, &p.Variables, &p.Constraints, &modelJSON, &lpText, &createdAt); err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal([]byte(modelJSON), &m); err != nil {
		return nil, fmt.Errorf("corrupt stored model %s: %w", p.Name, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p.Model = &m
	if lpText.Valid {
		p.LPText = lpText.String
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
