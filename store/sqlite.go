package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dealdesk/dealdesk/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS deals (
			deal_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL,
			agent_type TEXT NOT NULL,
			status TEXT NOT NULL,
			input_query TEXT NOT NULL,
			input_file_id TEXT,
			output TEXT,
			error_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (deal_id) REFERENCES deals(deal_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_deal ON runs(deal_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			deal_id TEXT NOT NULL,
			run_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (deal_id) REFERENCES deals(deal_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateDeal creates a new deal.
func (s *SQLiteStore) CreateDeal(ctx context.Context, deal *domain.Deal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (deal_id, name, created_at) VALUES (?, ?, ?)`,
		deal.DealID, deal.Name, deal.CreatedAt)
	return err
}

// GetDeal retrieves a deal by ID.
func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*domain.Deal, error) {
	var deal domain.Deal
	err := s.db.QueryRowContext(ctx,
		`SELECT deal_id, name, created_at FROM deals WHERE deal_id = ?`,
		dealID).Scan(&deal.DealID, &deal.Name, &deal.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &deal, nil
}

// GetOrCreateDeal gets an existing deal or creates a new one.
func (s *SQLiteStore) GetOrCreateDeal(ctx context.Context, dealID, name string) (*domain.Deal, error) {
	deal, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if deal != nil {
		return deal, nil
	}

	deal = &domain.Deal{
		DealID:    dealID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.CreateDeal(ctx, deal); err != nil {
		return nil, err
	}
	return deal, nil
}

// CreateMessage creates a new message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, message *domain.Message) error {
	var runID sql.NullString
	if message.RunID != "" {
		runID = sql.NullString{String: message.RunID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, deal_id, run_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		message.MessageID, message.DealID, runID, message.Role, message.Content, message.CreatedAt)
	return err
}

// GetRunMessages retrieves all messages of a run in ascending creation order.
func (s *SQLiteStore) GetRunMessages(ctx context.Context, runID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, deal_id, run_id, role, content, created_at FROM messages
		 WHERE run_id = ? ORDER BY created_at ASC, message_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var msgRunID sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.DealID, &msgRunID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if msgRunID.Valid {
			msg.RunID = msgRunID.String
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	var fileID sql.NullString
	if run.Input.FileID != "" {
		fileID = sql.NullString{String: run.Input.FileID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, deal_id, agent_type, status, input_query, input_file_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.DealID, run.AgentType, run.Status, run.Input.Query, fileID, run.CreatedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	var fileID, output, errMsg sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, deal_id, agent_type, status, input_query, input_file_id, output, error_message, created_at, completed_at
		 FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.DealID, &run.AgentType, &run.Status, &run.Input.Query, &fileID, &output, &errMsg, &run.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if fileID.Valid {
		run.Input.FileID = fileID.String
	}
	if output.Valid {
		var out domain.RunOutput
		if err := json.Unmarshal([]byte(output.String), &out); err != nil {
			return nil, fmt.Errorf("failed to decode run output: %w", err)
		}
		run.Output = &out
	}
	if errMsg.Valid {
		run.ErrorMessage = errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// UpdateRunStatus updates the status of a non-terminal run.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ? AND status NOT IN (?, ?)`,
		status, runID, domain.RunStatusCompleted, domain.RunStatusFailed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunTerminal
	}
	return nil
}

// CompleteRun moves a run to a terminal status with its output or error.
// A run that is already terminal is left untouched.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, output *domain.RunOutput, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}

	var outStr, errStr sql.NullString
	if output != nil {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to encode run output: %w", err)
		}
		outStr = sql.NullString{String: string(data), Valid: true}
	}
	if errMsg != "" {
		errStr = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, output = ?, error_message = ?, completed_at = ? WHERE run_id = ? AND status NOT IN (?, ?)`,
		status, outStr, errStr, time.Now(), runID, domain.RunStatusCompleted, domain.RunStatusFailed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunTerminal
	}
	return nil
}

// ListRuns retrieves a page of runs for a deal, newest first.
// An empty agentType matches all agent types.
func (s *SQLiteStore) ListRuns(ctx context.Context, dealID string, agentType domain.AgentType, page, pageSize int) ([]domain.Run, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	countQuery := `SELECT COUNT(*) FROM runs WHERE deal_id = ?`
	listQuery := `SELECT run_id, deal_id, agent_type, status, input_query, input_file_id, output, error_message, created_at, completed_at
		 FROM runs WHERE deal_id = ?`
	args := []interface{}{dealID}
	if agentType != "" {
		countQuery += ` AND agent_type = ?`
		listQuery += ` AND agent_type = ?`
		args = append(args, agentType)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	listQuery += ` ORDER BY created_at DESC, run_id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var run domain.Run
		var fileID, output, errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&run.RunID, &run.DealID, &run.AgentType, &run.Status, &run.Input.Query, &fileID, &output, &errMsg, &run.CreatedAt, &completedAt); err != nil {
			return nil, 0, err
		}
		if fileID.Valid {
			run.Input.FileID = fileID.String
		}
		if output.Valid {
			var out domain.RunOutput
			if err := json.Unmarshal([]byte(output.String), &out); err != nil {
				return nil, 0, fmt.Errorf("failed to decode run output: %w", err)
			}
			run.Output = &out
		}
		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		if completedAt.Valid {
			run.CompletedAt = &completedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}
