package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/shopsync/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path, e.g. "file:/var/lib/shopsync/shopsync.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so QueryRow is used and the result ignored.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Workflows ---

const workflowColumns = `id, user_id, interaction, status, agents, results, error, error_code, created_at, started_at, completed_at`

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.WorkflowRecord) error {
	interaction, err := json.Marshal(wf.Interaction)
	if err != nil {
		return fmt.Errorf("marshal interaction: %w", err)
	}
	agents, err := marshalAgents(wf.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.UserID, string(interaction), string(wf.Status), agents,
		nullRaw(wf.Results), nullStr(wf.Error), nullStr(wf.ErrorCode),
		wf.CreatedAt, nullTime(wf.StartedAt), nullTime(wf.CompletedAt),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create workflow %s", wf.ID).WithCause(err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.WorkflowRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Agents != nil {
		agents, err := marshalAgents(update.Agents)
		if err != nil {
			return fmt.Errorf("marshal agents: %w", err)
		}
		sets = append(sets, "agents = ?")
		args = append(args, agents)
	}
	if update.Results != nil {
		sets = append(sets, "results = ?")
		args = append(args, string(update.Results))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.ErrorCode != nil {
		sets = append(sets, "error_code = ?")
		args = append(args, nullStr(*update.ErrorCode))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "update workflow %s", id).WithCause(err)
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowRecord, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.WorkflowRecord
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) PruneWorkflows(ctx context.Context, completedBefore time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	terminal := `status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`
	args := []any{string(schema.WorkflowStatusSuccess), string(schema.WorkflowStatusError), completedBefore}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE workflow_id IN (SELECT id FROM workflows WHERE `+terminal+`)`, args...); err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE `+terminal, args...)
	if err != nil {
		return 0, fmt.Errorf("prune workflows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.WorkflowRecord, error) {
	wf := &schema.WorkflowRecord{}
	var (
		interaction, status           string
		agents, results, errMsg, code sql.NullString
		startedAt, completedAt        sql.NullTime
	)
	if err := row.Scan(&wf.ID, &wf.UserID, &interaction, &status, &agents, &results, &errMsg, &code,
		&wf.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	wf.Status = schema.WorkflowStatus(status)
	if err := json.Unmarshal([]byte(interaction), &wf.Interaction); err != nil {
		return nil, fmt.Errorf("unmarshal interaction: %w", err)
	}
	if agents.Valid && agents.String != "" {
		if err := json.Unmarshal([]byte(agents.String), &wf.Agents); err != nil {
			return nil, fmt.Errorf("unmarshal agents: %w", err)
		}
	}
	wf.Results = rawOrNil(results)
	wf.Error = errMsg.String
	wf.ErrorCode = code.String
	if startedAt.Valid {
		wf.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		wf.CompletedAt = &completedAt.Time
	}
	return wf, nil
}

// --- Events ---

// AppendEvent assigns the next per-workflow sequence number and inserts the event.
// The single-connection pool serializes writers, so read-then-insert inside one
// transaction yields gap-free sequences.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`, event.WorkflowID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, agent_type, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.WorkflowID, nullStr(event.AgentType), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a workflow with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, workflowID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, agent_type, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? AND sequence > ? ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var agentType, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &agentType, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.AgentType = agentType.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ShopSyncError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func marshalAgents(m map[schema.AgentType]schema.AgentRunStatus) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
