package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "agora/pkg/database"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

var _ interfaces.DebateStore = (*Manager)(nil)

const (
	defaultRetryDelay   = 5 * time.Second
	defaultWriteTimeout = 30 * time.Second
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrShuttingDown  = errors.New("database manager is shutting down")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.DebateStore on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
	writeTimeout time.Duration
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager's logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRetryDelay sets the pause before the single write retry
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithWriteTimeout bounds how long a caller waits for the write loop
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Manager) { m.writeTimeout = d }
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the write loop
func NewManager(config *dbconfig.Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: SQLite connection string includes WAL and busy timeout
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       slog.Default(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   defaultRetryDelay,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after the retry delay
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn("database write failed, retrying", "error", err, "delay", m.retryDelay)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
					if err != nil {
						m.logger.Error("database write failed after retry", "error", err)
					}
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.writeTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return ErrWriteTimeout
	}
}

// SaveProposal inserts a proposal or updates its mutable fields
func (m *Manager) SaveProposal(ctx context.Context, p *types.DebateProposal) error {
	tagsJSON, err := json.Marshal(nonNilTags(p.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	// TECHNICAL DISCOVERY: Writes run detached from the caller's deadline once queued
	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO proposals (id, requester_id, requester_name, requester_avatar,
				title, description, tags, status, code, session_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				code = excluded.code,
				session_id = excluded.session_id
		`
		_, err := db.ExecContext(context.WithoutCancel(ctx), query,
			p.ID, p.RequesterID, p.RequesterName, p.RequesterAvatar,
			p.Title, p.Description, string(tagsJSON), string(p.Status),
			nullString(p.Code), nullString(p.SessionID), p.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to save proposal: %w", err)
		}
		return nil
	})
}

const proposalColumns = `id, requester_id, requester_name, requester_avatar,
	title, description, tags, status, code, session_id, created_at`

// GetProposal retrieves a proposal by ID
func (m *Manager) GetProposal(ctx context.Context, proposalID string) (*types.DebateProposal, error) {
	row := m.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, proposalID)
	p, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrProposalNotFound
	}
	return p, err
}

// ListProposals returns every stored proposal, newest first
func (m *Manager) ListProposals(ctx context.Context) ([]*types.DebateProposal, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var proposals []*types.DebateProposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating proposal rows: %w", err)
	}
	return proposals, nil
}

// SaveSession inserts a session header or updates its mutable fields
func (m *Manager) SaveSession(ctx context.Context, s *types.DebateSession) error {
	participantsJSON, err := json.Marshal(nonNilParticipants(s.Participants))
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	tagsJSON, err := json.Marshal(nonNilTags(s.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	var endedAt sql.NullTime
	if s.EndedAt != nil {
		endedAt = sql.NullTime{Time: s.EndedAt.UTC(), Valid: true}
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		// TECHNICAL DISCOVERY: Upsert instead of INSERT OR REPLACE, which would
		// delete the row and cascade to its messages
		query := `
			INSERT INTO sessions (id, proposal_id, title, description, host_id, host_name,
				host_avatar, participants, tags, code, status, summary, warning_count,
				quorum_reached, end_reason, created_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				participants = excluded.participants,
				status = excluded.status,
				summary = excluded.summary,
				warning_count = excluded.warning_count,
				quorum_reached = excluded.quorum_reached,
				end_reason = excluded.end_reason,
				ended_at = excluded.ended_at
		`
		_, err := db.ExecContext(context.WithoutCancel(ctx), query,
			s.ID, nullString(s.ProposalID), s.Title, s.Description, s.HostID, s.HostName,
			s.HostAvatar, string(participantsJSON), string(tagsJSON), s.Code, string(s.Status),
			nullString(s.Summary), s.WarningCount, s.QuorumReached, nullString(string(s.EndReason)),
			s.CreatedAt.UTC(), endedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

const sessionColumns = `id, proposal_id, title, description, host_id, host_name,
	host_avatar, participants, tags, code, status, summary, warning_count,
	quorum_reached, end_reason, created_at, ended_at`

// GetSession retrieves a session header by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.DebateSession, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns session headers with the given status, oldest first
func (m *Manager) ListSessions(ctx context.Context, status types.SessionStatus) ([]*types.DebateSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.DebateSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// AppendMessage stores one log entry
func (m *Manager) AppendMessage(ctx context.Context, msg *types.Message) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO messages (id, session_id, position, sender_id, sender_name,
				sender_avatar, content, is_synthesized, kind, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(context.WithoutCancel(ctx), query,
			msg.ID, msg.SessionID, msg.Position, msg.SenderID, msg.SenderName,
			msg.SenderAvatar, msg.Content, msg.IsSynthesized, string(msg.Kind), msg.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
}

// GetSessionHistory retrieves all messages for a session ordered by position
func (m *Manager) GetSessionHistory(ctx context.Context, sessionID string) ([]*types.Message, error) {
	query := `
		SELECT id, session_id, position, sender_id, sender_name, sender_avatar,
			content, is_synthesized, kind, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY position ASC
	`
	rows, err := m.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		var kind string
		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Position, &msg.SenderID, &msg.SenderName,
			&msg.SenderAvatar, &msg.Content, &msg.IsSynthesized, &kind, &msg.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Kind = types.SynthesisKind(kind)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and the connection pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProposal(row scanner) (*types.DebateProposal, error) {
	var (
		p                types.DebateProposal
		tagsJSON, status string
		code, sessionID  sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.RequesterID, &p.RequesterName, &p.RequesterAvatar,
		&p.Title, &p.Description, &tagsJSON, &status, &code, &sessionID, &p.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan proposal: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &p.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	p.Status = types.ProposalStatus(status)
	p.Code = code.String
	p.SessionID = sessionID.String
	return &p, nil
}

func scanSession(row scanner) (*types.DebateSession, error) {
	var (
		s                              types.DebateSession
		participantsJSON, tagsJSON     string
		status                         string
		proposalID, summary, endReason sql.NullString
		endedAt                        sql.NullTime
	)
	if err := row.Scan(
		&s.ID, &proposalID, &s.Title, &s.Description, &s.HostID, &s.HostName,
		&s.HostAvatar, &participantsJSON, &tagsJSON, &s.Code, &status, &summary,
		&s.WarningCount, &s.QuorumReached, &endReason, &s.CreatedAt, &endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	// TECHNICAL DISCOVERY: JSON deserialization restores the roster slice
	if err := json.Unmarshal([]byte(participantsJSON), &s.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &s.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	s.Status = types.SessionStatus(status)
	s.ProposalID = proposalID.String
	s.Summary = summary.String
	s.EndReason = types.EndReason(endReason.String)
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilParticipants(ps []types.Participant) []types.Participant {
	if ps == nil {
		return []types.Participant{}
	}
	return ps
}

// applySQLiteOptimizations applies performance pragmas
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
