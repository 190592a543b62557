package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora/internal/database"
	"agora/internal/messagelog"
	"agora/internal/metrics"
	"agora/internal/scheduler"
	"agora/pkg/interfaces"
	"agora/pkg/types"
)

// DefaultQuorum is the roster size at which a session is considered ready
const DefaultQuorum = 3

// Moderator composes synthesized messages. Implemented by moderation.Engine.
type Moderator interface {
	Synthesize(kind types.SynthesisKind, sc types.SynthesisContext) (types.Message, error)
	Summarize(sc types.SynthesisContext) string
}

// MessageListener observes every appended message in log order
type MessageListener interface {
	MessageAppended(msg types.Message)
}

// Archive holds ended sessions after they are evicted from memory
type Archive interface {
	Put(ctx context.Context, session *types.DebateSession) error
	Get(ctx context.Context, sessionID string) (*types.DebateSession, error)
}

// Request describes one deferred moderator message
type Request struct {
	Kind       types.SynthesisKind
	Delay      time.Duration
	Trigger    *types.Message
	Newcomer   *types.Participant
	Categories []string
}

// Delays groups the deferred-synthesis timings the registry owns
type Delays struct {
	JoinNotice time.Duration
	Summary    time.Duration
}

// ListOptions filters and orders List results
type ListOptions struct {
	Status types.SessionStatus
	Query  string
	Sort   string // "new" (default) or "popular"
}

// Registry is the single owner of debate sessions.
// ARCHITECTURAL DISCOVERY: The map lock only guards insert/lookup; every
// mutation of a session happens under that session's own mutex via Update,
// so unrelated sessions never contend.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	scheduler scheduler.Scheduler
	moderator Moderator
	store     interfaces.DebateStore
	writes    *database.WriteQueue
	archive   Archive
	retention time.Duration
	listener  MessageListener
	metrics   *metrics.Metrics
	logger    *slog.Logger
	quorum    int
	delays    Delays
}

// Option configures a Registry
type Option func(*Registry)

// WithStore mirrors every mutation to store. Writes are applied in order
// behind the caller; Close drains them.
func WithStore(store interfaces.DebateStore) Option {
	return func(r *Registry) { r.store = store }
}

// WithArchive evicts sealed sessions to archive after retention
func WithArchive(archive Archive, retention time.Duration) Option {
	return func(r *Registry) {
		r.archive = archive
		r.retention = retention
	}
}

// WithListener registers the observer of appended messages
func WithListener(l MessageListener) Option {
	return func(r *Registry) { r.listener = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithQuorum(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.quorum = n
		}
	}
}

func WithDelays(d Delays) Option {
	return func(r *Registry) { r.delays = d }
}

// NewRegistry creates an empty registry
func NewRegistry(sched scheduler.Scheduler, moderator Moderator, opts ...Option) *Registry {
	r := &Registry{
		sessions:  make(map[string]*entry),
		scheduler: sched,
		moderator: moderator,
		logger:    slog.Default(),
		quorum:    DefaultQuorum,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "session")
	if r.store != nil {
		r.writes = database.NewWriteQueue(r.logger)
	}
	return r
}

// Close drains pending store writes. Mutations after Close are not persisted.
func (r *Registry) Close(ctx context.Context) error {
	if r.writes == nil {
		return nil
	}
	return r.writes.Close(ctx)
}

// Create registers a new active session derived from s. The caller's value
// is copied; ID and CreatedAt are filled in when missing.
func (r *Registry) Create(ctx context.Context, s *types.DebateSession) (*types.DebateSession, error) {
	if s == nil {
		return nil, types.NewValidationError("session", "is required")
	}
	if strings.TrimSpace(s.Title) == "" {
		return nil, types.NewValidationError("title", "is required")
	}

	header := s.Clone()
	header.Messages = nil
	if header.ID == "" {
		header.ID = uuid.New().String()
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	header.Status = types.SessionActive
	header.EndedAt = nil
	header.WarningCount = 0
	header.Summary = ""

	e := &entry{
		header:  header,
		log:     messagelog.New(header.ID),
		members: make(map[string]bool),
	}
	roster := header.Participants
	header.Participants = nil
	for _, p := range roster {
		if e.members[p.ID] {
			continue
		}
		e.members[p.ID] = true
		header.Participants = append(header.Participants, p)
	}
	header.QuorumReached = len(header.Participants) >= r.quorum

	r.mu.Lock()
	if _, exists := r.sessions[header.ID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", header.ID)
	}
	r.sessions[header.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	r.persistSession(e.header)
	snap := e.snapshot()
	e.mu.Unlock()

	r.metrics.SessionOpened()
	r.logger.Info("session created", "session_id", header.ID, "title", header.Title, "host_id", header.HostID)
	return snap, nil
}

// Get returns a snapshot of the session, falling back to the archive for
// sessions that have been evicted
func (r *Registry) Get(ctx context.Context, id string) (*types.DebateSession, error) {
	if e, ok := r.lookup(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.snapshot(), nil
	}
	if r.archive != nil {
		s, err := r.archive.Get(ctx, id)
		if err == nil && s != nil {
			return s, nil
		}
	}
	return nil, types.ErrSessionNotFound
}

// Update runs fn inside the session's critical section. Header changes and
// appended messages are queued for the store before the lock is released, so
// store order matches log order without the store call holding the lock.
func (r *Registry) Update(ctx context.Context, id string, fn func(tx *Tx) error) error {
	e, ok := r.lookup(id)
	if !ok {
		return types.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx := &Tx{r: r, e: e}
	err := fn(tx)
	if tx.dirty {
		r.persistSession(e.header)
	}
	return err
}

// Join adds participant to the roster and schedules a join notice.
// Joining twice is a no-op that reports added=false.
func (r *Registry) Join(ctx context.Context, id string, participant types.Participant) (*types.DebateSession, bool, error) {
	var (
		snap  *types.DebateSession
		added bool
	)
	err := r.Update(ctx, id, func(tx *Tx) error {
		added = tx.AddParticipant(participant)
		snap = tx.Snapshot()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if added {
		r.metrics.ParticipantJoined()
		p := participant
		r.Synthesize(ctx, id, Request{Kind: types.KindJoinNotice, Delay: r.delays.JoinNotice, Newcomer: &p})
		r.logger.Info("participant joined", "session_id", id, "participant_id", participant.ID, "roster", len(snap.Participants))
	}
	return snap, added, nil
}

// End closes an active session on behalf of closer, appends the closing
// note and schedules the summary. Ending an ended session reports
// ended=false.
func (r *Registry) End(ctx context.Context, id string, closer types.Participant, note string) (*types.DebateSession, bool, error) {
	if strings.TrimSpace(note) == "" {
		return nil, false, types.NewValidationError("closing note", "is required")
	}

	var (
		snap  *types.DebateSession
		ended bool
	)
	err := r.Update(ctx, id, func(tx *Tx) error {
		if !tx.IsActive() {
			snap = tx.Snapshot()
			return nil
		}
		// Note goes in while still active so it is a normal message
		if _, err := tx.Append(closer, note); err != nil {
			return err
		}
		ended = tx.End(types.EndReasonHost)
		snap = tx.Snapshot()
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if ended {
		r.Synthesize(ctx, id, Request{Kind: types.KindSummary, Delay: r.delays.Summary})
		r.logger.Info("session ended", "session_id", id, "closer_id", closer.ID)
	}
	return snap, ended, nil
}

// Synthesize schedules a moderator message. The content is composed from
// the transcript when the task fires, not when it is scheduled.
func (r *Registry) Synthesize(ctx context.Context, id string, req Request) {
	r.scheduler.After(req.Delay, func() {
		r.fire(context.WithoutCancel(ctx), id, req)
	})
}

func (r *Registry) fire(ctx context.Context, id string, req Request) {
	err := r.Update(ctx, id, func(tx *Tx) error {
		if tx.Sealed() {
			return nil
		}
		switch req.Kind {
		case types.KindSummary:
			if tx.IsActive() || tx.e.header.Summary != "" {
				return nil
			}
		default:
			// Once ended only the summary may follow
			if !tx.IsActive() {
				return nil
			}
		}

		sc := tx.SynthesisContext(req.Trigger)
		sc.Newcomer = req.Newcomer
		sc.Categories = req.Categories
		if req.Newcomer != nil {
			// Announce the roster size as of the newcomer's arrival
			for i, p := range tx.e.header.Participants {
				if p.ID == req.Newcomer.ID {
					sc.ParticipantCount = i + 1
					break
				}
			}
		}

		msg, err := r.moderator.Synthesize(req.Kind, sc)
		if err != nil {
			return err
		}
		if _, err := tx.AppendSynthesized(msg); err != nil {
			return err
		}
		if req.Kind == types.KindSummary {
			tx.SetSummary(r.moderator.Summarize(sc))
			tx.Seal()
		}
		return nil
	})
	if err != nil && !errors.Is(err, types.ErrSessionNotFound) {
		r.logger.Warn("synthesis dropped", "session_id", id, "kind", req.Kind, "error", err)
	}
}

// List returns snapshots of resident sessions matching opts
func (r *Registry) List(ctx context.Context, opts ListOptions) []*types.DebateSession {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	query := strings.ToLower(strings.TrimSpace(opts.Query))
	out := make([]*types.DebateSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		match := (opts.Status == "" || e.header.Status == opts.Status) && matchesQuery(e.header, query)
		var snap *types.DebateSession
		if match {
			snap = e.snapshot()
		}
		e.mu.Unlock()
		if snap != nil {
			out = append(out, snap)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if opts.Sort == "popular" && len(out[i].Participants) != len(out[j].Participants) {
			return len(out[i].Participants) > len(out[j].Participants)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func matchesQuery(s *types.DebateSession, query string) bool {
	if query == "" {
		return true
	}
	if strings.Contains(strings.ToLower(s.Title), query) || strings.Contains(strings.ToLower(s.Description), query) {
		return true
	}
	for _, tag := range s.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Load restores sessions and their logs from the store.
// Sessions whose log ends with a terminal moderator message are sealed.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	headers, err := r.store.ListSessions(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	loaded := 0
	for _, h := range headers {
		history, err := r.store.GetSessionHistory(ctx, h.ID)
		if err != nil {
			r.logger.Warn("skipping session with unreadable history", "session_id", h.ID, "error", err)
			continue
		}
		msgs := make([]types.Message, 0, len(history))
		for _, m := range history {
			msgs = append(msgs, *m)
		}
		e := &entry{
			header:  h.Clone(),
			log:     messagelog.Restore(h.ID, msgs),
			members: make(map[string]bool, len(h.Participants)),
		}
		e.header.Messages = nil
		for _, p := range e.header.Participants {
			e.members[p.ID] = true
		}
		if last, ok := e.log.Last(); ok && (last.Kind == types.KindSummary || last.Kind == types.KindTermination) {
			e.log.Seal()
		}

		r.mu.Lock()
		r.sessions[h.ID] = e
		r.mu.Unlock()
		loaded++

		switch {
		case e.header.Status == types.SessionActive:
			r.metrics.SessionRestored()
		case e.log.Sealed():
			r.scheduleEviction(h.ID)
		case e.header.Summary == "":
			// Ended before the summary could be written
			r.Synthesize(ctx, h.ID, Request{Kind: types.KindSummary, Delay: r.delays.Summary})
		}
	}

	r.logger.Info("loaded sessions", "count", loaded)
	return nil
}

// Stats returns registry statistics
func (r *Registry) Stats() map[string]interface{} {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	active := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.header.Status == types.SessionActive {
			active++
		}
		e.mu.Unlock()
	}
	pending := 0
	if r.writes != nil {
		pending = r.writes.Len()
	}
	return map[string]interface{}{
		"active_sessions":   active,
		"resident_sessions": len(entries),
		"pending_writes":    pending,
	}
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	return e, ok
}

func (r *Registry) scheduleEviction(id string) {
	if r.archive == nil || r.retention <= 0 {
		return
	}
	r.scheduler.After(r.retention, func() {
		r.evict(context.Background(), id)
	})
}

// evict moves a sealed session to the archive and drops it from memory
func (r *Registry) evict(ctx context.Context, id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	snap := e.snapshot()
	sealed := e.log.Sealed()
	e.mu.Unlock()
	if !sealed {
		return
	}

	if err := r.archive.Put(ctx, snap); err != nil {
		r.logger.Error("failed to archive session", "session_id", id, "error", err)
		return
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.metrics.Archived()
	r.logger.Info("session archived", "session_id", id, "messages", len(snap.Messages))
}

// persistSession queues a header write; caller holds the session lock
func (r *Registry) persistSession(header *types.DebateSession) {
	if r.writes == nil {
		return
	}
	snap := header.Clone()
	_ = r.writes.Enqueue(database.Write{
		Name: "save session",
		Key:  snap.ID,
		Apply: func(ctx context.Context) error {
			return r.store.SaveSession(ctx, snap)
		},
	})
}

// persistMessage queues a message write; caller holds the session lock
func (r *Registry) persistMessage(msg types.Message) {
	if r.writes == nil {
		return
	}
	_ = r.writes.Enqueue(database.Write{
		Name: "append message",
		Key:  msg.SessionID + "/" + msg.ID,
		Apply: func(ctx context.Context) error {
			return r.store.AppendMessage(ctx, &msg)
		},
	})
}
