// Package game owns the shared game state: the token store, the display-name
// index, the global event, block settings, the audit log and the session
// registry. Every handler and background sweep goes through State, which
// serializes all mutations behind one mutex and hands the resulting
// notifications to the Notifier before the lock is released.
package game

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ernie/shaker/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Notifier delivers outbound messages to connected sessions. It is called
// with the state lock held, so implementations must not block and must not
// call back into State.
type Notifier interface {
	Send(token string, msg domain.Message)
	Broadcast(msg domain.Message)
	Kick(token string, msg domain.Message)
}

// State is the single owner of all mutable game state
type State struct {
	mu       sync.Mutex
	users    map[string]*domain.UserRecord // token -> record
	names    map[string]string             // display name -> token
	sessions map[string]string             // token -> live session id
	event    *domain.GlobalEvent
	settings domain.BlockSettings
	audit    *AuditLog
	nextSeq  int64

	economy     domain.Economy
	protected   map[string]bool
	tokenLength int
	now         func() time.Time
	log         zerolog.Logger
	notifier    Notifier
	validate    *validator.Validate
	persistCh   chan struct{}
}

// Option configures a State
type Option func(*State)

// WithClock replaces time.Now, for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *State) { s.log = l }
}

// WithNotifier sets the outbound message sink
func WithNotifier(n Notifier) Option {
	return func(s *State) { s.notifier = n }
}

// WithEconomy sets the upgrade cost curves
func WithEconomy(e domain.Economy) Option {
	return func(s *State) { s.economy = e }
}

// WithBlockSettings sets the initial block timings
func WithBlockSettings(b domain.BlockSettings) Option {
	return func(s *State) { s.settings = b }
}

// WithAuditSize sets the audit log capacity
func WithAuditSize(n int) Option {
	return func(s *State) { s.audit = NewAuditLog(n) }
}

// WithProtectedNames marks identities that can never be demoted, deleted or renamed
func WithProtectedNames(names ...string) Option {
	return func(s *State) {
		for _, n := range names {
			s.protected[n] = true
		}
	}
}

// WithTokenLength sets the length of generated tokens
func WithTokenLength(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.tokenLength = n
		}
	}
}

// New creates an empty State
func New(opts ...Option) *State {
	s := &State{
		users:       make(map[string]*domain.UserRecord),
		names:       make(map[string]string),
		sessions:    make(map[string]string),
		settings:    domain.BlockSettings{BlockDurationMinutes: 1, CooldownDurationMinutes: 5},
		audit:       NewAuditLog(100),
		nextSeq:     1,
		economy:     domain.DefaultEconomy,
		protected:   make(map[string]bool),
		tokenLength: 8,
		now:         time.Now,
		log:         zerolog.Nop(),
		validate:    validator.New(),
		persistCh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier attaches the transport after construction
func (s *State) SetNotifier(n Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// IsProtected reports whether a display name is a configured protected identity
func (s *State) IsProtected(name string) bool {
	return s.protected[name]
}

// primaryAdminLocked decides whether name can never lose admin rights. With
// no configured protected names the earliest created admin is the primary.
func (s *State) primaryAdminLocked(name string) bool {
	if len(s.protected) > 0 {
		return s.protected[name]
	}
	token, ok := s.names[name]
	if !ok || !s.users[token].IsAdmin {
		return false
	}
	for _, u := range s.users {
		if u.IsAdmin && u.Seq < s.users[token].Seq {
			return false
		}
	}
	return true
}

// PersistRequests signals when a mutation wants an immediate snapshot write
func (s *State) PersistRequests() <-chan struct{} {
	return s.persistCh
}

// --- outbox ---

type delivery struct {
	token string // empty means broadcast
	kick  bool
	msg   domain.Message
}

// outbox collects the side effects of one critical section
type outbox struct {
	deliveries []delivery
	persist    bool
}

func (o *outbox) send(token string, msg domain.Message) {
	o.deliveries = append(o.deliveries, delivery{token: token, msg: msg})
}

func (o *outbox) broadcast(msg domain.Message) {
	o.deliveries = append(o.deliveries, delivery{msg: msg})
}

func (o *outbox) kick(token string, msg domain.Message) {
	o.deliveries = append(o.deliveries, delivery{token: token, kick: true, msg: msg})
}

// update runs fn under the state lock and queues what it produced on the
// notifier while still holding it, so deliveries follow mutation order
func (s *State) update(fn func(o *outbox)) {
	o := &outbox{}
	s.mu.Lock()
	fn(o)
	if n := s.notifier; n != nil {
		for _, d := range o.deliveries {
			switch {
			case d.kick:
				n.Kick(d.token, d.msg)
			case d.token == "":
				n.Broadcast(d.msg)
			default:
				n.Send(d.token, d.msg)
			}
		}
	}
	s.mu.Unlock()

	if o.persist {
		s.requestPersist()
	}
}

func (s *State) requestPersist() {
	select {
	case s.persistCh <- struct{}{}:
	default:
		// A write is already pending
	}
}

// auditLocked appends an entry and fans it out to live admin sessions. Any
// token in secrets is kept in the entry but masked in the process log.
func (s *State) auditLocked(o *outbox, actor, message string, secrets ...string) {
	entry := s.audit.Add(s.now(), actor, message)
	logged := message
	for _, secret := range secrets {
		logged = strings.ReplaceAll(logged, secret, redactToken(secret))
	}
	s.log.Info().Str("actor", actor).Msg(logged)
	msg := domain.NewMessage(domain.EventAuditLog, entry)
	for _, token := range s.liveAdminTokensLocked() {
		o.send(token, msg)
	}
}

// redactToken keeps the first two characters
func redactToken(token string) string {
	if len(token) <= 2 {
		return strings.Repeat("*", len(token))
	}
	return token[:2] + strings.Repeat("*", len(token)-2)
}

func (s *State) liveAdminTokensLocked() []string {
	var tokens []string
	for token := range s.sessions {
		if u := s.users[token]; u != nil && u.IsAdmin {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens
}

// mutatedLocked queues the persistence write and leaderboard refresh that
// follow most state changes
func (s *State) mutatedLocked(o *outbox) {
	o.persist = true
	o.broadcast(domain.NewMessage(domain.EventLeaderboard, s.leaderboardLocked()))
}

// sendUserDataLocked pushes the full record to its live session, if any
func (s *State) sendUserDataLocked(o *outbox, token string) {
	if _, live := s.sessions[token]; !live {
		return
	}
	if u := s.users[token]; u != nil {
		o.send(token, domain.NewMessage(domain.EventUserData, u))
	}
}

// --- token store ---

// Get returns a copy of the record for token
func (s *State) Get(token string) (*domain.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[token]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// GetByName returns the token and a copy of the record for a display name
func (s *State) GetByName(name string) (string, *domain.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.names[name]
	if !ok {
		return "", nil, false
	}
	return token, s.users[token].Clone(), true
}

// Put stores a copy of record under token, keeping the name index consistent.
// Name uniqueness is enforced by the create and rename commands, not here.
func (s *State) Put(token string, record *domain.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(token, record.Clone())
}

func (s *State) putLocked(token string, u *domain.UserRecord) {
	if old, ok := s.users[token]; ok && s.names[old.Name] == token {
		delete(s.names, old.Name)
	}
	if u.Seq == 0 {
		u.Seq = s.nextSeq
	}
	if u.Seq >= s.nextSeq {
		s.nextSeq = u.Seq + 1
	}
	s.users[token] = u
	s.names[u.Name] = token
}

// Delete removes the record for token
func (s *State) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(token)
}

func (s *State) deleteLocked(token string) {
	u, ok := s.users[token]
	if !ok {
		return
	}
	if s.names[u.Name] == token {
		delete(s.names, u.Name)
	}
	delete(s.users, token)
	// A live session stays registered until its transport closes
}

// TokenRecord pairs a token with a record copy
type TokenRecord struct {
	Token  string
	Record *domain.UserRecord
}

// SnapshotAll returns copies of every record in creation order
func (s *State) SnapshotAll() []TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderedLocked()
}

func (s *State) orderedLocked() []TokenRecord {
	out := make([]TokenRecord, 0, len(s.users))
	for token, u := range s.users {
		out = append(out, TokenRecord{Token: token, Record: u.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Record.Seq < out[j].Record.Seq
	})
	return out
}

// Snapshot returns a consistent copy of everything that is persisted
func (s *State) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		Users:   make(map[string]*domain.UserRecord, len(s.users)),
		SavedAt: s.now(),
	}
	for token, u := range s.users {
		snap.Users[token] = u.Clone()
	}
	if s.event != nil {
		ev := *s.event
		snap.Event = &ev
	}
	settings := s.settings
	snap.BlockSettings = &settings
	return snap
}

// Load replaces the state with a persisted snapshot. Every record is marked
// offline and any live sessions are forgotten.
func (s *State) Load(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*domain.UserRecord, len(snap.Users))
	s.names = make(map[string]string, len(snap.Users))
	s.sessions = make(map[string]string)
	s.nextSeq = 1

	// Records without a creation order get one in token order
	tokens := make([]string, 0, len(snap.Users))
	for token := range snap.Users {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	var unordered []string
	for _, token := range tokens {
		u := snap.Users[token]
		if u == nil {
			continue
		}
		if u.Seq == 0 {
			unordered = append(unordered, token)
			continue
		}
		c := u.Clone()
		c.IsLive = false
		s.putLocked(token, c)
	}
	for _, token := range unordered {
		c := snap.Users[token].Clone()
		c.IsLive = false
		s.putLocked(token, c)
	}

	s.event = nil
	if snap.Event != nil {
		ev := *snap.Event
		s.event = &ev
	}
	if snap.BlockSettings != nil {
		s.settings = *snap.BlockSettings
	}
}

// Len returns the number of stored records
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// --- read accessors ---

// Multiplier returns the effective score multiplier at the current instant
func (s *State) Multiplier() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiplierLocked(s.now())
}

// multiplierLocked is the one effective-multiplier accessor used by both the
// action handler and the passive tick
func (s *State) multiplierLocked(now time.Time) float64 {
	if s.event.ActiveAt(now) {
		return s.event.Multiplier
	}
	return 1
}

// Event returns a copy of the current global event, or nil
func (s *State) Event() *domain.GlobalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event == nil {
		return nil
	}
	ev := *s.event
	return &ev
}

// ActiveEvent returns a copy of the event if it still applies now, or nil
func (s *State) ActiveEvent() *domain.GlobalEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.event.ActiveAt(s.now()) {
		return nil
	}
	ev := *s.event
	return &ev
}

// BlockSettings returns the current block timings
func (s *State) BlockSettings() domain.BlockSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// AuditEntries returns the audit log, newest first
func (s *State) AuditEntries() []domain.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.Entries()
}

// Leaderboard returns the current ranking
func (s *State) Leaderboard() []domain.LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// leaderboardLocked ranks every record by score, descending, ties in creation order
func (s *State) leaderboardLocked() []domain.LeaderboardEntry {
	records := make([]*domain.UserRecord, 0, len(s.users))
	for _, u := range s.users {
		records = append(records, u)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Seq < records[j].Seq
	})

	entries := make([]domain.LeaderboardEntry, len(records))
	for i, u := range records {
		entries[i] = domain.LeaderboardEntry{
			Name:      u.Name,
			Score:     u.Score,
			IsLive:    u.IsLive,
			IsBlocked: u.IsBlocked,
		}
	}
	return entries
}
