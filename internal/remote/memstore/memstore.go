package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote"
)

// ErrRejected is returned by injected write failures that carry no cause.
var ErrRejected = errors.New("memstore: write rejected")

// Store is an in-memory remote store. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	online bool
	now    func() time.Time

	sessions []model.ParkingSession
	waitlist map[string]model.WaitlistEntry
	vehicles map[string]model.VehicleProfile
	nextID   int

	failWrites int
	failErr    error
	rejects    map[string]error

	journal []string

	subs    map[remote.Table]map[int]func(remote.Change)
	nextSub int
}

var (
	_ remote.Store    = (*Store)(nil)
	_ remote.Registry = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for change notifications.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty, online store.
func New(opts ...Option) *Store {
	s := &Store{
		online:   true,
		now:      time.Now,
		waitlist: make(map[string]model.WaitlistEntry),
		vehicles: make(map[string]model.VehicleProfile),
		rejects:  make(map[string]error),
		subs:     make(map[remote.Table]map[int]func(remote.Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnline toggles reachability. While offline every call fails with
// remote.ErrUnavailable.
func (s *Store) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// Online reports whether the store is reachable.
func (s *Store) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// FailNextWrites makes the next n write calls fail with err, or ErrRejected
// when err is nil.
func (s *Store) FailNextWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrRejected
	}
	s.failWrites = n
	s.failErr = err
}

// RejectPlate makes every write for plate fail with err until cleared.
func (s *Store) RejectPlate(plate string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrRejected
	}
	s.rejects[model.NormalizePlate(plate)] = err
}

// ClearRejections removes all plate rejections.
func (s *Store) ClearRejections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = make(map[string]error)
}

// AddVehicle registers a vehicle profile.
func (s *Store) AddVehicle(p model.VehicleProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Plate = model.NormalizePlate(p.Plate)
	s.vehicles[p.Plate] = p
}

// SeedSession stores a confirmed session without journaling it.
func (s *Store) SeedSession(sess model.ParkingSession) model.ParkingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = s.newID()
	}
	s.sessions = append(s.sessions, sess)
	return sess
}

// SeedWaitlist stores a waitlist entry without journaling it.
func (s *Store) SeedWaitlist(e model.WaitlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitlist[e.ID] = e
}

// Journal returns a copy of the write journal.
func (s *Store) Journal() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.journal))
	copy(out, s.journal)
	return out
}

// Sessions returns every stored session, active or not, in insertion order.
func (s *Store) Sessions() []model.ParkingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ParkingSession, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *Store) newID() string {
	s.nextID++
	return fmt.Sprintf("s-%04d", s.nextID)
}

// checkWrite must be called with mu held.
func (s *Store) checkWrite(plate string) error {
	if !s.online {
		return remote.ErrUnavailable
	}
	if s.failWrites > 0 {
		s.failWrites--
		return s.failErr
	}
	if err, ok := s.rejects[model.NormalizePlate(plate)]; ok {
		return err
	}
	return nil
}

// InsertSession implements remote.Store.
func (s *Store) InsertSession(ctx context.Context, sess model.ParkingSession) (model.ParkingSession, error) {
	if err := ctx.Err(); err != nil {
		return model.ParkingSession{}, err
	}

	s.mu.Lock()
	if err := s.checkWrite(sess.Plate); err != nil {
		s.mu.Unlock()
		return model.ParkingSession{}, err
	}
	if sess.ClientRef != "" {
		for _, existing := range s.sessions {
			if existing.ClientRef == sess.ClientRef {
				s.journal = append(s.journal, fmt.Sprintf("insert_session plate=%s client_ref=%s duplicate", sess.Plate, sess.ClientRef))
				s.mu.Unlock()
				return existing, nil
			}
		}
	}
	sess.ID = s.newID()
	s.sessions = append(s.sessions, sess)
	s.journal = append(s.journal, fmt.Sprintf("insert_session plate=%s client_ref=%s id=%s", sess.Plate, sess.ClientRef, sess.ID))
	notify := s.listeners(remote.TableSessions)
	change := remote.Change{Table: remote.TableSessions, Action: "INSERT", RowID: sess.ID, At: s.now()}
	s.mu.Unlock()

	deliver(notify, change)
	return sess, nil
}

// UpdateSessionCheckOut implements remote.Store.
func (s *Store) UpdateSessionCheckOut(ctx context.Context, ref string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	idx := -1
	for i, existing := range s.sessions {
		if existing.Matches(ref) {
			idx = i
			break
		}
	}
	plate := ""
	if idx >= 0 {
		plate = s.sessions[idx].Plate
	}
	if err := s.checkWrite(plate); err != nil {
		s.mu.Unlock()
		return err
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("check out %s: %w", ref, remote.ErrNotFound)
	}
	if s.sessions[idx].CheckOut != nil {
		s.journal = append(s.journal, fmt.Sprintf("check_out plate=%s ref=%s already_closed", plate, ref))
		s.mu.Unlock()
		return nil
	}
	at = at.UTC()
	s.sessions[idx].CheckOut = &at
	s.journal = append(s.journal, fmt.Sprintf("check_out plate=%s ref=%s", plate, ref))
	notify := s.listeners(remote.TableSessions)
	change := remote.Change{Table: remote.TableSessions, Action: "UPDATE", RowID: s.sessions[idx].ID, At: s.now()}
	s.mu.Unlock()

	deliver(notify, change)
	return nil
}

// InsertWaitlistEntry implements remote.Store.
func (s *Store) InsertWaitlistEntry(ctx context.Context, e model.WaitlistEntry) (model.WaitlistEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.WaitlistEntry{}, err
	}

	s.mu.Lock()
	if err := s.checkWrite(e.Plate); err != nil {
		s.mu.Unlock()
		return model.WaitlistEntry{}, err
	}
	if existing, ok := s.waitlist[e.ID]; ok {
		s.journal = append(s.journal, fmt.Sprintf("waitlist_add plate=%s id=%s duplicate", e.Plate, e.ID))
		s.mu.Unlock()
		return existing, nil
	}
	s.waitlist[e.ID] = e
	s.journal = append(s.journal, fmt.Sprintf("waitlist_add plate=%s id=%s", e.Plate, e.ID))
	notify := s.listeners(remote.TableWaitlist)
	change := remote.Change{Table: remote.TableWaitlist, Action: "INSERT", RowID: e.ID, At: s.now()}
	s.mu.Unlock()

	deliver(notify, change)
	return e, nil
}

// DeleteWaitlistEntry implements remote.Store.
func (s *Store) DeleteWaitlistEntry(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.waitlist[id]
	if err := s.checkWrite(existing.Plate); err != nil {
		s.mu.Unlock()
		return err
	}
	if !ok {
		s.journal = append(s.journal, fmt.Sprintf("waitlist_remove id=%s missing", id))
		s.mu.Unlock()
		return nil
	}
	delete(s.waitlist, id)
	s.journal = append(s.journal, fmt.Sprintf("waitlist_remove plate=%s id=%s", existing.Plate, id))
	notify := s.listeners(remote.TableWaitlist)
	change := remote.Change{Table: remote.TableWaitlist, Action: "DELETE", RowID: id, At: s.now()}
	s.mu.Unlock()

	deliver(notify, change)
	return nil
}

// SelectActiveSessions implements remote.Store.
func (s *Store) SelectActiveSessions(ctx context.Context) ([]model.ParkingSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, remote.ErrUnavailable
	}

	out := make([]model.ParkingSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Active() {
			out = append(out, sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckIn.Before(out[j].CheckIn)
	})
	return out, nil
}

// SelectWaitlist implements remote.Store.
func (s *Store) SelectWaitlist(ctx context.Context, limit int) ([]model.WaitlistEntry, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, 0, remote.ErrUnavailable
	}

	out := make([]model.WaitlistEntry, 0, len(s.waitlist))
	for _, e := range s.waitlist {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.Before(out[j].EntryTime)
		}
		return out[i].ID < out[j].ID
	})
	total := len(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// SelectWaitlistIDs implements remote.Store.
func (s *Store) SelectWaitlistIDs(ctx context.Context, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, remote.ErrUnavailable
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.waitlist[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// FindVehicleByPlate implements remote.Registry.
func (s *Store) FindVehicleByPlate(ctx context.Context, plate string) (*model.VehicleProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return nil, remote.ErrUnavailable
	}
	p, ok := s.vehicles[model.NormalizePlate(plate)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Ping implements remote.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Online() {
		return remote.ErrUnavailable
	}
	return nil
}

// Subscribe implements remote.Store. Callbacks run on the writing goroutine
// after the store lock is released.
func (s *Store) Subscribe(ctx context.Context, table remote.Table, onChange func(remote.Change)) (remote.Subscription, error) {
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", table)
	}

	s.mu.Lock()
	if !s.online {
		s.mu.Unlock()
		return nil, remote.ErrUnavailable
	}
	if s.subs[table] == nil {
		s.subs[table] = make(map[int]func(remote.Change))
	}
	s.nextSub++
	id := s.nextSub
	s.subs[table][id] = onChange
	s.mu.Unlock()

	sub := &subscription{store: s, table: table, id: id, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// listeners must be called with mu held.
func (s *Store) listeners(table remote.Table) []func(remote.Change) {
	out := make([]func(remote.Change), 0, len(s.subs[table]))
	for _, fn := range s.subs[table] {
		out = append(out, fn)
	}
	return out
}

func deliver(fns []func(remote.Change), c remote.Change) {
	for _, fn := range fns {
		fn(c)
	}
}

type subscription struct {
	store *Store
	table remote.Table
	id    int
	once  sync.Once
	done  chan struct{}
}

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.subs[sub.table], sub.id)
		sub.store.mu.Unlock()
		close(sub.done)
	})
	return nil
}
