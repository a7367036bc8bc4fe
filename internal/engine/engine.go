package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote"
)

// SnapshotKey is the key/value entry holding the last confirmed snapshot.
const SnapshotKey = "remote_snapshot"

// DefaultMaxCapacity is the number of slots when no capacity is configured.
const DefaultMaxCapacity = 25

// DefaultWaitlistLimit bounds how many waitlist entries a snapshot fetches.
const DefaultWaitlistLimit = 100

// Facility is the client-side admission engine for one parking facility.
//
// Foreground operations (CheckIn, CheckOut, AcceptOffer, RejectOffer) are
// serialized: each reads the reconciled view, decides, and writes to the
// local queue before the next one starts. Every write goes to the queue
// first and is then pushed to the remote store by a sync pass if the client
// is online.
//
// Thread-safety: all methods are safe for concurrent use.
type Facility struct {
	mu sync.Mutex

	name              string
	maxCapacity       int
	requireRegistered bool
	waitlistLimit     int

	queue    Queue
	kv       KeyValue
	remote   remote.Store
	registry remote.Registry
	conn     Connectivity
	notifier Notifier
	gen      CorrelationGenerator
	now      Clock
	logger   *slog.Logger
	backoff  BackoffPolicy

	syncer   *Syncer
	promoter *Promoter
}

// Option configures a Facility.
type Option func(*Facility)

// WithName sets the facility name used in notifications.
func WithName(name string) Option {
	return func(f *Facility) { f.name = name }
}

// WithCapacity sets the number of slots.
func WithCapacity(n int) Option {
	return func(f *Facility) { f.maxCapacity = n }
}

// WithRegistry enables registry lookups. When require is true, plates the
// registry reports as unknown are refused.
func WithRegistry(r remote.Registry, require bool) Option {
	return func(f *Facility) {
		f.registry = r
		f.requireRegistered = require
	}
}

// WithConnectivity sets the online indicator. Without one the facility
// assumes it is always online.
func WithConnectivity(c Connectivity) Option {
	return func(f *Facility) { f.conn = c }
}

// WithNotifier sets the receiver of promotion offers.
func WithNotifier(n Notifier) Option {
	return func(f *Facility) { f.notifier = n }
}

// WithGenerator sets the correlation id generator.
func WithGenerator(g CorrelationGenerator) Option {
	return func(f *Facility) { f.gen = g }
}

// WithClock sets the time source.
func WithClock(now Clock) Option {
	return func(f *Facility) { f.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facility) { f.logger = l }
}

// WithBackoff sets the retry policy of the sync engine.
func WithBackoff(p BackoffPolicy) Option {
	return func(f *Facility) { f.backoff = p }
}

// New creates a Facility over a local queue, its key/value cache and the
// remote store.
func New(q Queue, kv KeyValue, rs remote.Store, opts ...Option) *Facility {
	f := &Facility{
		name:          "the facility",
		maxCapacity:   DefaultMaxCapacity,
		waitlistLimit: DefaultWaitlistLimit,
		queue:         q,
		kv:            kv,
		remote:        rs,
		conn:          alwaysOnline{},
		notifier:      noopNotifier{},
		gen:           UUIDv7Generator{},
		now:           systemClock,
		logger:        slog.Default(),
		backoff:       DefaultBackoff(),
		promoter:      NewPromoter(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.syncer = NewSyncer(q, rs, f.backoff, f.now, f.logger)
	f.logger = f.logger.With("component", "facility")
	return f
}

// Name returns the facility name.
func (f *Facility) Name() string {
	return f.name
}

// Capacity returns the configured number of slots.
func (f *Facility) Capacity() int {
	return f.maxCapacity
}

// Online reports the connectivity indicator.
func (f *Facility) Online() bool {
	return f.conn.IsOnline()
}

// Sync runs one sync pass. Concurrent calls are dropped with Skipped set.
func (f *Facility) Sync(ctx context.Context) (PassResult, error) {
	return f.syncer.RunPass(ctx)
}

// syncIfOnline runs a pass after a foreground write. Failures stay in the
// queue; only local persistence errors are logged here.
func (f *Facility) syncIfOnline(ctx context.Context) {
	if !f.conn.IsOnline() {
		return
	}
	if _, err := f.syncer.RunPass(ctx); err != nil {
		f.logger.Error("sync after write failed", "error", err, "kind", ErrorKind(err))
	}
}

// snapshot returns the confirmed remote state. Online, it is fetched from
// the remote store and cached locally; offline, or when the fetch fails,
// the cached copy is returned. With no cache the snapshot is empty.
// lookup names waitlist entries whose remote presence matters to the
// pending queue.
func (f *Facility) snapshot(ctx context.Context, lookup []string) (model.Snapshot, error) {
	if f.conn.IsOnline() {
		snap, err := remote.FetchSnapshot(ctx, f.remote, f.waitlistLimit, lookup, f.now())
		if err == nil {
			f.cacheSnapshot(ctx, snap)
			return snap, nil
		}
		if ctx.Err() != nil {
			return model.Snapshot{}, ctx.Err()
		}
		f.logger.Warn("fetch snapshot failed, using cache", "error", err, "kind", ErrorKind(err))
	}
	return f.cachedSnapshot(ctx)
}

func (f *Facility) cacheSnapshot(ctx context.Context, snap model.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		f.logger.Error("encode snapshot", "error", err)
		return
	}
	if err := f.kv.Set(ctx, SnapshotKey, string(data)); err != nil {
		f.logger.Error("cache snapshot", "error", err, "kind", "local_persistence")
	}
}

func (f *Facility) cachedSnapshot(ctx context.Context) (model.Snapshot, error) {
	raw, ok, err := f.kv.Get(ctx, SnapshotKey)
	if err != nil {
		return model.Snapshot{}, localPersistence("read cached snapshot", err)
	}
	if !ok {
		return model.Snapshot{}, nil
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		f.logger.Warn("discarding unreadable cached snapshot", "error", err)
		return model.Snapshot{}, nil
	}
	return snap, nil
}

// Refresh recomputes the reconciled view from the current snapshot and the
// pending queue.
//
// The queue is read before the snapshot. A sync pass may run in between;
// every item it delivers is then both in the list and in the snapshot, and
// Reconcile drops the overlap. Reading in the other order would lose such
// items entirely.
func (f *Facility) Refresh(ctx context.Context) (View, error) {
	items, err := f.queue.List(ctx)
	if err != nil {
		return View{}, localPersistence("list queue", err)
	}
	snap, err := f.snapshot(ctx, waitlistIDs(items))
	if err != nil {
		return View{}, err
	}
	return Reconcile(snap, items), nil
}

// waitlistIDs returns the entry ids touched by queued waitlist mutations.
func waitlistIDs(items []model.QueueItem) []string {
	var ids []string
	for _, item := range items {
		switch m := item.Mutation.(type) {
		case model.WaitlistAdd:
			ids = append(ids, m.Entry.ID)
		case model.WaitlistRemove:
			ids = append(ids, m.EntryID)
		}
	}
	return ids
}

// Pending returns the unconfirmed queue items in queue order.
func (f *Facility) Pending(ctx context.Context) ([]model.QueueItem, error) {
	items, err := f.queue.List(ctx)
	if err != nil {
		return nil, localPersistence("list queue", err)
	}
	return items, nil
}

// enqueue writes m to the local queue.
func (f *Facility) enqueue(ctx context.Context, m model.Mutation, correlationID string) (int64, error) {
	id, err := f.queue.Enqueue(ctx, m, correlationID)
	if err != nil {
		err = localPersistence("enqueue "+string(m.Op()), err)
		f.logger.Error("enqueue failed", "op", m.Op(), "plate", m.Plate(), "error", err, "kind", ErrorKind(err))
		return 0, err
	}
	f.logger.Debug("enqueued", "op", m.Op(), "plate", m.Plate(), "item", id, "correlation_id", correlationID)
	return id, nil
}

// lookupProfile queries the registry. known is false only when the registry
// answered and does not have the plate; an unconfigured or unreachable
// registry never blocks admission.
func (f *Facility) lookupProfile(ctx context.Context, plate string) (profile *model.VehicleProfile, known bool) {
	if f.registry == nil || !f.conn.IsOnline() {
		return nil, true
	}
	p, err := f.registry.FindVehicleByPlate(ctx, plate)
	if err != nil {
		f.logger.Warn("registry lookup failed", "plate", plate, "error", err, "kind", ErrorKind(err))
		return nil, true
	}
	return p, p != nil
}

// CheckInRequest is an attendant's admission request.
type CheckInRequest struct {
	Plate     string        `json:"plate"`
	Vehicle   model.Vehicle `json:"vehicle"`
	Attendant string        `json:"attendant"`
}

// CheckInResult describes an accepted admission request.
type CheckInResult struct {
	Decision Decision              `json:"-"`
	Outcome  string                `json:"outcome"`
	Session  *model.ParkingSession `json:"session,omitempty"`
	Entry    *model.WaitlistEntry  `json:"entry,omitempty"`
	View     View                  `json:"view"`
}

// CheckIn admits a vehicle if a slot is free and otherwise adds it to the
// waitlist.
func (f *Facility) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	plate := model.NormalizePlate(req.Plate)
	if !model.ValidPlate(plate) {
		return CheckInResult{}, newInvalidPlate(req.Plate)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	view, err := f.Refresh(ctx)
	if err != nil {
		return CheckInResult{}, err
	}
	decision := Decide(view, plate, f.maxCapacity)
	if decision == DecisionConflict {
		return CheckInResult{}, newAlreadyCheckedIn(plate)
	}

	profile, known := f.lookupProfile(ctx, plate)
	if !known && f.requireRegistered {
		return CheckInResult{}, newPlateNotRegistered(plate)
	}

	vehicle := req.Vehicle
	if profile != nil && vehicle == (model.Vehicle{}) {
		vehicle = profile.Vehicle
	}
	now := f.now()
	res := CheckInResult{Decision: decision, Outcome: decision.String()}

	switch decision {
	case DecisionAdmit:
		sess := model.ParkingSession{
			ClientRef: f.gen.Generate(),
			Plate:     plate,
			Vehicle:   vehicle,
			Attendant: req.Attendant,
			CheckIn:   now,
		}
		if profile != nil {
			sess.OwnerName = profile.OwnerName
			sess.OwnerPhone = profile.OwnerPhone
		}
		if _, err := f.enqueue(ctx, model.CheckIn{Session: sess}, sess.ClientRef); err != nil {
			return CheckInResult{}, err
		}
		res.Session = &sess
		f.logger.Info("vehicle admitted", "plate", plate, "client_ref", sess.ClientRef)

	case DecisionWaitlist:
		entry := model.WaitlistEntry{
			ID:        f.gen.Generate(),
			Plate:     plate,
			Vehicle:   vehicle,
			Attendant: req.Attendant,
			EntryTime: now,
		}
		if profile != nil {
			entry.OwnerPhone = profile.OwnerPhone
		}
		if _, err := f.enqueue(ctx, model.WaitlistAdd{Entry: entry}, entry.ID); err != nil {
			return CheckInResult{}, err
		}
		res.Entry = &entry
		f.logger.Info("vehicle waitlisted", "plate", plate, "entry", entry.ID)
	}

	f.syncIfOnline(ctx)
	if res.View, err = f.Refresh(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// CheckOutResult describes a completed departure.
type CheckOutResult struct {
	Session model.ParkingSession `json:"session"`
	Offer   *Offer               `json:"offer,omitempty"`
	View    View                 `json:"view"`
}

// CheckOut closes the active session addressed by ref, which may be the
// remote id, the client ref, or the plate. When online, the freed slot is
// offered to the longest-waiting vehicle.
func (f *Facility) CheckOut(ctx context.Context, ref string) (CheckOutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	view, err := f.Refresh(ctx)
	if err != nil {
		return CheckOutResult{}, err
	}
	sess, ok := view.FindSession(ref)
	if !ok {
		sess, ok = view.ActiveByPlate(model.NormalizePlate(ref))
	}
	if !ok {
		return CheckOutResult{}, newSessionNotActive(ref)
	}

	now := f.now()
	m := model.CheckOut{SessionRef: sess.Ref(), PlateNo: sess.Plate, At: now}
	if _, err := f.enqueue(ctx, m, sess.ClientRef); err != nil {
		return CheckOutResult{}, err
	}
	closed := sess
	closed.CheckOut = &now
	f.logger.Info("vehicle departed", "plate", sess.Plate, "session", sess.Ref())

	f.syncIfOnline(ctx)
	res := CheckOutResult{Session: closed}
	if res.View, err = f.Refresh(ctx); err != nil {
		return res, err
	}

	if f.conn.IsOnline() {
		if offer, ok := f.promoter.OnDeparture(res.View, sess.Ref(), f.now()); ok {
			offer = f.announce(ctx, offer)
			res.Offer = &offer
		} else if current, pending := f.promoter.Current(); pending {
			res.Offer = &current
		}
	}
	return res, nil
}

// announce attaches the registry profile to a fresh offer and notifies the
// owner.
func (f *Facility) announce(ctx context.Context, offer Offer) Offer {
	if profile, _ := f.lookupProfile(ctx, offer.Entry.Plate); profile != nil {
		f.promoter.SetProfile(profile)
		offer.Profile = profile
	}
	f.logger.Info("slot offered", "plate", offer.Entry.Plate, "entry", offer.Entry.ID, "departure", offer.Departure)
	f.notifier.NotifyOffer(ctx, offer)
	return offer
}

// CurrentOffer returns the pending promotion offer, if any.
func (f *Facility) CurrentOffer() (Offer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promoter.Current()
}

// PromotionState returns the state of the promotion cycle.
func (f *Facility) PromotionState() PromotionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.promoter.State()
}

// AcceptResult describes an accepted promotion.
type AcceptResult struct {
	Session model.ParkingSession `json:"session"`
	// Next is the offer made for a departure that freed a slot while this
	// offer was pending.
	Next *Offer `json:"next,omitempty"`
	View View   `json:"view"`
}

// AcceptOffer checks in the offered vehicle and removes its waitlist entry.
// If the check-in cannot be queued the offer stays pending.
func (f *Facility) AcceptOffer(ctx context.Context) (AcceptResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offer, err := f.promoter.Begin()
	if err != nil {
		return AcceptResult{}, err
	}
	entry := offer.Entry

	view, err := f.Refresh(ctx)
	if err != nil {
		f.promoter.Abort()
		return AcceptResult{}, err
	}
	if _, parked := view.ActiveByPlate(entry.Plate); parked {
		f.promoter.Abort()
		return AcceptResult{}, newAlreadyCheckedIn(entry.Plate)
	}

	profile, _ := f.lookupProfile(ctx, entry.Plate)
	if profile == nil {
		p := model.PlaceholderProfile(entry.Plate, entry.Vehicle)
		profile = &p
	}
	vehicle := entry.Vehicle
	if vehicle == (model.Vehicle{}) {
		vehicle = profile.Vehicle
	}

	sess := model.ParkingSession{
		ClientRef:  f.gen.Generate(),
		Plate:      entry.Plate,
		Vehicle:    vehicle,
		OwnerName:  profile.OwnerName,
		OwnerPhone: profile.OwnerPhone,
		Attendant:  entry.Attendant,
		CheckIn:    f.now(),
	}
	if _, err := f.enqueue(ctx, model.CheckIn{Session: sess}, sess.ClientRef); err != nil {
		f.promoter.Abort()
		return AcceptResult{}, err
	}

	// The vehicle is admitted from here on; a failure to queue the removal
	// leaves a stale waitlist entry but must not reopen the offer.
	f.promoter.Complete()
	var removeErr error
	if _, err := f.enqueue(ctx, model.WaitlistRemove{EntryID: entry.ID, PlateNo: entry.Plate}, entry.ID); err != nil {
		removeErr = err
	}
	f.logger.Info("offer accepted", "plate", entry.Plate, "client_ref", sess.ClientRef)

	f.syncIfOnline(ctx)
	res := AcceptResult{Session: sess}
	if res.View, err = f.Refresh(ctx); err != nil {
		return res, errors.Join(removeErr, err)
	}
	if f.conn.IsOnline() {
		if next, ok := f.promoter.Resume(res.View, AvailableSlots(res.View, f.maxCapacity), f.now()); ok {
			next = f.announce(ctx, next)
			res.Next = &next
		}
	}
	return res, removeErr
}

// RejectResult describes a rejected promotion.
type RejectResult struct {
	Rejected model.WaitlistEntry `json:"rejected"`
	Next     *Offer              `json:"next,omitempty"`
	View     View                `json:"view"`
}

// RejectOffer removes the offered vehicle from the waitlist and, when
// online, offers the slot to the next vehicle in line.
func (f *Facility) RejectOffer(ctx context.Context) (RejectResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offer, err := f.promoter.Begin()
	if err != nil {
		return RejectResult{}, err
	}
	entry := offer.Entry

	if _, err := f.enqueue(ctx, model.WaitlistRemove{EntryID: entry.ID, PlateNo: entry.Plate}, entry.ID); err != nil {
		f.promoter.Abort()
		return RejectResult{}, err
	}
	f.logger.Info("offer rejected", "plate", entry.Plate, "entry", entry.ID)

	f.syncIfOnline(ctx)
	res := RejectResult{Rejected: entry}
	if res.View, err = f.Refresh(ctx); err != nil {
		f.promoter.Complete()
		return res, err
	}

	if !f.conn.IsOnline() {
		f.promoter.Complete()
		return res, nil
	}
	if next, ok := f.promoter.Next(res.View, f.now()); ok {
		next = f.announce(ctx, next)
		res.Next = &next
	}
	return res, nil
}
