package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/model"
	"github.com/roach88/lotkeep/internal/remote/memstore"
	"github.com/roach88/lotkeep/internal/store"
	"github.com/roach88/lotkeep/internal/testutil"
)

// DefaultCapacity is used when a scenario does not set one.
const DefaultCapacity = 2

// stepInterval is how far the clock moves before each step.
const stepInterval = time.Minute

// link is the harness's connectivity switch.
type link struct{ offline atomic.Bool }

func (l *link) IsOnline() bool { return !l.offline.Load() }

// Harness drives one facility through a scenario.
type Harness struct {
	facility *engine.Facility
	store    *store.Store
	remote   *memstore.Store
	link     *link
	clock    *testutil.ManualClock
}

// Run executes a scenario against a fresh in-memory queue and remote store.
// The returned error covers setup failures only; unmet expectations are
// reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewManualClock(time.Time{})
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	capacity := scenario.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	rs := memstore.New(memstore.WithClock(clock.Now))
	for _, v := range scenario.Registry {
		rs.AddVehicle(model.VehicleProfile{
			Plate:      v.Plate,
			Vehicle:    model.Vehicle{Make: v.Make, Model: v.Model, Color: v.Color},
			OwnerName:  v.OwnerName,
			OwnerPhone: v.OwnerPhone,
		})
	}

	h := &Harness{
		store:  st,
		remote: rs,
		link:   &link{},
		clock:  clock,
	}
	h.facility = engine.New(st, st, rs,
		engine.WithName(scenario.Name),
		engine.WithCapacity(capacity),
		engine.WithRegistry(rs, scenario.RequireRegisteredPlate),
		engine.WithConnectivity(h.link),
		engine.WithGenerator(testutil.NewSequenceGenerator("ref")),
		engine.WithClock(clock.Now),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		clock.Advance(stepInterval)
		outcome := h.execute(ctx, step)
		result.Steps = append(result.Steps, StepResult{
			Index:   i + 1,
			Action:  step.Action,
			Plate:   step.Plate,
			Outcome: outcome,
		})
		if step.Expect != "" && step.Expect != outcome {
			result.AddError(fmt.Sprintf("step %d %s: expected %q, got %q", i+1, describe(step), step.Expect, outcome))
		}
	}

	result.Journal = append(result.Journal, rs.Journal()...)
	final, err := h.final(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final

	for _, msg := range CheckFinal(scenario.Expect, final) {
		result.AddError(msg)
	}
	return result, nil
}

func describe(step Step) string {
	if step.Plate == "" {
		return step.Action
	}
	return step.Action + " " + step.Plate
}

// execute performs one step and renders its outcome. Engine errors render
// as their engine.ErrorKind label.
func (h *Harness) execute(ctx context.Context, step Step) string {
	switch step.Action {
	case ActionGoOffline:
		h.link.offline.Store(true)
		h.remote.SetOnline(false)
		return "ok"

	case ActionGoOnline:
		h.link.offline.Store(false)
		h.remote.SetOnline(true)
		return "ok"

	case ActionCheckIn:
		res, err := h.facility.CheckIn(ctx, engine.CheckInRequest{Plate: step.Plate, Attendant: "harness"})
		if err != nil {
			return engine.ErrorKind(err)
		}
		return res.Outcome

	case ActionCheckOut:
		res, err := h.facility.CheckOut(ctx, step.Plate)
		if err != nil {
			return engine.ErrorKind(err)
		}
		if res.Offer != nil {
			return "departed offer=" + res.Offer.Entry.Plate
		}
		return "departed"

	case ActionAccept:
		res, err := h.facility.AcceptOffer(ctx)
		if err != nil {
			return engine.ErrorKind(err)
		}
		if res.Next != nil {
			return "admitted " + res.Session.Plate + " offer=" + res.Next.Entry.Plate
		}
		return "admitted " + res.Session.Plate

	case ActionReject:
		res, err := h.facility.RejectOffer(ctx)
		if err != nil {
			return engine.ErrorKind(err)
		}
		if res.Next != nil {
			return "rejected " + res.Rejected.Plate + " offer=" + res.Next.Entry.Plate
		}
		return "rejected " + res.Rejected.Plate

	case ActionSync:
		res, err := h.facility.Sync(ctx)
		if err != nil {
			return engine.ErrorKind(err)
		}
		return res.String()
	}
	return "unknown action"
}

func (h *Harness) final(ctx context.Context) (FinalState, error) {
	view, err := h.facility.Refresh(ctx)
	if err != nil {
		return FinalState{}, err
	}
	dead, err := h.store.ListDeadLetters(ctx)
	if err != nil {
		return FinalState{}, err
	}

	final := FinalState{
		Active:        make([]string, 0, len(view.ActiveSessions)),
		Waitlist:      make([]string, 0, len(view.Waitlist)),
		WaitlistCount: view.WaitlistCount,
		Pending:       view.Pending,
		DeadLetters:   len(dead),
		Promotion:     h.facility.PromotionState().String(),
	}
	for _, s := range view.ActiveSessions {
		final.Active = append(final.Active, s.Plate)
	}
	sort.Strings(final.Active)
	for _, e := range view.Waitlist {
		final.Waitlist = append(final.Waitlist, e.Plate)
	}
	return final, nil
}

// Render formats a result as the golden trace text.
func Render(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("steps:\n")
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "  %d %s -> %s\n", s.Index, describe(Step{Action: s.Action, Plate: s.Plate}), s.Outcome)
	}

	b.WriteString("remote:\n")
	if len(r.Journal) == 0 {
		b.WriteString("  -\n")
	}
	for _, line := range r.Journal {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	b.WriteString("final:\n")
	fmt.Fprintf(&b, "  active: %s\n", list(r.Final.Active))
	fmt.Fprintf(&b, "  waitlist: %s\n", list(r.Final.Waitlist))
	fmt.Fprintf(&b, "  waitlist_count: %d\n", r.Final.WaitlistCount)
	fmt.Fprintf(&b, "  pending: %d\n", r.Final.Pending)
	fmt.Fprintf(&b, "  dead_letters: %d\n", r.Final.DeadLetters)
	fmt.Fprintf(&b, "  promotion: %s\n", r.Final.Promotion)
	return []byte(b.String())
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
