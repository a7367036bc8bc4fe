package harness

import (
	"fmt"
	"slices"
)

// CheckFinal compares the final state against the scenario's expectations
// and returns one message per mismatch. A nil expectation checks nothing.
func CheckFinal(want *FinalExpect, got FinalState) []string {
	if want == nil {
		return nil
	}
	var errs []string
	if want.Active != nil {
		expected := slices.Clone(want.Active)
		slices.Sort(expected)
		if !slices.Equal(expected, got.Active) {
			errs = append(errs, fmt.Sprintf("final active: expected %v, got %v", expected, got.Active))
		}
	}
	if want.Waitlist != nil && !slices.Equal(want.Waitlist, got.Waitlist) {
		errs = append(errs, fmt.Sprintf("final waitlist: expected %v, got %v", want.Waitlist, got.Waitlist))
	}
	if want.WaitlistCount != nil && *want.WaitlistCount != got.WaitlistCount {
		errs = append(errs, fmt.Sprintf("final waitlist_count: expected %d, got %d", *want.WaitlistCount, got.WaitlistCount))
	}
	if want.Pending != nil && *want.Pending != got.Pending {
		errs = append(errs, fmt.Sprintf("final pending: expected %d, got %d", *want.Pending, got.Pending))
	}
	if want.DeadLetters != nil && *want.DeadLetters != got.DeadLetters {
		errs = append(errs, fmt.Sprintf("final dead_letters: expected %d, got %d", *want.DeadLetters, got.DeadLetters))
	}
	if want.Promotion != "" && want.Promotion != got.Promotion {
		errs = append(errs, fmt.Sprintf("final promotion: expected %q, got %q", want.Promotion, got.Promotion))
	}
	return errs
}
