package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/model"
)

// PromotionOffer composes the text telling a waitlisted owner a slot is
// free. It reports false when there is no number to send to.
func PromotionOffer(facility string, entry model.WaitlistEntry, profile *model.VehicleProfile) (Message, bool) {
	to := entry.OwnerPhone
	greeting := "Hello"
	if profile != nil {
		if profile.OwnerPhone != "" {
			to = profile.OwnerPhone
		}
		if profile.OwnerName != "" && profile.OwnerName != model.UnknownOwnerName {
			greeting = "Hello " + profile.OwnerName
		}
	}
	if to == "" {
		return Message{}, false
	}
	body := fmt.Sprintf("%s, a parking space is now available for %s at %s. "+
		"Please come to the entrance and let the attendant know you are here.",
		greeting, entry.Plate, facility)
	return Message{To: to, Body: body}, true
}

// OfferNotifier adapts a Sender to engine.Notifier. Each offer is sent on
// its own goroutine with a bounded timeout.
type OfferNotifier struct {
	sender   Sender
	facility string
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

var _ engine.Notifier = (*OfferNotifier)(nil)

// NewOfferNotifier creates an OfferNotifier for the named facility.
func NewOfferNotifier(s Sender, facility string, logger *slog.Logger) *OfferNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OfferNotifier{
		sender:   s,
		facility: facility,
		timeout:  15 * time.Second,
		logger:   logger.With("component", "notify"),
	}
}

// NotifyOffer implements engine.Notifier.
func (n *OfferNotifier) NotifyOffer(ctx context.Context, offer engine.Offer) {
	msg, ok := PromotionOffer(n.facility, offer.Entry, offer.Profile)
	if !ok {
		n.logger.Info("no phone for offered plate, skipping sms", "plate", offer.Entry.Plate)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.sender.Send(sendCtx, msg); err != nil {
			n.logger.Warn("promotion sms failed", "plate", offer.Entry.Plate, "error", err)
			return
		}
		n.logger.Debug("promotion sms sent", "plate", offer.Entry.Plate)
	}()
}

// Wait blocks until every in-flight send has finished.
func (n *OfferNotifier) Wait() {
	n.wg.Wait()
}
