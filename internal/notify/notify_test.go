package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lotkeep/internal/engine"
	"github.com/roach88/lotkeep/internal/model"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func TestPromotionOffer(t *testing.T) {
	entry := model.WaitlistEntry{Plate: "ABC123", OwnerPhone: "+15550199"}

	msg, ok := PromotionOffer("Lot 7", entry, nil)
	require.True(t, ok)
	assert.Equal(t, "+15550199", msg.To)
	assert.Equal(t, "Hello, a parking space is now available for ABC123 at Lot 7. "+
		"Please come to the entrance and let the attendant know you are here.", msg.Body)

	msg, ok = PromotionOffer("Lot 7", entry, &model.VehicleProfile{OwnerName: "Dana", OwnerPhone: "+15550100"})
	require.True(t, ok)
	assert.Equal(t, "+15550100", msg.To, "registry phone wins")
	assert.Contains(t, msg.Body, "Hello Dana,")

	placeholder := model.PlaceholderProfile("ABC123", model.Vehicle{})
	msg, ok = PromotionOffer("Lot 7", entry, &placeholder)
	require.True(t, ok)
	assert.Contains(t, msg.Body, "Hello,")

	_, ok = PromotionOffer("Lot 7", model.WaitlistEntry{Plate: "ABC123"}, nil)
	assert.False(t, ok)
}

func TestOfferNotifier_SendsAsync(t *testing.T) {
	s := &recordingSender{}
	n := NewOfferNotifier(s, "Lot 7", nil)

	n.NotifyOffer(context.Background(), engine.Offer{Entry: model.WaitlistEntry{Plate: "AA11", OwnerPhone: "+1"}})
	n.NotifyOffer(context.Background(), engine.Offer{Entry: model.WaitlistEntry{Plate: "BB22"}})
	n.Wait()

	require.Len(t, s.msgs, 1)
	assert.Equal(t, "+1", s.msgs[0].To)
}

func TestOfferNotifier_FailureSwallowed(t *testing.T) {
	s := &recordingSender{err: errors.New("twilio: 401")}
	n := NewOfferNotifier(s, "Lot 7", nil)

	ctx, cancel := context.WithCancel(context.Background())
	n.NotifyOffer(ctx, engine.Offer{Entry: model.WaitlistEntry{Plate: "AA11", OwnerPhone: "+1"}})
	cancel()
	n.Wait()

	assert.Len(t, s.msgs, 1)
}

func TestNew(t *testing.T) {
	s, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, LogSender{}, s)

	s, err = New(Config{Provider: ProviderNoop}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Send(context.Background(), Message{To: "+1", Body: "x"}))

	_, err = New(Config{Provider: ProviderTwilio}, nil)
	assert.Error(t, err)

	s, err = New(Config{Provider: ProviderTwilio, TwilioAccountSID: "AC1", TwilioAuthToken: "tok", TwilioFrom: "+1555"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TwilioSender{}, s)

	_, err = New(Config{Provider: "pigeon"}, nil)
	assert.Error(t, err)
}
