package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (p *blockingPublisher) Publish(ctx context.Context, ev Event) error {
	<-p.release
	p.mu.Lock()
	p.got = append(p.got, ev)
	p.mu.Unlock()
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("broker down") }

func sampleEvent(kind Kind) Event {
	starts := time.Date(2026, time.October, 19, 9, 0, 0, 0, time.UTC)
	return Event{
		ID:         "ev-1",
		Kind:       kind,
		OccurredAt: starts.Add(-72 * time.Hour),
		To:         Recipient{Name: "Ayse Kaya", Email: "ayse@example.com"},
		Appointment: AppointmentView{
			ID:            "appt-1",
			ExpertName:    "Mert Demir",
			ExpertEmail:   "mert@example.com",
			CustomerName:  "Ayse Kaya",
			CustomerEmail: "ayse@example.com",
			CustomerPhone: "5551234567",
			TicketNo:      "INC0123456",
			Date:          "2026-10-19",
			Time:          "09:00",
			StartsAt:      starts,
			Status:        "approved",
			Notes:         "VPN, laptop",
		},
	}
}

func TestDispatcher_PublishesQueuedEvents(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, DispatcherOptions{Workers: 2, Buffer: 8})
	d.Start()

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), sampleEvent(KindApproved))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	assert.Len(t, rec.Events(), 5)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	d := NewDispatcher(pub, DispatcherOptions{Workers: 1, Buffer: 1})
	d.Start()

	// one event in flight, one buffered, the rest dropped
	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), sampleEvent(KindApproved))
		time.Sleep(5 * time.Millisecond)
	}
	close(pub.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Less(t, len(pub.got), 5)
	assert.GreaterOrEqual(t, len(pub.got), 1)
}

func TestDispatcher_NotifyAfterCloseDoesNotPanic(t *testing.T) {
	d := NewDispatcher(&Recorder{}, DispatcherOptions{})
	d.Start()
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), sampleEvent(KindApproved))
	})
}

func TestDispatcher_PublishFailureIsSwallowed(t *testing.T) {
	d := NewDispatcher(failingPublisher{}, DispatcherOptions{})
	d.Start()
	d.Notify(context.Background(), sampleEvent(KindCancelled))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestRenderer_AllKinds(t *testing.T) {
	r := Renderer{Location: time.UTC, SlotDuration: 30 * time.Minute}
	kinds := []Kind{
		KindNewAppointment, KindApproved, KindCancelled, KindCompleted, KindReminder,
		KindReassignedAway, KindReassignedTo, KindReassignedCustomer,
		KindRescheduleApproved, KindRescheduleRejected,
	}
	for _, kind := range kinds {
		msg, err := r.Render(sampleEvent(kind))
		require.NoError(t, err, kind)
		assert.NotEmpty(t, msg.Subject, kind)
		assert.Contains(t, msg.Body, "INC0123456", kind)
	}

	_, err := r.Render(sampleEvent(Kind("unknown")))
	require.Error(t, err)
}

func TestRenderer_RescheduleProposalLinks(t *testing.T) {
	ev := sampleEvent(KindRescheduleProposed)
	ev.Reason = "expert travelling"
	ev.Proposed = &ProposedSlot{Date: "2026-10-21", Time: "14:00"}
	ev.ApproveURL = "http://localhost/appointments/reschedule/tok/approve"
	ev.RejectURL = "http://localhost/appointments/reschedule/tok/reject"

	msg, err := Renderer{}.Render(ev)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, ev.ApproveURL)
	assert.Contains(t, msg.Body, ev.RejectURL)
	assert.Contains(t, msg.Body, "2026-10-21 14:00")

	ev.Proposed = nil
	_, err = Renderer{}.Render(ev)
	require.Error(t, err)
}

func TestRenderer_ReassignedToIsStatusAware(t *testing.T) {
	ev := sampleEvent(KindReassignedTo)
	msg, err := Renderer{}.Render(ev)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "already approved")

	ev.Appointment.Status = "pending"
	msg, err = Renderer{}.Render(ev)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "waiting for your approval")
}

func TestRenderer_CalendarAttachment(t *testing.T) {
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)
	r := Renderer{SlotDuration: 45 * time.Minute, Now: func() time.Time { return now }}
	ev := sampleEvent(KindApproved)
	ev.Calendar = true

	msg, err := r.Render(ev)
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 1)

	ics := string(msg.Attachments[0].Data)
	assert.Contains(t, ics, "DTSTART:20261019T090000Z")
	assert.Contains(t, ics, "DTEND:20261019T094500Z")
	assert.Contains(t, ics, "UID:appt-1@randevu")
	assert.Contains(t, ics, `DESCRIPTION:VPN\, laptop`)
	assert.True(t, strings.HasSuffix(ics, "END:VCALENDAR\r\n"))
}

func TestCalendarInvite_QuotesParameterValues(t *testing.T) {
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)
	inv := CalendarInvite{
		UID:       "appt-1@randevu",
		Summary:   "IT consultation",
		Start:     now.Add(time.Hour),
		End:       now.Add(2 * time.Hour),
		Organizer: Recipient{Name: "Doe, John", Email: "john@example.com"},
		Attendee:  Recipient{Name: "Ayse Kaya", Email: "ayse@example.com"},
	}

	ics := string(inv.ICS(now))
	assert.Contains(t, ics, "\r\nORGANIZER;CN=\"Doe, John\":mailto:john@example.com\r\n")
	assert.Contains(t, ics, "\r\nATTENDEE;CN=Ayse Kaya;RSVP=FALSE:mailto:ayse@example.com\r\n")
	assert.NotContains(t, ics, `\,`)
}

func TestParamICS(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ayse Kaya", "Ayse Kaya"},
		{"Doe, John", `"Doe, John"`},
		{"IT; Helpdesk", `"IT; Helpdesk"`},
		{"Team: Network", `"Team: Network"`},
		{`Ali "the admin" Veli`, "Ali the admin Veli"},
		{"Line\r\nBreak", "LineBreak"},
		{`C:\Users`, `"C:\Users"`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, paramICS(tt.in))
		})
	}
}

func TestSender_Handle(t *testing.T) {
	var sent []Message
	s := &Sender{Renderer: Renderer{}, Mailer: mailerFunc(func(_ context.Context, m Message) error {
		sent = append(sent, m)
		return nil
	})}

	require.NoError(t, s.Handle(context.Background(), sampleEvent(KindApproved)))
	require.Len(t, sent, 1)
	assert.Equal(t, "ayse@example.com", sent[0].To.Email)

	ev := sampleEvent(KindApproved)
	ev.To.Email = ""
	require.Error(t, s.Handle(context.Background(), ev))
}

func TestHandleDelivery(t *testing.T) {
	body, err := json.Marshal(sampleEvent(KindReminder))
	require.NoError(t, err)

	var got Event
	err = handleDelivery(context.Background(), body, func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, KindReminder, got.Kind)
	assert.Equal(t, "INC0123456", got.Appointment.TicketNo)

	err = handleDelivery(context.Background(), []byte("{"), func(context.Context, Event) error { return nil })
	require.Error(t, err)
}

type mailerFunc func(ctx context.Context, m Message) error

func (f mailerFunc) Send(ctx context.Context, m Message) error { return f(ctx, m) }
