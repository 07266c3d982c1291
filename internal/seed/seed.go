// Package seed fills a store with fake experts and weekly availability for
// local development and load tests.
package seed

import (
	"context"
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

// Writer is implemented by both repositories.
type Writer interface {
	CreateExpert(ctx context.Context, e *appointment.Expert) error
	CreateWindow(ctx context.Context, w *availability.Window) error
}

type Options struct {
	Experts       int
	DaysPerExpert int // distinct weekdays, Monday to Friday
	SlotsPerDay   int // one hour windows between FirstHour and LastHour
	FirstHour     int
	LastHour      int
}

func (o Options) withDefaults() Options {
	if o.Experts <= 0 {
		o.Experts = 10
	}
	if o.DaysPerExpert <= 0 || o.DaysPerExpert > 5 {
		o.DaysPerExpert = 3
	}
	if o.FirstHour <= 0 {
		o.FirstHour = 9
	}
	if o.LastHour <= o.FirstHour || o.LastHour > 24 {
		o.LastHour = 17
	}
	if hours := o.LastHour - o.FirstHour; o.SlotsPerDay <= 0 || o.SlotsPerDay > hours {
		o.SlotsPerDay = min(4, hours)
	}
	return o
}

// Experts creates opts.Experts experts, each with opts.SlotsPerDay hourly
// windows on opts.DaysPerExpert random weekdays.
func Experts(ctx context.Context, w Writer, faker *gofakeit.Faker, opts Options) ([]appointment.Expert, error) {
	opts = opts.withDefaults()
	experts := make([]appointment.Expert, 0, opts.Experts)

	for i := 0; i < opts.Experts; i++ {
		name := faker.Name()
		e := appointment.Expert{
			Name:  name,
			Email: fmt.Sprintf("%s.%d@itoolbox.example.com", emailLocal(name), i+1),
		}
		if err := w.CreateExpert(ctx, &e); err != nil {
			return experts, fmt.Errorf("create expert %q: %w", e.Name, err)
		}

		for _, day := range pick(faker, 5, opts.DaysPerExpert) {
			for _, offset := range pick(faker, opts.LastHour-opts.FirstHour, opts.SlotsPerDay) {
				hour := opts.FirstHour + offset
				win, err := availability.NewWindow(e.ID, availability.Weekday(day),
					availability.NewTimeOfDay(hour, 0), availability.NewTimeOfDay(hour+1, 0))
				if err != nil {
					return experts, err
				}
				if err := w.CreateWindow(ctx, &win); err != nil {
					return experts, fmt.Errorf("create window for %s: %w", e.ID, err)
				}
			}
		}
		experts = append(experts, e)
	}
	return experts, nil
}

// Customer returns a fake customer with a lowercase address.
func Customer(faker *gofakeit.Faker) appointment.Customer {
	return appointment.Customer{
		Name:  faker.Name(),
		Email: strings.ToLower(faker.Email()),
		Phone: fmt.Sprintf("5%09d", faker.Number(0, 999999999)),
	}
}

// TicketNo returns a random ticket number in the INC0nnnnnn format.
func TicketNo(faker *gofakeit.Faker) string {
	return fmt.Sprintf("INC0%06d", faker.Number(0, 999999))
}

// pick returns k distinct values from [0, n).
func pick(faker *gofakeit.Faker, n, k int) []int {
	values := make([]int, n)
	for i := range values {
		values[i] = i
	}
	for i := 0; i < k; i++ {
		j := faker.Number(i, n-1)
		values[i], values[j] = values[j], values[i]
	}
	return values[:k]
}

func emailLocal(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('.')
		}
	}
	if b.Len() == 0 {
		return "expert"
	}
	return b.String()
}
