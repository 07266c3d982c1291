package availability

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
)

var ErrInvalidWindow = errors.New("availability window start must be before end")

// Window is a recurring weekly open interval for an expert. Only Start is
// bookable; the range is never subdivided into further slots.
type Window struct {
	ID       uuid.UUID
	ExpertID uuid.UUID
	Day      Weekday
	Start    TimeOfDay
	End      TimeOfDay
}

func NewWindow(expertID uuid.UUID, day Weekday, start, end TimeOfDay) (Window, error) {
	if !day.Valid() {
		return Window{}, ErrInvalidWeekday
	}
	if start >= end {
		return Window{}, ErrInvalidWindow
	}
	return Window{
		ID:       uuid.New(),
		ExpertID: expertID,
		Day:      day,
		Start:    start,
		End:      end,
	}, nil
}

// Overlaps reports whether two windows of the same expert and day intersect.
func (w Window) Overlaps(other Window) bool {
	if w.ExpertID != other.ExpertID || w.Day != other.Day {
		return false
	}
	return w.Start < other.End && other.Start < w.End
}

// WindowSource loads the availability windows of one expert for one weekday.
type WindowSource interface {
	WindowsForDay(ctx context.Context, expertID uuid.UUID, day Weekday) ([]Window, error)
}

type Index struct {
	src WindowSource
}

func NewIndex(src WindowSource) *Index {
	return &Index{src: src}
}

// OpenStartTimes returns the sorted, deduplicated start times of every window
// the expert has on date's weekday. An unknown expert yields an empty set.
func (i *Index) OpenStartTimes(ctx context.Context, expertID uuid.UUID, date Date) ([]TimeOfDay, error) {
	windows, err := i.src.WindowsForDay(ctx, expertID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load availability windows: %w", err)
	}

	starts := make([]TimeOfDay, 0, len(windows))
	for _, w := range windows {
		starts = append(starts, w.Start)
	}
	slices.Sort(starts)
	return slices.Compact(starts), nil
}

// IsOpen reports whether tod exactly matches one of the expert's start times
// on date. Times falling inside a window but not on its start are not open.
func (i *Index) IsOpen(ctx context.Context, expertID uuid.UUID, date Date, tod TimeOfDay) (bool, error) {
	starts, err := i.OpenStartTimes(ctx, expertID, date)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(starts, tod)
	return found, nil
}
