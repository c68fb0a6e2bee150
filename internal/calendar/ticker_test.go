package calendar

import (
	"context"
	"testing"
	"time"
)

func TestNextMinute(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{at(2021, time.March, 11, 17, 20).Add(13 * time.Second), at(2021, time.March, 11, 17, 21)},
		{at(2021, time.March, 11, 17, 20), at(2021, time.March, 11, 17, 21)},
		{at(2021, time.December, 31, 23, 59).Add(59 * time.Second), at(2022, time.January, 1, 0, 0)},
	}
	for _, tt := range tests {
		if got := nextMinute(tt.in); !got.Equal(tt.want) {
			t.Errorf("nextMinute(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTicker_TickAtUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	ticker := NewTicker(loc)

	tick := ticker.tickAt(time.Date(2021, time.January, 1, 5, 0, 0, 0, time.UTC))
	if tick.Reference.Hour != 0 {
		t.Errorf("Hour = %d, want 0 in UTC-5", tick.Reference.Hour)
	}
	if !tick.Changes.Has(FieldYear) {
		t.Errorf("local new year should include year, got %v", tick.Changes)
	}
}

func TestTicker_RunStopsOnCancel(t *testing.T) {
	ticker := NewTicker(time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ticker.Run(ctx, func(context.Context, Tick) {
		t.Error("callback should not run after cancellation")
	})
	if err != context.Canceled {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
