package model

import (
	"testing"
	"time"
)

func TestOccurrenceIDDeterministic(t *testing.T) {
	pairs := []struct {
		id    int64
		start int64
	}{
		{1, 1700000000000},
		{42, 0},
		{0, 42},
		{-7, 1700000000000},
		{913, 2000000000123},
	}

	for _, p := range pairs {
		a := OccurrenceID(p.id, p.start)
		b := OccurrenceID(p.id, p.start)
		if a != b {
			t.Errorf("OccurrenceID(%d, %d) not stable: %d != %d", p.id, p.start, a, b)
		}
	}
}

func TestOccurrenceIDDistinguishesInputs(t *testing.T) {
	base := OccurrenceID(1, 1700000000000)

	if got := OccurrenceID(2, 1700000000000); got == base {
		t.Errorf("different id produced same occurrence id %d", got)
	}
	if got := OccurrenceID(1, 1700000060000); got == base {
		t.Errorf("different start produced same occurrence id %d", got)
	}
}

func TestOccurrenceIDKnownValues(t *testing.T) {
	// Pinned values: the derivation is part of the wire contract between the
	// two daemons and must never drift between releases.
	tests := []struct {
		id    int64
		start int64
		want  int32
	}{
		{0, 0, 1536},
		{1, 2, 1569},
	}

	for _, tc := range tests {
		if got := OccurrenceID(tc.id, tc.start); got != tc.want {
			t.Errorf("OccurrenceID(%d, %d) = %d, want %d", tc.id, tc.start, got, tc.want)
		}
	}
}

func TestEventKeys(t *testing.T) {
	ev := Event{ID: 12, StartMillis: 1700000000000, Title: "Standup", Recurring: true}

	if ev.SeriesKey() != "12" {
		t.Errorf("SeriesKey = %q, want %q", ev.SeriesKey(), "12")
	}
	if ev.OccurrenceID() != OccurrenceID(12, 1700000000000) {
		t.Errorf("method and function disagree on occurrence id")
	}
	if !ev.Start().Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("Start = %v", ev.Start())
	}
}
