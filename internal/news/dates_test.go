package news

import (
	"testing"
	"time"
)

func TestParseDateLocales(t *testing.T) {
	cases := []struct {
		in    string
		year  int
		month time.Month
		day   int
	}{
		{"Tue, 05 Mar 2024 10:30:00 +0000", 2024, time.March, 5},
		{"Tue, 05 Mar 2024 10:30:00 GMT", 2024, time.March, 5},
		{"2024-03-05T10:30:00Z", 2024, time.March, 5},
		{"2024-03-05 10:30:00", 2024, time.March, 5},
		{"2024-03-05", 2024, time.March, 5},
		{"March 5th, 2024", 2024, time.March, 5},
		{"5 March 2024", 2024, time.March, 5},
		{"Dienstag, 5. März 2024", 2024, time.March, 5},
		{"5. Dezember 2023 um 14:30 Uhr", 2023, time.December, 5},
		{"mardi 5 mars 2024", 2024, time.March, 5},
		{"1er février 2024", 2024, time.February, 1},
		{"5 de marzo de 2024", 2024, time.March, 5},
		{"5 marzo 2024", 2024, time.March, 5},
		{"5 maart 2024", 2024, time.March, 5},
		{"5. marts 2024", 2024, time.March, 5},
		{"5 mars 2024", 2024, time.March, 5},
		{"5 de março de 2024", 2024, time.March, 5},
		{"12 ottobre 2023", 2023, time.October, 12},
		{"17 mei 2024", 2024, time.May, 17},
		{"Sept. 9, 2024", 2024, time.September, 9},
		{"Mi, 14 Mai 2025 10:00:00 +0200", 2025, time.May, 14},
		{"Di, 14. Mai 2025", 2025, time.May, 14},
		{"mar, 14 ene 2025 10:00:00 +0100", 2025, time.January, 14},
		{"mié, 15 ene 2025", 2025, time.January, 15},
		{"mar. 14 janv. 2025", 2025, time.January, 14},
		{"mar 14 gen 2025", 2025, time.January, 14},
		{"mer 15 gen 2025 08:30", 2025, time.January, 15},
		{"tir, 14 jan 2025 10:00:00 +0100", 2025, time.January, 14},
		{"man. 13 jan. 2025", 2025, time.January, 13},
		{"ti 14 jan. 2025 10:00", 2025, time.January, 14},
		{"14 des. 2025", 2025, time.December, 14},
		{"Mar 5 2024", 2024, time.March, 5},
	}

	for _, tc := range cases {
		got, ok := TryParseDate(tc.in)
		if !ok {
			t.Errorf("TryParseDate(%q) failed", tc.in)
			continue
		}
		if got.Year() != tc.year || got.Month() != tc.month || got.Day() != tc.day {
			t.Errorf("TryParseDate(%q) = %v, want %d-%02d-%02d", tc.in, got, tc.year, tc.month, tc.day)
		}
	}
}

func TestParseDateFallsBackToNow(t *testing.T) {
	before := time.Now()
	got := ParseDate("definitely not a date")
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Fatalf("ParseDate fallback = %v, want within [%v, %v]", got, before, after)
	}
}

func TestParseDateEmpty(t *testing.T) {
	if _, ok := TryParseDate("   "); ok {
		t.Fatal("empty string must not parse")
	}
}
