package api

import "testing"

func TestParseRange(t *testing.T) {
	tests := []struct {
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"bytes=0-0", 10, 0, 0, false},
		{"bytes=10-19", 1000, 10, 19, false},
		{"bytes=10-", 1000, 10, 999, false},
		{"bytes=990-2000", 1000, 990, 999, false},
		{"bytes=-100", 1000, 900, 999, false},
		{"bytes=-5000", 1000, 0, 999, false},
		{" bytes=1-2 ", 10, 1, 2, false},
		{"bytes= 1 - 2", 10, 1, 2, false},

		{"bytes=1000-", 1000, 0, 0, true},
		{"bytes=1000-1001", 1000, 0, 0, true},
		{"bytes=20-10", 1000, 0, 0, true},
		{"bytes=-0", 1000, 0, 0, true},
		{"bytes=-", 1000, 0, 0, true},
		{"bytes=", 1000, 0, 0, true},
		{"bytes=5", 1000, 0, 0, true},
		{"bytes=a-b", 1000, 0, 0, true},
		{"bytes=+1-2", 1000, 0, 0, true},
		{"bytes=0-1,3-4", 1000, 0, 0, true},
		{"bits=0-1", 1000, 0, 0, true},
		{"0-1", 1000, 0, 0, true},
		{"bytes=0-", 0, 0, 0, true},
		{"bytes=-1", 0, 0, 0, true},
		{"bytes=99999999999999999999-", 1000, 0, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			start, end, err := parseRange(tc.header, tc.size)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %d-%d", start, end)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if start != tc.wantStart || end != tc.wantEnd {
				t.Errorf("got %d-%d, want %d-%d", start, end, tc.wantStart, tc.wantEnd)
			}
		})
	}
}
