package models

import (
	"encoding/json"
	"testing"
)

func TestNextVote(t *testing.T) {
	cases := []struct {
		current, dir, want Vote
		delta              int
	}{
		{VoteNone, VoteUp, VoteUp, 1},
		{VoteNone, VoteDown, VoteDown, -1},
		{VoteUp, VoteUp, VoteNone, -1},
		{VoteDown, VoteDown, VoteNone, 1},
		{VoteUp, VoteDown, VoteDown, -2},
		{VoteDown, VoteUp, VoteUp, 2},
		{VoteUp, VoteNone, VoteNone, -1},
		{VoteDown, VoteNone, VoteNone, 1},
		{VoteNone, VoteNone, VoteNone, 0},
		{"", VoteUp, VoteUp, 1},
	}
	for _, tc := range cases {
		got, delta := NextVote(tc.current, tc.dir)
		if got != tc.want || delta != tc.delta {
			t.Errorf("NextVote(%q, %q) = %q, %d; want %q, %d", tc.current, tc.dir, got, delta, tc.want, tc.delta)
		}
	}
}

func TestVoteUnmarshal(t *testing.T) {
	var p struct {
		V Vote `json:"v"`
	}
	for in, want := range map[string]Vote{
		`{"v":"up"}`:   VoteUp,
		`{"v":"down"}`: VoteDown,
		`{"v":""}`:     VoteNone,
		`{"v":null}`:   VoteNone,
	} {
		p.V = "junk"
		if err := json.Unmarshal([]byte(in), &p); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if p.V != want {
			t.Errorf("%s decoded to %q, want %q", in, p.V, want)
		}
	}
	if err := json.Unmarshal([]byte(`{"v":"sideways"}`), &p); err == nil {
		t.Fatal("unknown vote accepted")
	}
}
