package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Vote is the acting user's own vote on a post.
type Vote string

const (
	VoteNone Vote = "none"
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

// Valid reports whether v is one of up, down or none.
func (v Vote) Valid() bool {
	switch v {
	case VoteNone, VoteUp, VoteDown:
		return true
	}
	return false
}

// UnmarshalJSON maps empty and null to VoteNone and rejects unknown values.
func (v *Vote) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*v = VoteNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*v = VoteNone
		return nil
	}
	parsed := Vote(s)
	if !parsed.Valid() {
		return fmt.Errorf("unknown vote %q", s)
	}
	*v = parsed
	return nil
}

// NextVote returns the acting user's vote after requesting dir on top of current,
// and the resulting change of the post's net score.
//
//	none -> up   = up   +1    up   -> up   = none -1
//	none -> down = down -1    down -> down = none +1
//	up   -> down = down -2    down -> up   = up   +2
//
// Requesting none clears whatever vote is in place.
func NextVote(current, dir Vote) (Vote, int) {
	if current == "" {
		current = VoteNone
	}
	if dir == VoteNone || dir == current {
		return VoteNone, -weight(current)
	}
	return dir, weight(dir) - weight(current)
}

func weight(v Vote) int {
	switch v {
	case VoteUp:
		return 1
	case VoteDown:
		return -1
	}
	return 0
}
