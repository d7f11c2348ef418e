package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is a server-assigned identity. The backend may send it as a JSON string or integer;
// both decode to the same value so ids compare by value.
type ID string

// UnmarshalJSON accepts `"42"`, `42` and `"abc"`.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is neither string nor integer", b)
	}
	*id = ID(strconv.FormatInt(n, 10))
	return nil
}

func (id ID) String() string { return string(id) }

// Post represents a feed post as seen by the acting user.
type Post struct {
	ID             ID        `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Author         string    `json:"author"`
	AuthorID       ID        `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	Category       string    `json:"category"`
	Flair          *string   `json:"flair,omitempty"`
	Votes          int       `json:"votes"`
	UserVote       Vote      `json:"user_vote"`
	Bookmarked     bool      `json:"bookmarked"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CommentCount   int       `json:"comment_count"`
	Comments       []Comment `json:"comments,omitempty"` // nil until loaded
}

// Clone returns a deep copy so cached records never share memory with callers.
func (p Post) Clone() Post {
	out := p
	if p.Flair != nil {
		f := *p.Flair
		out.Flair = &f
	}
	if p.Comments != nil {
		out.Comments = CloneComments(p.Comments)
	}
	return out
}

// CommentsLoaded reports whether the comment list was fetched for this post.
func (p Post) CommentsLoaded() bool {
	return p.Comments != nil
}

// Normalized returns a deep copy with defaults filled in: a missing user_vote means none.
func (p Post) Normalized() Post {
	out := p.Clone()
	if out.UserVote == "" {
		out.UserVote = VoteNone
	}
	return out
}

// Validate rejects records that cannot be cached.
func (p Post) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("post without id")
	}
	if p.UserVote != "" && !p.UserVote.Valid() {
		return fmt.Errorf("post %s: invalid user_vote %q", p.ID, p.UserVote)
	}
	return nil
}
