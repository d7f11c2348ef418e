package models

import "time"

// Comment is a top-level comment or a reply. Replies are nested one level deep only:
// a reply never carries replies of its own.
type Comment struct {
	ID              ID        `json:"id"`
	PostID          ID        `json:"post_id"`
	ParentCommentID *ID       `json:"parent_comment_id,omitempty"`
	Author          string    `json:"author"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	Replies         []Comment `json:"replies,omitempty"`
}

// IsReply reports whether the comment answers another comment.
func (c Comment) IsReply() bool {
	return c.ParentCommentID != nil && *c.ParentCommentID != ""
}

// CloneComments deep-copies a comment tree.
func CloneComments(in []Comment) []Comment {
	if in == nil {
		return nil
	}
	out := make([]Comment, len(in))
	for i, c := range in {
		out[i] = c
		if c.ParentCommentID != nil {
			pid := *c.ParentCommentID
			out[i].ParentCommentID = &pid
		}
		out[i].Replies = CloneComments(c.Replies)
	}
	return out
}

// CountComments returns the number of comments including replies.
func CountComments(in []Comment) int {
	n := 0
	for _, c := range in {
		n += 1 + len(c.Replies)
	}
	return n
}
