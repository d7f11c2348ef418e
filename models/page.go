package models

// PostPage is one page of an offset-paginated category listing.
type PostPage struct {
	Items  []Post `json:"items"`
	IsLast bool   `json:"is_last"`
}

// SearchPage is one page of cursor-paginated search results. An empty
// NextCursor means there are no further pages.
type SearchPage struct {
	Items      []Post `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// NewPost is the payload for creating a post.
type NewPost struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Category string  `json:"category"`
	Flair    *string `json:"flair,omitempty"`
}
