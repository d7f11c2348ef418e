package store

import (
	"context"

	"github.com/cppla/feedsync/models"
)

// Gateway is the remote content API. Implementations classify failures with the
// sentinel errors of this package (ErrNotFound, ErrTransient, ErrRejected, ErrMalformed).
type Gateway interface {
	FetchPosts(ctx context.Context, page, size int, category string) (models.PostPage, error)
	SearchPosts(ctx context.Context, query, cursor string, size int) (models.SearchPage, error)
	FetchPost(ctx context.Context, id models.ID) (models.Post, error)
	CreatePost(ctx context.Context, in models.NewPost) (models.Post, error)
	DeletePost(ctx context.Context, id models.ID) error

	FetchComments(ctx context.Context, postID models.ID) ([]models.Comment, error)
	CreateComment(ctx context.Context, postID models.ID, content string, parentID *models.ID) (models.Comment, error)
	DeleteComment(ctx context.Context, commentID models.ID) error

	Vote(ctx context.Context, postID models.ID, dir models.Vote) error
	ToggleBookmark(ctx context.Context, postID models.ID) error
}
