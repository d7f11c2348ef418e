package controllers

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/feedsync/middleware"
	"github.com/cppla/feedsync/models"
	"github.com/cppla/feedsync/utils"
)

const listCachePrefix = "cache:posts:list:"

// PostController serves posts, votes, bookmarks and comments.
type PostController struct {
	repo *Repository
}

// NewPostController creates a new PostController instance.
func NewPostController(repo *Repository) *PostController {
	return &PostController{repo: repo}
}

// CreatePost allows authenticated users to create new posts.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var req models.NewPost
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	req.Title = utils.Sanitize(strings.TrimSpace(req.Title))
	if req.Title == "" {
		utils.Error(ctx, http.StatusBadRequest, 40021, "title cannot be empty")
		return
	}
	req.Content = utils.Sanitize(req.Content)
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = "general"
	}
	if req.Flair != nil {
		f := utils.Sanitize(strings.TrimSpace(*req.Flair))
		req.Flair = &f
		if f == "" {
			req.Flair = nil
		}
	}

	author, ok := currentAuthor(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	post := p.repo.CreatePost(author, req)
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, post)
}

// ListPosts returns one zero-based page of posts, newest first.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	category := strings.TrimSpace(ctx.Query("category"))
	userID, _ := getUserID(ctx)

	// user_vote and bookmarked differ per caller, so the key carries the user
	cacheKey := fmt.Sprintf("%suser=%s:cat=%s:page=%d:size=%d", listCachePrefix, userID, category, page, pageSize)
	if b, ok := utils.CacheGetBytes(cacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	items, isLast := p.repo.ListPosts(userID, category, page, pageSize)
	payload := models.PostPage{Items: items, IsLast: isLast}
	utils.CacheSetJSON(cacheKey, utils.JSONResponse{Code: 0, Message: "success", Data: payload}, time.Minute)
	utils.Success(ctx, payload)
}

// SearchPosts pages through matches with an opaque cursor.
func (p *PostController) SearchPosts(ctx *gin.Context) {
	q := strings.TrimSpace(ctx.Query("q"))
	if q == "" {
		utils.Error(ctx, http.StatusBadRequest, 40040, "missing search query")
		return
	}
	_, size := parsePagination("", ctx.Query("size"))
	offset, ok := decodeCursor(ctx.Query("cursor"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40041, "invalid cursor")
		return
	}
	userID, _ := getUserID(ctx)

	items, last := p.repo.Search(userID, q, offset, size)
	next := ""
	if !last {
		next = encodeCursor(offset + len(items))
	}
	utils.Success(ctx, models.SearchPage{Items: items, NextCursor: next})
}

// GetPost returns a single post without comments.
func (p *PostController) GetPost(ctx *gin.Context) {
	userID, _ := getUserID(ctx)
	post, err := p.repo.GetPost(userID, models.ID(ctx.Param("id")))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
		return
	}
	utils.Success(ctx, post)
}

// DeletePost allows the author to delete their post.
func (p *PostController) DeletePost(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40112, "unauthorized")
		return
	}
	switch err := p.repo.DeletePost(userID, models.ID(ctx.Param("id"))); {
	case errors.Is(err, errPostNotFound):
		utils.Error(ctx, http.StatusNotFound, 40404, "post not found")
		return
	case errors.Is(err, errForbidden):
		utils.Error(ctx, http.StatusForbidden, 40302, "you can only delete your own posts")
		return
	}
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, gin.H{"message": "post deleted"})
}

// Vote records the caller's vote. Repeating the current direction clears it.
func (p *PostController) Vote(ctx *gin.Context) {
	var req struct {
		Direction models.Vote `json:"direction"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || !req.Direction.Valid() {
		utils.Error(ctx, http.StatusBadRequest, 40050, "invalid vote direction")
		return
	}
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40113, "unauthorized")
		return
	}
	post, err := p.repo.Vote(userID, models.ID(ctx.Param("id")), req.Direction)
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40405, "post not found")
		return
	}
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, gin.H{"votes": post.Votes, "user_vote": post.UserVote})
}

// ToggleBookmark flips the caller's bookmark.
func (p *PostController) ToggleBookmark(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40114, "unauthorized")
		return
	}
	bookmarked, err := p.repo.ToggleBookmark(userID, models.ID(ctx.Param("id")))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40406, "post not found")
		return
	}
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, gin.H{"bookmarked": bookmarked})
}

// ListComments returns the two-level comment tree of a post.
func (p *PostController) ListComments(ctx *gin.Context) {
	tree, err := p.repo.Comments(models.ID(ctx.Param("id")))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
		return
	}
	utils.Success(ctx, tree)
}

// CreateComment allows authenticated users to comment on posts or reply to comments.
func (p *PostController) CreateComment(ctx *gin.Context) {
	var req struct {
		Content         string     `json:"content" binding:"required"`
		ParentCommentID *models.ID `json:"parent_comment_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
		return
	}
	content := strings.TrimSpace(utils.Sanitize(req.Content))
	if content == "" {
		utils.Error(ctx, http.StatusBadRequest, 40023, "content cannot be empty")
		return
	}
	author, ok := currentAuthor(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	comment, err := p.repo.CreateComment(author, models.ID(ctx.Param("id")), content, req.ParentCommentID)
	switch {
	case errors.Is(err, errPostNotFound):
		utils.Error(ctx, http.StatusNotFound, 40402, "post not found")
		return
	case errors.Is(err, errBadParent):
		utils.Error(ctx, http.StatusBadRequest, 40024, "parent comment not found on this post")
		return
	}
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, comment)
}

// DeleteComment allows the comment owner to delete a comment and its replies.
func (p *PostController) DeleteComment(ctx *gin.Context) {
	cid := strings.TrimSpace(ctx.Param("commentId"))
	if cid == "" {
		utils.Error(ctx, http.StatusBadRequest, 40070, "missing comment id")
		return
	}
	uid, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40120, "unauthorized")
		return
	}
	switch _, err := p.repo.DeleteComment(uid, models.ID(cid)); {
	case errors.Is(err, errCommentNotFound):
		utils.Error(ctx, http.StatusNotFound, 40420, "comment not found")
		return
	case errors.Is(err, errForbidden):
		utils.Error(ctx, http.StatusForbidden, 40320, "you can only delete your own comment")
		return
	}
	utils.InvalidateByPrefix(listCachePrefix)
	utils.Success(ctx, gin.H{"message": "comment deleted"})
}

// parsePagination reads a zero-based page and a page size capped at 100.
func parsePagination(pageStr, sizeStr string) (int, int) {
	page := 0
	pageSize := 20
	if p, err := strconv.Atoi(pageStr); err == nil && p >= 0 {
		page = p
	}
	if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
		pageSize = s
	}
	return page, pageSize
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, bool) {
	if cursor == "" {
		return 0, true
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || !strings.HasPrefix(string(b), "o:") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(b), "o:"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func getUserID(ctx *gin.Context) (string, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return "", false
	}
	id, _ := value.(string)
	return id, id != ""
}

func currentAuthor(ctx *gin.Context) (Author, bool) {
	id, ok := getUserID(ctx)
	if !ok {
		return Author{}, false
	}
	return Author{ID: id, Username: ctx.GetString(middleware.ContextUsernameKey)}, true
}
