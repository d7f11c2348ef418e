package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/feedsync/models"
	"github.com/cppla/feedsync/utils"
)

// StatsController provides feed statistics.
type StatsController struct {
	repo *Repository
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(repo *Repository) *StatsController {
	return &StatsController{repo: repo}
}

// GetStats returns aggregate counts and the categories in use.
func (s *StatsController) GetStats(ctx *gin.Context) {
	posts, comments := s.repo.Stats()
	utils.Success(ctx, gin.H{
		"post_count":    posts,
		"comment_count": comments,
		"categories":    s.repo.Categories(),
	})
}

// GetPostStats returns net votes and comment count of one post.
func (s *StatsController) GetPostStats(ctx *gin.Context) {
	post, err := s.repo.GetPost("", models.ID(ctx.Param("id")))
	if err != nil {
		utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
		return
	}
	utils.Success(ctx, gin.H{
		"votes":          post.Votes,
		"comments_count": post.CommentCount,
	})
}
