package controllers

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/feedsync/utils"
)

const devTokenTTL = 24 * time.Hour

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// AuthController issues development bearer tokens. There are no passwords: the
// backend exists to exercise the feed client, and a username is enough to tell
// users apart for per-user votes and bookmarks.
type AuthController struct{}

// NewAuthController creates a new AuthController instance.
func NewAuthController() *AuthController {
	return &AuthController{}
}

// UserIDFor derives the stable user id of a username.
func UserIDFor(username string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.ToLower(username))).String()
}

// IssueToken returns a signed token for the requested username.
func (a *AuthController) IssueToken(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	if !usernamePattern.MatchString(username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 3-32 letters, digits or underscores")
		return
	}

	userID := UserIDFor(username)
	token, err := utils.GenerateToken(userID, username, devTokenTTL)
	if err != nil {
		utils.Sugar.Errorf("issue token for %s: %v", username, err)
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{
		"token":      token,
		"user_id":    userID,
		"username":   username,
		"expires_in": int(devTokenTTL.Seconds()),
	})
}

// Me echoes the identity of the bearer token.
func (a *AuthController) Me(ctx *gin.Context) {
	author, ok := currentAuthor(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	utils.Success(ctx, gin.H{"user_id": author.ID, "username": author.Username})
}
