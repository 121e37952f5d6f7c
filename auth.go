package main

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func sessionTokenLifespan() time.Duration {
	if v, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN")); err == nil && v > 0 {
		return time.Duration(v) * time.Hour
	}
	return 24 * time.Hour
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		user, err := models.GetUserByUsername(c.Request.Context(), req.Username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if user.IsActive != nil && !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
			return
		}

		token := uuid.NewString()
		if err := config.SetRedisValue("Token:"+token, user.Username, sessionTokenLifespan()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to create session"})
			return
		}
		jwtToken, err := utils.JwtGenerate(user.ID, user.OrganizationId, user.Role)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create session"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"jwt":       jwtToken,
			"user_id":   user.ID,
			"name":      user.Name,
			"role":      user.Role,
			"username":  user.Username,
			"expire_at": time.Now().Add(sessionTokenLifespan()).UTC(),
		})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok || token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "unable to end session"})
			return
		}
		if username, ok := utils.GetUsernameFromContext(c.Request.Context()); ok {
			_ = config.RemoveRedisKey("User:" + username)
		}
		c.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}
