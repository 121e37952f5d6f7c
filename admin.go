package main

import (
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/gin-gonic/gin"
)

// requireAdmin gates organization management. The admin flag is resolved by
// the session middleware from the cached user record.
func requireAdmin(c *gin.Context) bool {
	if !requireSessionUser(c) {
		return false
	}
	if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); !ok || !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return false
	}
	return true
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CreateUser")
		defer span.End()

		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		user, err := models.CreateUser(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func getUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetUser")
		defer span.End()

		user, err := models.GetUser(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func createOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdmin(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CreateOrganization")
		defer span.End()

		var input models.NewOrganization
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		organization, err := models.CreateOrganization(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, organization)
	}
}

func currentOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetOrganization")
		defer span.End()

		organizationId, _ := utils.GetOrganizationIdFromContext(ctx)
		organization, err := models.GetOrganization(ctx, organizationId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, organization)
	}
}

func createAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CreateAsset")
		defer span.End()

		var input models.NewAsset
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		asset, err := models.CreateAsset(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, asset)
	}
}

func getAssetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetAsset")
		defer span.End()

		asset, err := models.GetAsset(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, asset)
	}
}

// listAssetsHandler resolves a comma-separated id list, the bulk prefetch
// scan clients use before going offline.
func listAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetAssetsByIds")
		defer span.End()

		raw := strings.TrimSpace(c.Query("ids"))
		if raw == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids query parameter is required"})
			return
		}
		var ids []int
		for _, part := range strings.Split(raw, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "ids must be positive integers"})
				return
			}
			ids = append(ids, n)
		}

		organizationId, _ := utils.GetOrganizationIdFromContext(ctx)
		assets, err := models.GetAssetsByIds(ctx, organizationId, utils.Dedupe(ids))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"assets": assets})
	}
}
