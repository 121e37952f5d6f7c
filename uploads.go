package main

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/assets_backend/workflow"
	"github.com/gin-gonic/gin"
)

// Evidence photos arrive as multipart form uploads. 10 MB per file is
// plenty for phone camera JPEGs after client-side compression.
const maxUploadBytes = 10 << 20

func uploadAuditImageHandler(guard *workflow.ImageGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		sessionId, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "UploadAuditImage")
		defer span.End()

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no image file found in the request"})
			return
		}
		if fileHeader.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file exceeds the 10 MB limit"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image file"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read image file"})
			return
		}

		input := workflow.NewAuditImage{
			AuditSessionId: sessionId,
			Description:    strings.TrimSpace(c.PostForm("description")),
			FileName:       fileHeader.Filename,
			Data:           data,
		}
		if raw := strings.TrimSpace(c.PostForm("audit_asset_id")); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "audit_asset_id must be a positive integer"})
				return
			}
			input.AuditAssetId = &n
		}

		image, err := guard.UploadAuditImage(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, image)
	}
}

func deleteAuditImageHandler(guard *workflow.ImageGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		imageId, ok := pathID(c, "imageId")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "DeleteAuditImage")
		defer span.End()

		deleted, err := guard.DeleteAuditImage(ctx, imageId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted, "image_id": imageId})
	}
}
