package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/middlewares"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/models/reports"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"bitbucket.org/mmdatafocus/assets_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps the error taxonomy onto HTTP statuses. Internal causes
// are logged server-side; the client only sees the user-safe message.
func respondError(c *gin.Context, err error) {
	kind := utils.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case utils.ErrorKindValidation:
		status = http.StatusBadRequest
	case utils.ErrorKindNotFound:
		status = http.StatusNotFound
	}
	if kind == utils.ErrorKindInternal {
		config.GetLogger().WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error(err.Error())
	}
	c.JSON(status, gin.H{"error": utils.UserMessage(err)})
}

func requireSessionUser(c *gin.Context) bool {
	if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func createAuditHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CreateAuditSession")
		defer span.End()

		var input models.NewAuditSession
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		session, err := engine.CreateAuditSession(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, session)
	}
}

func listAuditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "ListAuditSessions")
		defer span.End()

		var status *models.AuditSessionStatus
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			s := models.AuditSessionStatus(strings.ToUpper(raw))
			status = &s
		}
		limit := queryInt(c, "limit", config.SearchLimit)
		offset := queryInt(c, "offset", 0)

		sessions, err := models.GetAuditSessions(ctx, status, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"audits": sessions})
	}
}

func auditDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetAuditSession")
		defer span.End()

		session, err := models.GetAuditSession(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		assignments, err := models.GetAuditAssignments(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}

		type assignmentView struct {
			*models.AuditAssignment
			UserName string `json:"user_name"`
		}
		views := make([]assignmentView, 0, len(assignments))
		names := loadUserNames(ctx, func() []int {
			ids := make([]int, 0, len(assignments))
			for _, a := range assignments {
				ids = append(ids, a.UserId)
			}
			return ids
		}())
		for _, a := range assignments {
			views = append(views, assignmentView{AuditAssignment: a, UserName: names[a.UserId]})
		}

		c.JSON(http.StatusOK, gin.H{
			"audit":       session,
			"assignments": views,
			"is_overdue":  session.IsOverdue(time.Now().UTC()),
		})
	}
}

// loadUserNames resolves display names through the request dataloader so
// repeated ids across a response collapse into one query.
func loadUserNames(ctx context.Context, ids []int) map[int]string {
	names := make(map[int]string, len(ids))
	users, _ := middlewares.GetLoadedUsers(ctx, utils.Dedupe(ids))
	for _, u := range users {
		if u != nil {
			names[u.ID] = u.Name
		}
	}
	return names
}

func updateAuditHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "UpdateAuditSession")
		defer span.End()

		var input models.UpdateAuditSessionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		session, err := engine.UpdateAuditSession(ctx, id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type completeAuditRequest struct {
	CompletionNote string `json:"completion_note"`
}

func completeAuditHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CompleteAuditSession")
		defer span.End()

		var req completeAuditRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
				return
			}
		}
		session, err := engine.CompleteAuditSession(ctx, id, req.CompletionNote)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func cancelAuditHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "CancelAuditSession")
		defer span.End()

		session, err := engine.CancelAuditSession(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func recordScanHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "RecordAuditScan")
		defer span.End()

		var input workflow.NewAuditScan
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		input.AuditSessionId = id

		result, err := engine.RecordAuditScan(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}

		// Scanning clients show the resolved title as confirmation.
		assetTitle := ""
		if asset, loadErr := middlewares.GetLoadedAsset(ctx, input.AssetId); loadErr == nil && asset != nil {
			assetTitle = asset.Title
		}
		c.JSON(http.StatusOK, gin.H{
			"scan":        result,
			"asset_title": assetTitle,
		})
	}
}

type addAssigneeRequest struct {
	UserId int `json:"user_id" binding:"required"`
}

func addAssigneeHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "AddAuditAssignee")
		defer span.End()

		var req addAssigneeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		assignment, err := engine.AddAuditAssignee(ctx, id, req.UserId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, assignment)
	}
}

func removeAssigneeHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		assigneeId, ok := pathID(c, "userId")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "RemoveAuditAssignee")
		defer span.End()

		if err := engine.RemoveAuditAssignee(ctx, id, assigneeId); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": true})
	}
}

type addAuditAssetsRequest struct {
	AssetIds []int `json:"asset_ids" binding:"required"`
}

func addAuditAssetsHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "AddAuditAssets")
		defer span.End()

		var req addAuditAssetsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
			return
		}
		session, err := engine.AddAuditAssets(ctx, id, req.AssetIds)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func removeAuditAssetHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		assetId, ok := pathID(c, "assetId")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "RemoveAuditAsset")
		defer span.End()

		session, err := engine.RemoveAuditAsset(ctx, id, assetId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func removeScanHandler(engine *workflow.AuditEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		assetId, ok := pathID(c, "assetId")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "RemoveAuditScan")
		defer span.End()

		session, err := engine.RemoveAuditScan(ctx, id, assetId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

func expectedAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetExpectedAssets")
		defer span.End()

		var status *models.AuditAssetStatus
		if raw := strings.TrimSpace(c.Query("status")); raw != "" {
			s := models.AuditAssetStatus(strings.ToUpper(raw))
			status = &s
		}
		search := strings.TrimSpace(c.Query("search"))
		limit := queryInt(c, "limit", config.SearchLimit)
		offset := queryInt(c, "offset", 0)

		page, err := models.GetExpectedAssets(ctx, id, search, status, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func auditNotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetAuditNotes")
		defer span.End()

		notes, err := models.GetAuditNotes(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}

		type noteView struct {
			*models.AuditNote
			UserName string `json:"user_name"`
		}
		userIds := make([]int, 0, len(notes))
		for _, n := range notes {
			userIds = append(userIds, n.UserId)
		}
		names := loadUserNames(ctx, userIds)
		views := make([]noteView, 0, len(notes))
		for _, n := range notes {
			views = append(views, noteView{AuditNote: n, UserName: names[n.UserId]})
		}
		c.JSON(http.StatusOK, gin.H{"notes": views})
	}
}

func auditImagesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "GetAuditImages")
		defer span.End()

		var auditAssetId *int
		if raw := strings.TrimSpace(c.Query("audit_asset_id")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "audit_asset_id must be a positive integer"})
				return
			}
			auditAssetId = &n
		}

		images, err := models.GetAuditImages(ctx, id, auditAssetId)
		if err != nil {
			respondError(c, err)
			return
		}

		type imageView struct {
			*models.AuditImage
			UploadedByName string `json:"uploaded_by_name"`
		}
		userIds := make([]int, 0, len(images))
		for _, img := range images {
			userIds = append(userIds, img.UploadedById)
		}
		names := loadUserNames(ctx, userIds)
		views := make([]imageView, 0, len(images))
		for _, img := range images {
			views = append(views, imageView{AuditImage: img, UploadedByName: names[img.UploadedById]})
		}
		c.JSON(http.StatusOK, gin.H{"images": views})
	}
}

func auditReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireSessionUser(c) {
			return
		}
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "ExportAuditResults")
		defer span.End()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%d-results.xlsx"`, id))
		if err := reports.ExportAuditResults(ctx, c.Writer, id); err != nil {
			respondError(c, err)
			return
		}
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
