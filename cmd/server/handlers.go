package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crashdock/crashdock/internal/auth"
	"github.com/crashdock/crashdock/internal/crashes"
	"github.com/crashdock/crashdock/internal/files"
	"github.com/crashdock/crashdock/internal/logs"
	"github.com/crashdock/crashdock/internal/upload"
	"github.com/crashdock/crashdock/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const contextUserKey = "user"

// authMiddleware validates the Bearer token and stores the authenticated
// user in the request context.
func authMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "authorization header required",
			})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid authorization header format",
			})
			c.Abort()
			return
		}

		user, err := authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

// adminMiddleware gates a route group to admin accounts. Must run after
// authMiddleware.
func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		if user == nil || !user.IsAdmin {
			c.JSON(http.StatusForbidden, types.APIResponse{
				Success: false,
				Error:   "admin privileges required",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *types.User {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*types.User)
	return user
}

func handleRegister(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		user, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusConflict, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "user registered successfully",
			Data:    user,
		})
	}
}

func handleLogin(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		token, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    token,
		})
	}
}

type startUploadRequest struct {
	Filename  string `json:"filename" binding:"required"`
	Category  string `json:"category"`
	TotalSize int64  `json:"total_size" binding:"required,gt=0"`
}

func handleStartUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		resp, err := uploadService.StartUpload(req.Filename, req.Category, req.TotalSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		log.Info().
			Str("session_id", resp.SessionID).
			Str("filename", req.Filename).
			Int64("total_size", req.TotalSize).
			Msg("upload session started")

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    resp,
		})
	}
}

func handleUploadChunk(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")

		chunkIndex, err := strconv.Atoi(c.PostForm("chunkIndex"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "chunkIndex must be an integer",
			})
			return
		}
		totalChunks, err := strconv.Atoi(c.PostForm("totalChunks"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "totalChunks must be an integer",
			})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "chunk payload required in 'file' field",
			})
			return
		}

		payload, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "failed to read chunk payload",
			})
			return
		}
		defer payload.Close()

		var uploadedBy uuid.UUID
		if user := currentUser(c); user != nil {
			uploadedBy = user.ID
		}

		resp, err := uploadService.UploadChunk(c.Request.Context(), sessionID, chunkIndex, totalChunks, payload, uploadedBy)
		if err != nil {
			c.JSON(uploadErrorStatus(err), types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    resp,
		})
	}
}

func handleUploadProgress(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		progress, err := uploadService.GetProgress(c.Param("sessionId"))
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   "upload session not found",
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    progress,
		})
	}
}

func handleCancelUpload(uploadService *upload.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		uploadService.CancelUpload(c.Param("sessionId"))
		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "upload session cancelled",
		})
	}
}

// uploadErrorStatus maps the upload pipeline's sentinel errors to HTTP codes
func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrInvalidSession):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrInvalidChunkIndex),
		errors.Is(err, upload.ErrChunkCountMismatch),
		errors.Is(err, upload.ErrIncompleteSet):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func handleListFiles(fileService *files.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := fileService.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    list,
		})
	}
}

func handleDownloadFile(fileService *files.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid file ID",
			})
			return
		}

		file, content, err := fileService.Download(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}
		defer content.Close()

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.OriginalFilename))
		c.Header("Content-Type", "application/octet-stream")
		c.Header("Content-Length", strconv.FormatInt(file.Size, 10))

		if _, err := io.Copy(c.Writer, content); err != nil {
			log.Error().Err(err).Str("file_id", id.String()).Msg("failed to stream file")
		}
	}
}

func handleDeleteFile(fileService *files.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid file ID",
			})
			return
		}

		if err := fileService.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "file deleted",
		})
	}
}

func handleFileStats(fileService *files.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := fileService.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    stats,
		})
	}
}

func handleSubmitCrash(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var report types.CrashReport
		if err := c.ShouldBindJSON(&report); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		saved, err := crashService.Submit(c.Request.Context(), &report)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    saved,
		})
	}
}

func handleListCrashes(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		filter := &types.CrashFilter{
			PlayerName: c.Query("player"),
			Category:   c.Query("category"),
			MinVersion: c.Query("min_version"),
			Limit:      perPage,
			Offset:     (page - 1) * perPage,
		}
		if fixed := c.Query("fixed"); fixed != "" {
			v, err := strconv.ParseBool(fixed)
			if err != nil {
				c.JSON(http.StatusBadRequest, types.APIResponse{
					Success: false,
					Error:   "fixed must be a boolean",
				})
				return
			}
			filter.Fixed = &v
		}

		reports, total, err := crashService.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		totalPages := int((total + int64(perPage) - 1) / int64(perPage))
		c.JSON(http.StatusOK, types.PaginatedResponse{
			APIResponse: types.APIResponse{
				Success: true,
				Data:    reports,
			},
			Pagination: &types.PaginationInfo{
				Page:       page,
				PerPage:    perPage,
				Total:      total,
				TotalPages: totalPages,
			},
		})
	}
}

func handleGetCrash(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid crash report ID",
			})
			return
		}

		report, err := crashService.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    report,
		})
	}
}

type setFixedRequest struct {
	Fixed *bool `json:"fixed" binding:"required"`
}

func handleSetCrashFixed(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid crash report ID",
			})
			return
		}

		var req setFixedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		if err := crashService.SetFixed(c.Request.Context(), id, *req.Fixed); err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "crash report updated",
		})
	}
}

func handleDeleteCrash(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid crash report ID",
			})
			return
		}

		if err := crashService.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "crash report deleted",
		})
	}
}

func parseLogFilter(c *gin.Context) (*types.LogFilter, int, int, error) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 1000 {
		perPage = 50
	}

	filter := &types.LogFilter{
		PlayerName: c.Query("player"),
		Type:       c.Query("type"),
		Limit:      perPage,
		Offset:     (page - 1) * perPage,
	}

	if from := c.Query("from"); from != "" {
		ts, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("from must be an RFC 3339 timestamp")
		}
		filter.From = &ts
	}
	if to := c.Query("to"); to != "" {
		ts, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("to must be an RFC 3339 timestamp")
		}
		filter.To = &ts
	}

	return filter, page, perPage, nil
}

func handleSubmitLog(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var entry types.GameLog
		if err := c.ShouldBindJSON(&entry); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		saved, err := logService.Submit(c.Request.Context(), &entry)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    saved,
		})
	}
}

func handleListLogs(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, page, perPage, err := parseLogFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		entries, total, err := logService.List(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		totalPages := int((total + int64(perPage) - 1) / int64(perPage))
		c.JSON(http.StatusOK, types.PaginatedResponse{
			APIResponse: types.APIResponse{
				Success: true,
				Data:    entries,
			},
			Pagination: &types.PaginationInfo{
				Page:       page,
				PerPage:    perPage,
				Total:      total,
				TotalPages: totalPages,
			},
		})
	}
}

func handleLogStats(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, _, _, err := parseLogFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		stats, err := logService.Stats(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    stats,
		})
	}
}

func handleLogTypes(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		logTypes, err := logService.Types(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    logTypes,
		})
	}
}

func handleLogPlayers(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		players, err := logService.Players(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    players,
		})
	}
}

func handleGetLog(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid log ID",
			})
			return
		}

		entry, err := logService.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    entry,
		})
	}
}

func handleDeleteLog(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid log ID",
			})
			return
		}

		if err := logService.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "log deleted",
		})
	}
}

type deleteLogBatchRequest struct {
	LogIDs []uuid.UUID `json:"log_ids" binding:"required,min=1"`
}

func handleDeleteLogBatch(logService *logs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req deleteLogBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		deleted, err := logService.DeleteBatch(c.Request.Context(), req.LogIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    gin.H{"deleted": deleted},
		})
	}
}

func handleListUsers(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := authService.ListUsers(c.Request.Context(), c.Query("q"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    users,
		})
	}
}

func handleCreateUser(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		user, err := authService.CreateUser(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusConflict, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Data:    user,
		})
	}
}

func handleUpdateUser(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid user ID",
			})
			return
		}

		var req types.UpdateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		user, err := authService.UpdateUser(c.Request.Context(), id, &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    user,
		})
	}
}

func handleDeleteUser(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid user ID",
			})
			return
		}

		// An admin removing their own account would lock the door behind them
		if user := currentUser(c); user != nil && user.ID == id {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "cannot delete your own account",
			})
			return
		}

		if err := authService.DeleteUser(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "user deleted",
		})
	}
}

func handleCrashStats(crashService *crashes.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := crashService.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Data:    stats,
		})
	}
}
