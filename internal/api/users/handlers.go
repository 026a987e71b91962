// Package users implements the HTTP handlers for participant lifecycle and
// query operations. Handlers translate between JSON request/response shapes
// and the service layer; all state-machine and audit semantics live in
// internal/services.
package users

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bloodlink/bloodlink/internal/db/models"
	"github.com/bloodlink/bloodlink/internal/db/repositories"
	"github.com/bloodlink/bloodlink/internal/middleware"
	"github.com/bloodlink/bloodlink/internal/services"
	"github.com/bloodlink/bloodlink/internal/telemetry"
)

// Handlers bundles the HTTP handlers for the /users and /audit-logs surfaces.
type Handlers struct {
	lifecycle *services.LifecycleService
	query     *services.QueryService
	auditRepo *repositories.AuditRepository
}

// NewHandlers creates a Handlers instance over the injected services.
func NewHandlers(lifecycle *services.LifecycleService, query *services.QueryService, auditRepo *repositories.AuditRepository) *Handlers {
	return &Handlers{lifecycle: lifecycle, query: query, auditRepo: auditRepo}
}

// CreateUserRequest is the creation payload. Additional profile fields sent
// by the frontend are accepted and ignored; only the fields below are stored.
type CreateUserRequest struct {
	Email       string `json:"email" binding:"required"`
	DisplayName string `json:"displayName"`
}

// CreateUserHandler registers a new participant.
// POST /api/v1/users
func (h *Handlers) CreateUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.lifecycle.CreateUser(c.Request.Context(), services.NewUser{
			Email:       req.Email,
			DisplayName: req.DisplayName,
		}, middleware.Actor(c))
		if err != nil {
			switch outcome := classify(err); outcome {
			case outcomeConflict:
				telemetry.UserCreationsTotal.WithLabelValues("conflict").Inc()
				c.JSON(http.StatusConflict, gin.H{
					"message": "user already exists",
				})
			case outcomeValidation:
				c.JSON(http.StatusBadRequest, gin.H{
					"error": err.Error(),
				})
			default:
				telemetry.UserCreationsTotal.WithLabelValues("error").Inc()
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to create user",
				})
			}
			return
		}

		telemetry.UserCreationsTotal.WithLabelValues("created").Inc()
		c.JSON(http.StatusCreated, gin.H{
			"user": user,
		})
	}
}

// ListUsersHandler lists users filtered by exact email and/or substring search.
// GET /api/v1/users?email=...&search=...
func (h *Handlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := services.ListFilter{
			Email:  c.Query("email"),
			Search: c.Query("search"),
		}

		users, err := h.query.ListUsers(c.Request.Context(), filter, middleware.Actor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list users",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"users": users,
		})
	}
}

// UpdateStatusRequest is the status transition payload.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatusHandler transitions a participant's activation state.
// PATCH /api/v1/users/:id/status
func (h *Handlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		var req UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.lifecycle.UpdateStatus(c.Request.Context(), userID, models.Status(req.Status), middleware.Actor(c))
		if err != nil {
			h.renderMutationError(c, err, "Failed to update status")
			return
		}

		telemetry.StatusChangesTotal.WithLabelValues(string(user.Status)).Inc()
		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// UpdateRoleRequest is the role transition payload.
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateRoleHandler transitions a participant's access classification.
// PATCH /api/v1/users/:id/role
func (h *Handlers) UpdateRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("id")

		var req UpdateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		user, err := h.lifecycle.UpdateRole(c.Request.Context(), userID, models.Role(req.Role), middleware.Actor(c))
		if err != nil {
			h.renderMutationError(c, err, "Failed to update role")
			return
		}

		telemetry.RoleChangesTotal.WithLabelValues(string(user.Role)).Inc()
		c.JSON(http.StatusOK, gin.H{
			"user": user,
		})
	}
}

// GetRoleHandler returns a participant's role, defaulting to donor for
// unknown emails.
// GET /api/v1/users/:email/role
func (h *Handlers) GetRoleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		email := c.Param("email")

		role, err := h.query.GetRole(c.Request.Context(), email, middleware.Actor(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to look up role",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"role": role,
		})
	}
}

// ListAuditLogsHandler retrieves audit trail entries with optional filters.
// This is the operational read surface; nothing in the core depends on it.
// GET /api/v1/audit-logs?action=...&subject=...&actor=...&start=...&end=...&page=1&per_page=20
func (h *Handlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}

		var filters repositories.AuditFilters
		if v := c.Query("action"); v != "" {
			action := models.ActionType(v)
			filters.ActionType = &action
		}
		if v := c.Query("subject"); v != "" {
			filters.SubjectEmail = &v
		}
		if v := c.Query("actor"); v != "" {
			filters.PerformedBy = &v
		}
		if v := c.Query("start"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start date, expected RFC 3339"})
				return
			}
			filters.StartDate = &t
		}
		if v := c.Query("end"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end date, expected RFC 3339"})
				return
			}
			filters.EndDate = &t
		}

		logs, total, err := h.auditRepo.List(c.Request.Context(), filters, perPage, (page-1)*perPage)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list audit logs",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"logs": logs,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

type outcome int

const (
	outcomeInternal outcome = iota
	outcomeValidation
	outcomeConflict
	outcomeNotFound
)

// classify maps a service error onto its HTTP outcome family.
func classify(err error) outcome {
	var validationErr *services.ValidationError
	var conflictErr *services.ConflictError
	var notFoundErr *services.NotFoundError

	switch {
	case errors.As(err, &validationErr):
		return outcomeValidation
	case errors.As(err, &conflictErr):
		return outcomeConflict
	case errors.As(err, &notFoundErr):
		return outcomeNotFound
	default:
		return outcomeInternal
	}
}

func (h *Handlers) renderMutationError(c *gin.Context, err error, internalMsg string) {
	switch classify(err) {
	case outcomeValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case outcomeNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}
