package users

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink/internal/db/repositories"
	"github.com/bloodlink/bloodlink/internal/services"
)

var userCols = []string{
	"id", "email", "display_name", "role", "status", "created_at", "updated_at",
}

var auditCols = []string{
	"id", "action_type", "subject_email", "description", "performed_by", "metadata", "created_at",
}

// newTestRouter wires the handlers over sqlmock-backed services, mirroring the
// production wiring in internal/api without the middleware chain.
func newTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userRepo := repositories.NewUserRepository(db)
	auditRepo := repositories.NewAuditRepository(sqlx.NewDb(db, "postgres"))
	lifecycle := services.NewLifecycleService(userRepo, auditRepo, nil)
	query := services.NewQueryService(userRepo, auditRepo, nil)
	h := NewHandlers(lifecycle, query, auditRepo)

	r := gin.New()
	r.POST("/api/v1/users", h.CreateUserHandler())
	r.GET("/api/v1/users", h.ListUsersHandler())
	r.PATCH("/api/v1/users/:id/status", h.UpdateStatusHandler())
	r.PATCH("/api/v1/users/:id/role", h.UpdateRoleHandler())
	r.GET("/api/v1/users/:email/role", h.GetRoleHandler())
	r.GET("/api/v1/audit-logs", h.ListAuditLogsHandler())
	return r, mock
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func userRow() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).
		AddRow("user-1", "alice@example.com", "Alice", "donor", "active", now, now)
}

// ---------------------------------------------------------------------------
// POST /api/v1/users
// ---------------------------------------------------------------------------

func TestCreateUserHandler_Created(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/users",
		`{"email":"alice@example.com","displayName":"Alice"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		User struct {
			ID     string `json:"id"`
			Email  string `json:"email"`
			Role   string `json:"role"`
			Status string `json:"status"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.User.ID)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.Equal(t, "donor", resp.User.Role)
	assert.Equal(t, "active", resp.User.Status)
}

func TestCreateUserHandler_Conflict(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPost, "/api/v1/users", `{"email":"alice@example.com"}`)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "user already exists")
}

func TestCreateUserHandler_MissingEmail(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/users", `{"displayName":"Nameless"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateUserHandler_MalformedJSON(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/users", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateUserHandler_StorageFailure(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectExec("INSERT INTO users").WillReturnError(sqlmock.ErrCancelled)

	w := doJSON(r, http.MethodPost, "/api/v1/users", `{"email":"alice@example.com"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// ---------------------------------------------------------------------------
// GET /api/v1/users
// ---------------------------------------------------------------------------

func TestListUsersHandler_OK(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT id, email.*FROM users").WillReturnRows(userRow())
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodGet, "/api/v1/users", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Users []json.RawMessage `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Users, 1)
}

func TestListUsersHandler_EmptyResultIsArray(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT id, email.*FROM users").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodGet, "/api/v1/users?email=nobody@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"users":[]`)
}

// ---------------------------------------------------------------------------
// PATCH /api/v1/users/:id/status
// ---------------------------------------------------------------------------

func TestUpdateStatusHandler_OK(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT id, email.*WHERE id").WillReturnRows(userRow())
	mock.ExpectExec("UPDATE users.*SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, email.*WHERE id").WillReturnRows(userRow())

	w := doJSON(r, http.MethodPatch, "/api/v1/users/user-1/status", `{"status":"inactive"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUpdateStatusHandler_InvalidStatus(t *testing.T) {
	r, mock := newTestRouter(t)
	// The rejected attempt is audited before the 400 goes out.
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPatch, "/api/v1/users/user-1/status", `{"status":"frozen"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestUpdateStatusHandler_NotFound(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT id, email.*WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols))

	w := doJSON(r, http.MethodPatch, "/api/v1/users/missing/status", `{"status":"inactive"}`)
	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
}

// ---------------------------------------------------------------------------
// PATCH /api/v1/users/:id/role
// ---------------------------------------------------------------------------

func TestUpdateRoleHandler_OK(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT id, email.*WHERE id").WillReturnRows(userRow())
	mock.ExpectExec("UPDATE users.*SET role").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, email.*WHERE id").WillReturnRows(userRow())

	w := doJSON(r, http.MethodPatch, "/api/v1/users/user-1/role", `{"role":"volunteer"}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUpdateRoleHandler_InvalidRole(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodPatch, "/api/v1/users/user-1/role", `{"role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

// ---------------------------------------------------------------------------
// GET /api/v1/users/:email/role
// ---------------------------------------------------------------------------

func TestGetRoleHandler_KnownUser(t *testing.T) {
	r, mock := newTestRouter(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, email.*WHERE lower\(email\)`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("user-1", "admin@example.com", "Admin", "admin", "active", now, now))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodGet, "/api/v1/users/admin@example.com/role", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Role string `json:"role"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "admin", resp.Role)
}

func TestGetRoleHandler_UnknownUserDefaultsToDonor(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery(`SELECT id, email.*WHERE lower\(email\)`).
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	w := doJSON(r, http.MethodGet, "/api/v1/users/stranger@example.com/role", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "donor")
}

// ---------------------------------------------------------------------------
// GET /api/v1/audit-logs
// ---------------------------------------------------------------------------

func TestListAuditLogsHandler_OK(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id, action_type.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows(auditCols).
			AddRow("log-1", "create", "alice@example.com", "New user created", "system", nil, time.Now()))

	w := doJSON(r, http.MethodGet, "/api/v1/audit-logs?page=1&per_page=20", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Logs       []json.RawMessage `json:"logs"`
		Pagination struct {
			Page    int `json:"page"`
			PerPage int `json:"per_page"`
			Total   int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Logs, 1)
	assert.Equal(t, 1, resp.Pagination.Total)
	assert.Equal(t, 20, resp.Pagination.PerPage)
}

func TestListAuditLogsHandler_FilterByAction(t *testing.T) {
	r, mock := newTestRouter(t)
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs.*action_type").
		WithArgs("role_update").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id, action_type.*FROM audit_logs.*action_type").
		WithArgs("role_update", 20, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	w := doJSON(r, http.MethodGet, "/api/v1/audit-logs?action=role_update", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestListAuditLogsHandler_BadStartDate(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/audit-logs?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListAuditLogsHandler_ClampsPagination(t *testing.T) {
	r, mock := newTestRouter(t)
	// page=0, per_page=9999 fall back to 1 and 20.
	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id, action_type.*FROM audit_logs").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	w := doJSON(r, http.MethodGet, "/api/v1/audit-logs?page=0&per_page=9999", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"per_page":20`)
}
