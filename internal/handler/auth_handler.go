package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/response"
)

type authenticator interface {
	RegisterAdmin(ctx context.Context, req models.RegisterAdminRequest) (*models.UserInfo, error)
	RegisterStudent(ctx context.Context, req models.RegisterStudentRequest) (*models.UserInfo, error)
	Login(ctx context.Context, role models.UserRole, req models.LoginRequest) (*models.LoginResponse, error)
	Logout(ctx context.Context, identity models.Identity) error
}

// CookieOptions configures the session cookies written on login.
type CookieOptions struct {
	AdminName   string
	StudentName string
	Secure      bool
}

func (o CookieOptions) name(role models.UserRole) string {
	if role == models.RoleStudent {
		return o.StudentName
	}
	return o.AdminName
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service authenticator
	cookies CookieOptions
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc authenticator, cookies CookieOptions) *AuthHandler {
	if cookies.AdminName == "" {
		cookies.AdminName = "adminToken"
	}
	if cookies.StudentName == "" {
		cookies.StudentName = "studentToken"
	}
	return &AuthHandler{service: svc, cookies: cookies}
}

// RegisterAdmin godoc
// @Summary Register an admin
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterAdminRequest true "Admin"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/admin/register [post]
func (h *AuthHandler) RegisterAdmin(c *gin.Context) {
	var req models.RegisterAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid registration payload"))
		return
	}
	info, err := h.service.RegisterAdmin(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Admin registered successfully", info)
}

// RegisterStudent godoc
// @Summary Register a student
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.RegisterStudentRequest true "Student"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /auth/student/register [post]
func (h *AuthHandler) RegisterStudent(c *gin.Context) {
	var req models.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid registration payload"))
		return
	}
	info, err := h.service.RegisterStudent(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "Student registered successfully", info)
}

// LoginAdmin godoc
// @Summary Authenticate an admin
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body object true "email and password"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/admin/login [post]
func (h *AuthHandler) LoginAdmin(c *gin.Context) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid login payload"))
		return
	}
	h.login(c, models.RoleAdmin, models.LoginRequest{Identifier: payload.Email, Password: payload.Password})
}

// LoginStudent godoc
// @Summary Authenticate a student
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body object true "usn and password"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/student/login [post]
func (h *AuthHandler) LoginStudent(c *gin.Context) {
	var payload struct {
		USN      string `json:"usn"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Validation(err, "invalid login payload"))
		return
	}
	h.login(c, models.RoleStudent, models.LoginRequest{Identifier: payload.USN, Password: payload.Password})
}

func (h *AuthHandler) login(c *gin.Context, role models.UserRole, req models.LoginRequest) {
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	res, err := h.service.Login(c.Request.Context(), role, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookies.name(role), res.AccessToken, int(res.ExpiresIn), "/", "", h.cookies.Secure, true)
	response.OK(c, "Login successful", res)
}

// Logout godoc
// @Summary Logout current session
// @Description Revokes the access token and clears the session cookie
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	identity := identityFromContext(c)
	if identity == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Logout(c.Request.Context(), *identity); err != nil {
		response.Error(c, err)
		return
	}

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(h.cookies.name(identity.Role), "", -1, "/", "", h.cookies.Secure, true)
	response.OK(c, "Logout successful", nil)
}
