package auth

import (
	"net/http"

	"github.com/abduss/imgstore/internal/apperr"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts authentication endpoints under /auth. Extra handlers,
// such as a rate limiter, run before each endpoint.
func RegisterRoutes(router *gin.RouterGroup, service *Service, middleware ...gin.HandlerFunc) {
	handler := &httpHandler{service: service}
	authGroup := router.Group("/auth", middleware...)
	{
		authGroup.POST("/register", handler.register)
		authGroup.POST("/login", handler.login)
	}
}

type httpHandler struct {
	service *Service
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, ErrCredentialsRequired, "")
		return
	}

	user, err := h.service.Register(c.Request.Context(), Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		apperr.Respond(c, err, "failed to register user")
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, ErrCredentialsRequired, "")
		return
	}

	result, err := h.service.Login(c.Request.Context(), Credentials{Email: req.Email, Password: req.Password})
	if err != nil {
		apperr.Respond(c, err, "failed to authenticate")
		return
	}

	c.JSON(http.StatusOK, result)
}
