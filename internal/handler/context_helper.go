package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prodforms/formcap-api/internal/middleware"
	"github.com/prodforms/formcap-api/internal/models"
	appErrors "github.com/prodforms/formcap-api/pkg/errors"
	"github.com/prodforms/formcap-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// mustClaims returns the authenticated claims or writes a 401 and reports
// false.
func mustClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

// bindJSON decodes the request body into v or writes a 400 with msg and
// reports false.
func bindJSON(c *gin.Context, v interface{}, msg string) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, msg))
		return false
	}
	return true
}

func requestMeta(c *gin.Context) models.LoginRequest {
	return models.LoginRequest{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

// pageParams reads the shared pagination query parameters. Repositories
// clamp the values, so malformed input just falls through as zero.
func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, size
}
