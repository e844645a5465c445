package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"qbanksync/services"

	"github.com/gin-gonic/gin"
)

// SyncWarningHeader carries observer failures on requests whose change was
// saved anyway.
const SyncWarningHeader = "X-Sync-Warning"

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, services.ErrSeedNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidDocument),
		errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSeedClaimed):
		return http.StatusConflict
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrCloneFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// splitObserverError reports whether err only says that observers failed
// after a commit, setting the warning header in that case.
func splitObserverError(c *gin.Context, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, services.ErrObserverFailed) {
		c.Header(SyncWarningHeader, err.Error())
		return true
	}
	return false
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param})
		return 0, false
	}
	return uint(id), true
}

func actorID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return 0, false
	}
	id, ok := userID.(uint)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return 0, false
	}
	return id, true
}
