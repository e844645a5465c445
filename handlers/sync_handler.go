package handlers

import (
	"net/http"
	"strconv"

	"qbanksync/services"

	"github.com/gin-gonic/gin"
)

type SyncHandler struct {
	sync  *services.SyncService
	queue services.TaskQueue
}

func NewSyncHandler(sync *services.SyncService, queue services.TaskQueue) *SyncHandler {
	return &SyncHandler{sync: sync, queue: queue}
}

// Reconcile runs a missing-copy pass. Seeds that failed are listed in the
// result; the request only fails when the scan itself does.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}

	result, err := h.sync.ReconcileMissing(c.Request.Context(), userID)
	if err != nil && result == nil {
		respondError(c, err)
		return
	}
	if err != nil {
		c.Header(SyncWarningHeader, err.Error())
	}

	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) Materialize(c *gin.Context) {
	userID, ok := actorID(c)
	if !ok {
		return
	}
	seedID, ok := parseID(c, "id")
	if !ok {
		return
	}

	result, err := h.sync.Materialize(c.Request.Context(), seedID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (h *SyncHandler) Purge(c *gin.Context) {
	result, err := h.sync.PurgeDangling(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) Ledger(c *gin.Context) {
	var questionID uint
	if v := c.Query("question_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid question_id"})
			return
		}
		questionID = uint(id)
	}

	entries, err := h.sync.Ledger(c.Request.Context(), questionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (h *SyncHandler) FixTags(c *gin.Context) {
	result, err := h.sync.FixTags(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *SyncHandler) PendingTasks(c *gin.Context) {
	pending, err := h.queue.Pending(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
