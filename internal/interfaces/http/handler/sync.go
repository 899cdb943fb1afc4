package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/payops/recon/internal/application/recon"
	"github.com/payops/recon/internal/infrastructure/scheduler"
	"github.com/payops/recon/internal/interfaces/http/dto"
)

// SyncHandler handles the sync status and trigger endpoints
type SyncHandler struct {
	BaseHandler
	scheduler       *scheduler.SyncScheduler
	overviewService *recon.OverviewService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(syncScheduler *scheduler.SyncScheduler, overviewService *recon.OverviewService) *SyncHandler {
	return &SyncHandler{
		scheduler:       syncScheduler,
		overviewService: overviewService,
	}
}

// SyncStatusData combines the per-source sync state with the scheduler view
type SyncStatusData struct {
	*recon.SyncStatusResponse
	Scheduler scheduler.SyncSchedulerStatus `json:"scheduler"`
}

// SyncTriggerData acknowledges a manually started sync cycle
type SyncTriggerData struct {
	Started bool `json:"started"`
}

// Status godoc
// @ID           getSyncStatus
// @Summary      Get sync state per source
// @Description  Returns every source's last sync outcome plus the scheduler state
// @Tags         sync
// @Produce      json
// @Success      200 {object} APIResponse[SyncStatusData]
// @Failure      500 {object} ErrorResponse
// @Router       /sync/status [get]
func (h *SyncHandler) Status(c *gin.Context) {
	status, err := h.overviewService.SyncStatus(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, SyncStatusData{
		SyncStatusResponse: status,
		Scheduler:          h.scheduler.Status(),
	})
}

// Trigger godoc
// @ID           triggerSync
// @Summary      Trigger a sync cycle
// @Description  Starts one cycle in the background; rejected when a cycle is already running
// @Tags         sync
// @Accept       json
// @Produce      json
// @Success      202 {object} APIResponse[SyncTriggerData]
// @Failure      409 {object} ErrorResponse
// @Router       /sync/trigger [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	if err := h.scheduler.TriggerManualRun(); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(SyncTriggerData{Started: true}))
}
