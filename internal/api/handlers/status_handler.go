// internal/api/handlers/status_handler.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/fawad-mazhar/genoflow/internal/models"
)

// SystemStatus summarises the running workflow without listing its tasks
type SystemStatus struct {
	WorkflowID string                   `json:"workflowId"`
	Name       string                   `json:"name"`
	Status     models.WorkflowStatus    `json:"status"`
	Aborting   bool                     `json:"aborting"`
	Tasks      int                      `json:"tasks"`
	Counts     map[models.TaskState]int `json:"counts"`
}

type StatusHandler struct {
	controller WorkflowController
}

func NewStatusHandler(controller WorkflowController) *StatusHandler {
	return &StatusHandler{
		controller: controller,
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.controller.Snapshot()
	json.NewEncoder(w).Encode(SystemStatus{
		WorkflowID: snap.ID,
		Name:       snap.Name,
		Status:     snap.Status,
		Aborting:   snap.Aborting,
		Tasks:      len(snap.Tasks),
		Counts:     snap.Counts,
	})
}
