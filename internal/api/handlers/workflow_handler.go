// internal/api/handlers/workflow_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fawad-mazhar/genoflow/internal/graph"
	"github.com/fawad-mazhar/genoflow/internal/models"
)

// WorkflowController is the part of the execution controller the API exposes
type WorkflowController interface {
	Snapshot() models.WorkflowSnapshot
	Task(id int64) (models.TaskSummary, error)
	Abort()
	Aborting() bool
}

type WorkflowHandler struct {
	controller WorkflowController
}

func NewWorkflowHandler(controller WorkflowController) *WorkflowHandler {
	return &WorkflowHandler{
		controller: controller,
	}
}

func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.controller.Snapshot())
}

func (h *WorkflowHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid task id", http.StatusBadRequest)
		return
	}

	task, err := h.controller.Task(id)
	if errors.Is(err, graph.ErrUnknownTask) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get task", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(task)
}

func (h *WorkflowHandler) AbortWorkflow(w http.ResponseWriter, r *http.Request) {
	if h.controller.Aborting() {
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Abort already requested",
		})
		return
	}

	h.controller.Abort()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Abort requested, in-flight attempts are being cancelled",
	})
}
