package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"traktbridge/config"
	"traktbridge/services/scheduler"
)

// TasksHandler exposes the scheduled-task surface.
type TasksHandler struct {
	configManager    *config.Manager
	schedulerService *scheduler.Service
}

// NewTasksHandler creates a new scheduled tasks handler.
func NewTasksHandler(configManager *config.Manager, schedulerService *scheduler.Service) *TasksHandler {
	return &TasksHandler{configManager: configManager, schedulerService: schedulerService}
}

// ListTasks returns all scheduled tasks with current status.
// GET /api/sync/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"tasks": h.schedulerService.GetTaskStatus()})
}

// CreateTask adds a new scheduled task.
// POST /api/sync/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string                        `json:"name"`
		Frequency config.ScheduledTaskFrequency `json:"frequency"`
		Enabled   bool                          `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = string(config.ScheduledTaskTypeFullSync)
	}
	if req.Frequency == "" {
		req.Frequency = config.ScheduledTaskFrequencyDaily
	}

	task := config.ScheduledTask{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Type:      config.ScheduledTaskTypeFullSync,
		Frequency: req.Frequency,
		Enabled:   req.Enabled,
	}

	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings: "+err.Error())
		return
	}
	settings.Sync.Tasks = append(settings.Sync.Tasks, task)
	if err := h.configManager.Save(settings); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings: "+err.Error())
		return
	}

	writeJSON(w, map[string]any{"success": true, "task": task})
}

// RunTask triggers immediate execution of a task.
// POST /api/sync/tasks/{taskID}/run
func (h *TasksHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskID"]
	if err := h.schedulerService.RunTaskNow(taskID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"success": true})
}
