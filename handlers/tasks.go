package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/objectmatch/workers"
)

type TaskHandler struct {
	Tasks *workers.TaskManager
}

// GetTask handles GET /tasks/{task_id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.Tasks.Get(chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, "getting task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /tasks, newest first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.Tasks.List()
	if tasks == nil {
		tasks = []workers.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": len(tasks)})
}
