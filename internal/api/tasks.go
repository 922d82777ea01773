package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/scheduler"
	"github.com/t77yq/taskdog/internal/store"
)

type createTaskRequest struct {
	Name           string                 `json:"name" binding:"required"`
	ScriptIDs      []int64                `json:"script_ids"`
	ScriptID       int64                  `json:"script_id"`
	CronExpression string                 `json:"cron_expression" binding:"required"`
	Status         model.TaskStatus       `json:"status"`
	ScriptParams   map[int64]model.Params `json:"script_params"`
	Group          string                 `json:"group"`
}

type updateTaskRequest struct {
	Name           *string                 `json:"name"`
	ScriptIDs      *[]int64                `json:"script_ids"`
	CronExpression *string                 `json:"cron_expression"`
	Status         *model.TaskStatus       `json:"status"`
	ScriptParams   *map[int64]model.Params `json:"script_params"`
	Group          *string                 `json:"group"`
}

func (a *API) listTasks(c *gin.Context) {
	status := model.TaskStatus(c.Query("status"))
	tasks, err := a.store.Tasks.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	respond(c, http.StatusOK, tasks)
}

func (a *API) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != "" && req.Status != model.TaskStatusActive && req.Status != model.TaskStatusInactive {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}

	task := &model.Task{
		Name:           req.Name,
		ScriptIDs:      req.ScriptIDs,
		ScriptID:       req.ScriptID,
		CronExpression: req.CronExpression,
		Status:         req.Status,
		ScriptParams:   req.ScriptParams,
		Group:          req.Group,
	}
	for _, scriptID := range task.ResolvedScriptIDs() {
		script, err := a.store.Scripts.Get(c.Request.Context(), scriptID)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
		if script == nil {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("script %d does not exist", scriptID))
			return
		}
	}

	task, err := a.store.Tasks.Create(c.Request.Context(), task)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if task.Status == model.TaskStatusActive {
		if err := a.scheduler.Schedule(c.Request.Context(), task); err != nil {
			a.logger.Error("Failed to schedule new task",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
		}
	}
	respond(c, http.StatusCreated, task)
}

func (a *API) getTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	respond(c, http.StatusOK, task)
}

func (a *API) updateTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil && *req.Status != model.TaskStatusActive && *req.Status != model.TaskStatusInactive {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unknown status %q", *req.Status))
		return
	}

	patch := store.TaskPatch{
		Name:           req.Name,
		ScriptIDs:      req.ScriptIDs,
		CronExpression: req.CronExpression,
		Status:         req.Status,
		ScriptParams:   req.ScriptParams,
		Group:          req.Group,
	}
	if err := a.store.Tasks.Patch(c.Request.Context(), task.ID, patch); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	updated, err := a.store.Tasks.Get(c.Request.Context(), task.ID)
	if err != nil || updated == nil {
		respondError(c, http.StatusInternalServerError, "failed to reload task after update")
		return
	}
	a.syncSchedule(c, updated)
	respond(c, http.StatusOK, updated)
}

func (a *API) deleteTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	a.scheduler.Unschedule(task.ID)
	if err := a.store.Tasks.Delete(c.Request.Context(), task.ID); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondMessage(c, http.StatusOK, "task deleted")
}

func (a *API) toggleTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	next := model.TaskStatusActive
	if task.Status == model.TaskStatusActive {
		next = model.TaskStatusInactive
	}
	a.setTaskStatus(c, task, next)
}

func (a *API) startTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	a.setTaskStatus(c, task, model.TaskStatusActive)
}

func (a *API) stopTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	a.setTaskStatus(c, task, model.TaskStatusInactive)
}

func (a *API) runTask(c *gin.Context) {
	task, ok := a.taskByParam(c)
	if !ok {
		return
	}
	a.scheduler.RunNow(task)
	respondMessage(c, http.StatusAccepted, fmt.Sprintf("task %q triggered", task.Name))
}

// setTaskStatus persists the status change and keeps the trigger registry
// in sync with it. The cron expression is checked here rather than at
// creation or update time: a task may sit inactive with a bad expression,
// but activating it is refused.
func (a *API) setTaskStatus(c *gin.Context, task *model.Task, status model.TaskStatus) {
	if status == model.TaskStatusActive {
		if err := scheduler.Validate(task.CronExpression); err != nil {
			respondError(c, http.StatusBadRequest, fmt.Sprintf("invalid cron expression %q: %v", task.CronExpression, err))
			return
		}
	}
	if err := a.store.Tasks.Patch(c.Request.Context(), task.ID, store.TaskPatch{Status: &status}); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	task.Status = status
	a.syncSchedule(c, task)
	respond(c, http.StatusOK, task)
}

// syncSchedule registers or removes the trigger to match the task's stored
// status. A scheduling failure is logged, not surfaced: the store write
// already succeeded and the task log carries the details.
func (a *API) syncSchedule(c *gin.Context, task *model.Task) {
	if task.Status == model.TaskStatusActive {
		if err := a.scheduler.Schedule(c.Request.Context(), task); err != nil {
			a.logger.Error("Failed to schedule task",
				zap.Int64("task_id", task.ID),
				zap.Error(err))
		}
		return
	}
	a.scheduler.Unschedule(task.ID)
}

func (a *API) taskByParam(c *gin.Context) (*model.Task, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid task id")
		return nil, false
	}
	task, err := a.store.Tasks.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if task == nil {
		respondError(c, http.StatusNotFound, fmt.Sprintf("task %d not found", id))
		return nil, false
	}
	return task, true
}
