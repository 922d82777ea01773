package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/notify"
	"github.com/t77yq/taskdog/internal/store"
)

const defaultLogLimit = 100

func (a *API) listLogs(c *gin.Context) {
	filter := store.LogFilter{Limit: defaultLogLimit}

	if raw := c.Query("task_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid task_id")
			return
		}
		filter.TaskID = &id
	}
	if raw := c.Query("script_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid script_id")
			return
		}
		filter.ScriptID = &id
	}
	filter.Type = model.LogType(c.Query("type"))
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			respondError(c, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	entries, err := a.store.Logs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*model.LogEntry{}
	}
	respond(c, http.StatusOK, entries)
}

// cleanupLogs deletes entries older than the requested number of days.
func (a *API) cleanupLogs(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(c, http.StatusBadRequest, "invalid days")
			return
		}
		days = parsed
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := a.store.Logs.DeleteBefore(c.Request.Context(), cutoff)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"deleted": deleted})
}

func (a *API) getGlobals(c *gin.Context) {
	globals, err := a.store.Globals.All(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if globals == nil {
		globals = []model.GlobalVariable{}
	}
	respond(c, http.StatusOK, globals)
}

func (a *API) replaceGlobals(c *gin.Context) {
	var globals []model.GlobalVariable
	if err := c.ShouldBindJSON(&globals); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Globals.Replace(c.Request.Context(), globals); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondMessage(c, http.StatusOK, "globals replaced")
}

type setGlobalRequest struct {
	Key    string      `json:"key" binding:"required"`
	Value  interface{} `json:"value"`
	Secret bool        `json:"secret"`
}

// setGlobal upserts one variable. Running scripts call this through the
// shim to persist state for later runs.
func (a *API) setGlobal(c *gin.Context) {
	var req setGlobalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.Globals.Upsert(c.Request.Context(), req.Key, req.Value, req.Secret); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respondMessage(c, http.StatusOK, "global saved")
}

type notifyRequest struct {
	Message interface{} `json:"message" binding:"required"`
	Title   string      `json:"title"`
	URL     string      `json:"url"`
	Raw     bool        `json:"raw"`

	// Options is the nested form posted by the in-script shim clients.
	Options *notify.Options `json:"options"`
}

func (a *API) sendNotification(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	opts := notify.Options{
		Raw:   req.Raw,
		URL:   req.URL,
		Title: req.Title,
	}
	if req.Options != nil {
		opts = *req.Options
	}
	result := a.notifier.Notify(c.Request.Context(), req.Message, opts)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"success": result.Success, "data": result})
}

func (a *API) status(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{
		"stats":           a.monitor.Stats(),
		"scheduled_tasks": a.scheduler.TriggerCount(),
		"time":            time.Now().UTC(),
	})
}
