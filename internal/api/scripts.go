package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
)

type createScriptRequest struct {
	Name          string         `json:"name" binding:"required"`
	Description   string         `json:"description"`
	Language      model.Language `json:"language" binding:"required"`
	Content       string         `json:"content"`
	DefaultParams model.Params   `json:"default_params"`
	Group         string         `json:"group"`
}

type updateScriptRequest struct {
	Name          *string       `json:"name"`
	Description   *string       `json:"description"`
	Content       *string       `json:"content"`
	DefaultParams *model.Params `json:"default_params"`
	Group         *string       `json:"group"`
}

// scriptPayload is a script plus its on-disk body.
type scriptPayload struct {
	*model.Script
	Content string `json:"content"`
}

func (a *API) listScripts(c *gin.Context) {
	scripts, err := a.store.Scripts.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if scripts == nil {
		scripts = []*model.Script{}
	}
	respond(c, http.StatusOK, scripts)
}

func (a *API) createScript(c *gin.Context) {
	var req createScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !model.IsSupportedLanguage(req.Language) {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", req.Language))
		return
	}

	filePath, err := a.files.UniquePath(req.Name, req.Language)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.files.Write(filePath, req.Content); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	script := &model.Script{
		Name:          req.Name,
		Description:   req.Description,
		Language:      req.Language,
		FilePath:      filePath,
		DefaultParams: req.DefaultParams,
		Group:         req.Group,
	}
	script, err = a.store.Scripts.Create(c.Request.Context(), script)
	if err != nil {
		if removeErr := a.files.Remove(filePath); removeErr != nil {
			a.logger.Warn("Failed to remove orphaned script file",
				zap.String("file_path", filePath),
				zap.Error(removeErr))
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	respond(c, http.StatusCreated, scriptPayload{Script: script, Content: req.Content})
}

func (a *API) getScript(c *gin.Context) {
	script, ok := a.scriptByParam(c)
	if !ok {
		return
	}
	content, err := a.files.Read(script.FilePath)
	if err != nil {
		a.logger.Warn("Failed to read script body",
			zap.Int64("script_id", script.ID),
			zap.Error(err))
	}
	respond(c, http.StatusOK, scriptPayload{Script: script, Content: content})
}

func (a *API) updateScript(c *gin.Context) {
	script, ok := a.scriptByParam(c)
	if !ok {
		return
	}
	var req updateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.Name != nil {
		script.Name = *req.Name
	}
	if req.Description != nil {
		script.Description = *req.Description
	}
	if req.DefaultParams != nil {
		script.DefaultParams = *req.DefaultParams
	}
	if req.Group != nil {
		script.Group = *req.Group
	}
	if err := a.store.Scripts.Update(c.Request.Context(), script); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Content != nil {
		if err := a.files.Write(script.FilePath, *req.Content); err != nil {
			respondError(c, http.StatusInternalServerError, err.Error())
			return
		}
	}

	content, err := a.files.Read(script.FilePath)
	if err != nil {
		content = ""
	}
	respond(c, http.StatusOK, scriptPayload{Script: script, Content: content})
}

func (a *API) deleteScript(c *gin.Context) {
	script, ok := a.scriptByParam(c)
	if !ok {
		return
	}
	if err := a.store.Scripts.Delete(c.Request.Context(), script.ID); err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err := a.files.Remove(script.FilePath); err != nil {
		a.logger.Warn("Failed to remove script file",
			zap.String("file_path", script.FilePath),
			zap.Error(err))
	}
	respondMessage(c, http.StatusOK, "script deleted")
}

// testScript runs the script to completion with its default parameters and
// returns the full result in one response.
func (a *API) testScript(c *gin.Context) {
	script, ok := a.scriptByParam(c)
	if !ok {
		return
	}
	a.monitor.ExecutionStarted()
	result := a.runner.RunScript(c.Request.Context(), script, nil)
	a.monitor.ExecutionFinished()
	respond(c, http.StatusOK, result)
}

// sseEvent is one server-sent event emitted by a streaming test run.
type sseEvent struct {
	Name string
	Data interface{}
}

// sseStream bridges executor output callbacks onto an event channel. Exit
// closes the channel; nothing is sent afterwards. Log sends never block:
// when the client stops reading and the buffer fills, further lines are
// dropped so the executor's output readers cannot wedge on a dead
// connection. The terminal exit event is different: a connected client
// must always receive it, so Exit blocks until the event is taken or the
// client is gone.
type sseStream struct {
	events chan sseEvent
	// gone is the request context's done channel.
	gone <-chan struct{}
}

func (s *sseStream) send(event sseEvent) {
	select {
	case s.events <- event:
	default:
	}
}

func (s *sseStream) Stdout(line string) {
	s.send(sseEvent{Name: "log", Data: gin.H{"stream": "stdout", "line": line}})
}

func (s *sseStream) Stderr(line string) {
	s.send(sseEvent{Name: "log", Data: gin.H{"stream": "stderr", "line": line}})
}

func (s *sseStream) Exit(code int) {
	select {
	case s.events <- sseEvent{Name: "exit", Data: gin.H{"exit_code": code}}:
	case <-s.gone:
	}
	close(s.events)
}

// testScriptStream runs the script and streams its output as server-sent
// events: a start event, one log event per output line tagged with its
// stream, and a terminal exit event carrying the exit code.
func (a *API) testScriptStream(c *gin.Context) {
	script, ok := a.scriptByParam(c)
	if !ok {
		return
	}

	stream := &sseStream{
		events: make(chan sseEvent, 64),
		gone:   c.Request.Context().Done(),
	}

	a.monitor.ExecutionStarted()
	go func() {
		defer a.monitor.ExecutionFinished()
		a.runner.RunScript(c.Request.Context(), script, stream)
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("start", gin.H{"script_id": script.ID, "name": script.Name})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		event, open := <-stream.events
		if !open {
			return false
		}
		c.SSEvent(event.Name, event.Data)
		return true
	})
}

func (a *API) scriptByParam(c *gin.Context) (*model.Script, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid script id")
		return nil, false
	}
	script, err := a.store.Scripts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if script == nil {
		respondError(c, http.StatusNotFound, fmt.Sprintf("script %d not found", id))
		return nil, false
	}
	return script, true
}
