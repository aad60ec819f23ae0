// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zacharyfmarion/openscad-studio/services/studio/agent"
	"github.com/zacharyfmarion/openscad-studio/services/studio/conversations"
	"github.com/zacharyfmarion/openscad-studio/services/studio/history"
	"github.com/zacharyfmarion/openscad-studio/services/studio/keys"
	"github.com/zacharyfmarion/openscad-studio/services/studio/render"
)

// ErrorResponse is the JSON error envelope for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func fail(c *gin.Context, status int, code string, err error) {
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// failFor maps the domain sentinel errors onto HTTP statuses.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, history.ErrNoHistory):
		fail(c, http.StatusConflict, "NO_HISTORY", err)
	case errors.Is(err, history.ErrNoFuture):
		fail(c, http.StatusConflict, "NO_FUTURE", err)
	case errors.Is(err, history.ErrNotFound),
		errors.Is(err, conversations.ErrNotFound),
		errors.Is(err, keys.ErrNotFound):
		fail(c, http.StatusNotFound, "NOT_FOUND", err)
	case errors.Is(err, agent.ErrBusy):
		fail(c, http.StatusConflict, "AGENT_BUSY", err)
	default:
		fail(c, http.StatusInternalServerError, "INTERNAL", err)
	}
}

// requestLogger attaches a request id and logs each request the way
// the rest of the services log: structured, with duration.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		start := time.Now()
		c.Next()

		s.logger.Debug("http request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- document ---

func (s *Server) handleGetDocument(c *gin.Context) {
	code, diags := s.doc.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"code":              code,
		"diagnostics":       diags,
		"last_preview_path": s.doc.LastPreviewPath(),
		"tool_path":         s.doc.ToolPath(),
		"working_dir":       s.doc.WorkingDir(),
	})
}

type putDocumentRequest struct {
	Code       string `json:"code"`
	Checkpoint bool   `json:"checkpoint"`
}

// handlePutDocument replaces the buffer for plain user typing. With
// checkpoint set, the new state is also snapshotted as a user change.
func (s *Server) handlePutDocument(c *gin.Context) {
	var req putDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	s.doc.SetText(req.Code)
	var checkpointID string
	if req.Checkpoint {
		checkpointID = s.ed.Checkpoint("User edit", history.ChangeUser)
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint_id": checkpointID})
}

func (s *Server) handleGetDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"diagnostics": s.doc.Diagnostics()})
}

// --- edits ---

type editRequest struct {
	OldString   string `json:"old_string" binding:"required"`
	NewString   string `json:"new_string"`
	Description string `json:"description"`
}

func (s *Server) handleValidateEdit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	c.JSON(http.StatusOK, s.ed.Validate(req.OldString, req.NewString))
}

func (s *Server) handleApplyEdit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	description := req.Description
	if description == "" {
		description = "Before AI edit"
	}
	res := s.ed.ApplyAs(c.Request.Context(), req.OldString, req.NewString, description, history.ChangeAI)
	c.JSON(http.StatusOK, res)
}

// --- history ---

func (s *Server) handleListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"checkpoints": s.hist.All()})
}

func (s *Server) handleHistoryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"can_undo": s.hist.CanUndo(),
		"can_redo": s.hist.CanRedo(),
		"length":   s.hist.Len(),
	})
}

type checkpointRequest struct {
	Description string `json:"description"`
	ChangeType  string `json:"change_type"`
}

func (s *Server) handleCreateCheckpoint(c *gin.Context) {
	var req checkpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	ct := history.ChangeType(req.ChangeType)
	if req.ChangeType == "" {
		ct = history.ChangeUser
	}
	if !ct.Valid() {
		fail(c, http.StatusBadRequest, "BAD_REQUEST",
			errors.New("unknown change_type "+req.ChangeType))
		return
	}
	id := s.ed.Checkpoint(req.Description, ct)
	c.JSON(http.StatusCreated, gin.H{"checkpoint_id": id})
}

func (s *Server) handleUndo(c *gin.Context) {
	cp, err := s.ed.Undo()
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint": cp})
}

func (s *Server) handleRedo(c *gin.Context) {
	cp, err := s.ed.Redo()
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint": cp})
}

func (s *Server) handleRestore(c *gin.Context) {
	cp, err := s.ed.RestoreTo(c.Param("id"))
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoint": cp})
}

func (s *Server) handleHistoryDiff(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if from == "" || to == "" {
		fail(c, http.StatusBadRequest, "BAD_REQUEST",
			errors.New("from and to query parameters are required"))
		return
	}
	d, err := s.hist.Diff(from, to)
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// --- render ---

func (s *Server) handleRenderPreview(c *gin.Context) {
	var req render.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	if req.Source == "" {
		req.Source = s.doc.Text()
	}
	if req.WorkingDir == "" {
		req.WorkingDir = s.doc.WorkingDir()
	}

	res, err := s.renderer.Preview(c.Request.Context(), s.doc.ToolPath(), req)
	if err != nil {
		var ce *render.CompileError
		if errors.As(err, &ce) {
			// Failed renders still surface their diagnostics in the
			// editor.
			if req.Source == s.doc.Text() {
				s.doc.SetDiagnostics(ce.Diagnostics)
			}
			fail(c, http.StatusUnprocessableEntity, "COMPILE_ERROR", err)
			return
		}
		fail(c, http.StatusBadGateway, "RENDER_FAILED", err)
		return
	}

	if req.Source == s.doc.Text() {
		s.doc.SetDiagnostics(res.Diagnostics)
		s.doc.SetLastPreviewPath(res.Path)
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRenderExport(c *gin.Context) {
	var req render.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	if !req.Format.Valid() {
		fail(c, http.StatusBadRequest, "BAD_REQUEST",
			fmt.Errorf("unknown export format %q", req.Format))
		return
	}
	if req.Source == "" {
		req.Source = s.doc.Text()
	}
	if req.WorkingDir == "" {
		req.WorkingDir = s.doc.WorkingDir()
	}

	res, err := s.renderer.Export(c.Request.Context(), s.doc.ToolPath(), req)
	if err != nil {
		var ce *render.CompileError
		if errors.As(err, &ce) {
			fail(c, http.StatusUnprocessableEntity, "COMPILE_ERROR", err)
			return
		}
		fail(c, http.StatusBadGateway, "RENDER_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleDetectBackend(c *gin.Context) {
	info, err := s.renderer.DetectBackend(c.Request.Context(), s.doc.ToolPath())
	if err != nil {
		fail(c, http.StatusBadGateway, "DETECT_FAILED", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type locateRequest struct {
	ExplicitPath string `json:"explicit_path"`
}

func (s *Server) handleLocate(c *gin.Context) {
	var req locateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	path, err := render.Locate(req.ExplicitPath)
	if err != nil {
		fail(c, http.StatusNotFound, "NOT_FOUND", err)
		return
	}
	s.doc.SetToolPath(path)
	c.JSON(http.StatusOK, gin.H{"exe_path": path})
}

// --- settings ---

type pathRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) handleSetToolPath(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	path, err := render.Locate(req.Path)
	if err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	s.doc.SetToolPath(path)
	c.JSON(http.StatusOK, gin.H{"tool_path": path})
}

// handleSetWorkingFile opens a file: its contents load into the
// document as a file_load checkpoint, its directory becomes the render
// working dir, and the watcher follows it for external changes.
func (s *Server) handleSetWorkingFile(c *gin.Context) {
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	if err := s.watcher.Watch(req.Path); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	s.doc.SetWorkingDir(filepath.Dir(req.Path))
	s.reloadWorkingFile(req.Path)
	c.JSON(http.StatusOK, gin.H{
		"code":        s.doc.Text(),
		"working_dir": s.doc.WorkingDir(),
	})
}

// --- agent ---

type agentQueryRequest struct {
	Messages []agent.Message `json:"messages" binding:"required"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
}

func (s *Server) handleAgentQuery(c *gin.Context) {
	var req agentQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	provider := agent.Provider(req.Provider)
	if req.Provider == "" {
		provider = agent.Provider(s.cfg.Provider)
	}
	model := req.Model
	if model == "" {
		model = s.cfg.Model
	}
	if err := s.agent.Start(req.Messages, provider, model); err != nil {
		if errors.Is(err, agent.ErrBusy) || errors.Is(err, keys.ErrNotFound) {
			failFor(c, err)
			return
		}
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "streaming"})
}

func (s *Server) handleAgentCancel(c *gin.Context) {
	s.agent.Cancel()
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// --- keys ---

type setKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

func (s *Server) handleSetKey(c *gin.Context) {
	var req setKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	if err := s.keys.Set(c.Param("provider"), req.APIKey); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (s *Server) handleHasKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"present": s.keys.Has(c.Param("provider"))})
}

func (s *Server) handleDeleteKey(c *gin.Context) {
	if err := s.keys.Delete(c.Param("provider")); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// --- conversations ---

func (s *Server) handleListConversations(c *gin.Context) {
	list, err := s.convs.List()
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.convs.Get(c.Param("id"))
	if err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleSaveConversation(c *gin.Context) {
	var conv conversations.Conversation
	if err := c.ShouldBindJSON(&conv); err != nil {
		fail(c, http.StatusBadRequest, "BAD_REQUEST", err)
		return
	}
	conv.ID = c.Param("id")
	if err := s.convs.Save(conv); err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	if err := s.convs.Delete(c.Param("id")); err != nil {
		failFor(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
