// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server exposes the studio over HTTP: document and edit
// operations, history, rendering, the AI agent, credentials,
// conversations, and a websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/zacharyfmarion/openscad-studio/pkg/logging"
	"github.com/zacharyfmarion/openscad-studio/services/studio/agent"
	"github.com/zacharyfmarion/openscad-studio/services/studio/config"
	"github.com/zacharyfmarion/openscad-studio/services/studio/conversations"
	"github.com/zacharyfmarion/openscad-studio/services/studio/diag"
	"github.com/zacharyfmarion/openscad-studio/services/studio/editor"
	"github.com/zacharyfmarion/openscad-studio/services/studio/events"
	"github.com/zacharyfmarion/openscad-studio/services/studio/history"
	"github.com/zacharyfmarion/openscad-studio/services/studio/keys"
	"github.com/zacharyfmarion/openscad-studio/services/studio/render"
	"github.com/zacharyfmarion/openscad-studio/services/studio/watch"
)

// Server owns the studio's components and the HTTP surface over them.
type Server struct {
	cfg      config.Config
	logger   *logging.Logger
	doc      *editor.Document
	ed       *editor.Editor
	hist     *history.History
	renderer *render.Renderer
	agent    *agent.Agent
	keys     keys.Store
	convs    *conversations.Store
	emitter  *events.Emitter
	watcher  *watch.Watcher
}

// New builds every component and wires them together.
//
// Description:
//
//	The renderer's compile check becomes the editor's verifier, the
//	watcher reloads externally-modified files as file_load checkpoints,
//	and the agent's toolbox closes over the editor. The conversation
//	store opens under cfg.DataDir.
func New(cfg config.Config, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Default("studio")
	}
	slogger := logger.Slog()

	doc := editor.NewDocument()
	if cfg.OpenSCADPath != "" {
		doc.SetToolPath(cfg.OpenSCADPath)
	} else if found, err := render.Locate(""); err == nil {
		doc.SetToolPath(found)
	}

	hist := history.New(cfg.HistoryCapacity)
	emitter := events.NewEmitter(slogger)
	renderer := render.NewRenderer(render.NewCache(), cfg.CacheDir, slogger)

	verifier := editor.VerifierFunc(func(ctx context.Context, source string) ([]diag.Diagnostic, error) {
		return renderer.CompileCheck(ctx, doc.ToolPath(), source)
	})
	ed := editor.New(doc, hist, verifier, emitter, slogger)

	keyStore := keys.NewEnclaveStore()
	toolbox := agent.NewToolbox(ed, emitter, slogger)
	ai := agent.NewAgent(keyStore, toolbox, emitter, slogger)

	convs, err := conversations.Open(filepath.Join(cfg.DataDir, "conversations"), false, slogger)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		doc:      doc,
		ed:       ed,
		hist:     hist,
		renderer: renderer,
		agent:    ai,
		keys:     keyStore,
		convs:    convs,
		emitter:  emitter,
	}

	watcher, err := watch.New(s.reloadWorkingFile, slogger)
	if err != nil {
		convs.Close()
		return nil, err
	}
	s.watcher = watcher
	return s, nil
}

// reloadWorkingFile loads an externally-modified file back into the
// document as a file_load checkpoint.
func (s *Server) reloadWorkingFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("reload of watched file failed", "path", path, "error", err)
		return
	}
	code := string(data)
	s.doc.Commit(code, nil)
	s.ed.Checkpoint("Reloaded from "+filepath.Base(path), history.ChangeFileLoad)
	s.emitter.Emit(events.TypeDocumentChanged, events.DocumentChanged{Code: code})
	s.logger.Info("working file reloaded", "path", path)
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1/studio")
	{
		v1.GET("/document", s.handleGetDocument)
		v1.PUT("/document", s.handlePutDocument)
		v1.GET("/diagnostics", s.handleGetDiagnostics)

		v1.POST("/edits/validate", s.handleValidateEdit)
		v1.POST("/edits", s.handleApplyEdit)

		v1.GET("/history", s.handleListHistory)
		v1.GET("/history/status", s.handleHistoryStatus)
		v1.GET("/history/diff", s.handleHistoryDiff)
		v1.POST("/history/checkpoints", s.handleCreateCheckpoint)
		v1.POST("/history/undo", s.handleUndo)
		v1.POST("/history/redo", s.handleRedo)
		v1.POST("/history/restore/:id", s.handleRestore)

		v1.POST("/render/preview", s.handleRenderPreview)
		v1.POST("/render/export", s.handleRenderExport)
		v1.GET("/render/backend", s.handleDetectBackend)
		v1.POST("/render/locate", s.handleLocate)

		v1.PUT("/settings/tool-path", s.handleSetToolPath)
		v1.PUT("/settings/working-file", s.handleSetWorkingFile)

		v1.POST("/agent/query", s.handleAgentQuery)
		v1.POST("/agent/cancel", s.handleAgentCancel)

		v1.PUT("/keys/:provider", s.handleSetKey)
		v1.GET("/keys/:provider", s.handleHasKey)
		v1.DELETE("/keys/:provider", s.handleDeleteKey)

		v1.GET("/conversations", s.handleListConversations)
		v1.GET("/conversations/:id", s.handleGetConversation)
		v1.PUT("/conversations/:id", s.handleSaveConversation)
		v1.DELETE("/conversations/:id", s.handleDeleteConversation)

		v1.GET("/events", s.handleEvents)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// cache sweeper runs alongside when cfg.CacheMaxAge is set.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("studio listening", "addr", s.cfg.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if maxAge := s.cfg.CacheMaxAge.Std(); maxAge > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(maxAge / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					s.renderer.Cache().EvictOlderThan(maxAge)
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		s.agent.Cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close releases the watcher and the conversation store.
func (s *Server) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.convs != nil {
		_ = s.convs.Close()
	}
}
