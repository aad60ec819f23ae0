// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zacharyfmarion/openscad-studio/pkg/logging"
	"github.com/zacharyfmarion/openscad-studio/services/studio/config"
	"github.com/zacharyfmarion/openscad-studio/services/studio/render"
	"github.com/zacharyfmarion/openscad-studio/services/studio/server"
)

var (
	configPath    string
	listenAddr    string
	exportFormat  string
	exportOut     string
	exportBackend string

	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "studio",
		Short: "Backend for the OpenSCAD studio",
		Long: `Studio runs the OpenSCAD editing backend: a transactional
document with checkpoint history, a cached render pipeline, and an AI
agent that edits through validated string replacement.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				loaded.Listen = listenAddr
			}
			cfg = loaded
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the studio HTTP server",
		RunE:  runServe,
	}

	renderCmd = &cobra.Command{
		Use:   "render [file.scad]",
		Short: "Render a .scad file to an output file and exit",
		Args:  cobra.ExactArgs(1),
		RunE:  runRender,
	}

	locateCmd = &cobra.Command{
		Use:   "locate",
		Short: "Print the discovered OpenSCAD executable path",
		RunE:  runLocate,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Override the listen address")
	renderCmd.Flags().StringVar(&exportFormat, "format", "stl", "Export format (stl, obj, amf, 3mf, png, svg, dxf)")
	renderCmd.Flags().StringVar(&exportOut, "out", "", "Output file path (required)")
	renderCmd.Flags().StringVar(&exportBackend, "backend", "", "Geometry backend (manifold or cgal)")
	_ = renderCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(serveCmd, renderCmd, locateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logging.Config{
		Level:   logging.Level(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "studio",
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// runRender is a one-shot export so scripts can build artifacts without
// a running server. Logging stays quiet; stdout carries only the
// artifact path.
func runRender(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	toolPath := cfg.OpenSCADPath
	if toolPath == "" {
		if toolPath, err = render.Locate(""); err != nil {
			return err
		}
	}

	logger, err := logging.New(logging.Config{
		Level:   logging.Level(cfg.LogLevel),
		Service: "studio",
		Quiet:   true,
	})
	if err != nil {
		return err
	}

	r := render.NewRenderer(render.NewCache(), cfg.CacheDir, logger.Slog())
	res, err := r.Export(cmd.Context(), toolPath, render.ExportRequest{
		Source:  string(source),
		Format:  render.ExportFormat(exportFormat),
		OutPath: exportOut,
		Backend: render.Backend(exportBackend),
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Path)
	for _, d := range res.Diagnostics {
		fmt.Fprintln(os.Stderr, d.Message)
	}
	return nil
}

func runLocate(cmd *cobra.Command, args []string) error {
	path, err := render.Locate(cfg.OpenSCADPath)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
