// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/korerpc/pkg/bugreport"
	"github.com/AleutianAI/korerpc/pkg/config"
	"github.com/AleutianAI/korerpc/pkg/jsonrpc"
	"github.com/AleutianAI/korerpc/pkg/kore"
	"github.com/AleutianAI/korerpc/pkg/korerpc"
	"github.com/AleutianAI/korerpc/pkg/logging"
)

// app holds the state of one korectl invocation.
type app struct {
	// Flags.
	configPath string
	host       string
	port       int
	timeout    time.Duration
	jsonInput  bool

	stderr io.Writer
	cfg    config.ClientConfig
	logger *logging.Logger
	client *korerpc.Client
	report *bugreport.Report
}

// =============================================================================
// Lifecycle
// =============================================================================

// setup loads the config file, applies flag overrides and builds the
// logger. A missing config file is created with defaults.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = a.host
	}
	if flags.Changed("port") {
		cfg.Port = a.port
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout.String()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lc, err := cfg.LoggerConfig("korectl")
	if err != nil {
		return err
	}
	lc.Output = a.stderr
	a.logger = logging.New(lc)
	a.cfg = cfg
	if created {
		a.logger.Info("Created default config", "path", path)
	}
	return nil
}

// teardown closes whatever setup and connect opened. Safe to call when
// neither ran.
func (a *app) teardown() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.report != nil {
		errs = append(errs, a.report.Close())
		a.report = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
		a.logger = nil
	}
	return errors.Join(errs...)
}

// connect dials the configured server.
//
// Description:
//
//	Opens the bug report archive first when bug_report.dir is set so the
//	transport records every exchange, then dials over tcp or websocket
//	according to the config. The client and archive are closed by
//	teardown.
//
// Inputs:
//
//	ctx - Bounds the dial.
//
// Outputs:
//
//	*korerpc.Client - Connected client.
//	error - Non-nil if the archive cannot be opened or the dial fails.
func (a *app) connect(ctx context.Context) (*korerpc.Client, error) {
	framing, err := a.cfg.FramingMode()
	if err != nil {
		return nil, err
	}
	opts := []jsonrpc.Option{
		jsonrpc.WithLogger(a.logger),
		jsonrpc.WithFraming(framing),
		jsonrpc.WithTimeout(a.cfg.RequestTimeout()),
		jsonrpc.WithReconnect(a.cfg.Reconnect),
	}

	if dir := a.cfg.BugReport.Dir; dir != "" {
		rc := bugreport.DefaultConfig(dir)
		rc.Logger = a.logger.Slog()
		report, err := bugreport.Open(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to open the bug report archive: %w", err)
		}
		a.report = report
		opts = append(opts, jsonrpc.WithRecorder(report))
		a.logger.Info("Recording requests", "dir", dir, "session", report.Session())
	}

	var transport *jsonrpc.Transport
	switch a.cfg.Transport {
	case "websocket":
		transport, err = jsonrpc.DialWebSocket(ctx, a.cfg.URL, nil, opts...)
	default:
		transport, err = jsonrpc.DialTCP(ctx, a.cfg.Address(), opts...)
	}
	if err != nil {
		return nil, err
	}

	client, err := korerpc.New(transport)
	if err != nil {
		transport.Close()
		return nil, err
	}
	a.client = client
	a.logger.Debug("Connected", "transport", a.cfg.Transport)
	return client, nil
}

// =============================================================================
// Input
// =============================================================================

// readInput returns the contents of path, or standard input for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readPattern reads a pattern as KORE text, or as KORE JSON with --json.
// JSON input may be a bare term or a {"format":"KORE",...} envelope.
func (a *app) readPattern(cmd *cobra.Command, path string) (kore.Pattern, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	if !a.jsonInput {
		p, err := kore.ParsePattern(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return p, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, kore.ErrMalformed, err)
	}
	if _, ok := probe["format"]; ok {
		var env kore.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return env.Term, nil
	}
	p, err := kore.UnmarshalPattern(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// readModule reads a single KORE module as text.
func readModule(cmd *cobra.Command, path string) (kore.Module, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return kore.Module{}, err
	}
	m, err := kore.ParseModule(string(data))
	if err != nil {
		return kore.Module{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
