// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command korectl drives a running kore-rpc server from the command line.
//
//	korectl execute state.kore --max-depth 10
//	korectl implies antecedent.kore consequent.kore
//	korectl simplify pattern.kore
//	korectl add-module lemmas.kore
//	korectl get-model constraint.kore
//	korectl bug-report export ~/.korerpc/bugs ./report
//
// Connection settings come from ~/.korerpc/korectl.yaml, created with
// defaults on first run, and can be overridden with --host, --port and
// --timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/AleutianAI/korerpc/pkg/korerpc"
	"github.com/AleutianAI/korerpc/pkg/ux"
)

// Exit codes.
const (
	exitFailure  = 1
	exitProtocol = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// run executes one korectl invocation and releases the connection, bug
// report and logger it opened, even when the command fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stderr: stderr}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, a.teardown())
}

// reportError prints err and returns the process exit code. Server
// errors print their code and message verbatim.
func reportError(w io.Writer, err error) int {
	p := ux.NewPrinter(w)
	var kce *korerpc.KoreClientError
	if errors.As(err, &kce) {
		p.Error(fmt.Sprintf("server error %d: %s", kce.Code, kce.Message))
		if len(kce.Data) > 0 {
			p.Detail("data", string(kce.Data))
		}
		return exitProtocol
	}
	p.Error(err.Error())
	return exitFailure
}
