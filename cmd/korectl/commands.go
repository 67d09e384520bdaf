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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/korerpc/pkg/bugreport"
	"github.com/AleutianAI/korerpc/pkg/kore"
	"github.com/AleutianAI/korerpc/pkg/korerpc"
	"github.com/AleutianAI/korerpc/pkg/ux"
)

// =============================================================================
// Command Tree
// =============================================================================

// newRootCmd builds the korectl command tree around a. Each call returns
// fresh commands with their own flag state.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "korectl",
		Short: "A command-line client for kore-rpc servers",
		Long: `korectl sends execute, implies, simplify, add-module and get-model
requests to a running kore-rpc server and prints the results as KORE text.

Patterns are read as KORE text, or as KORE JSON with --json. A FILE of "-"
reads standard input.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.korerpc/korectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.host, "host", "", "Server host, overriding the config file")
	rootCmd.PersistentFlags().IntVar(&a.port, "port", 0, "Server port, overriding the config file")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Request timeout, overriding the config file")
	rootCmd.PersistentFlags().BoolVar(&a.jsonInput, "json", false, "Read patterns as KORE JSON instead of KORE text")

	rootCmd.AddCommand(
		newExecuteCmd(a),
		newImpliesCmd(a),
		newSimplifyCmd(a),
		newAddModuleCmd(a),
		newGetModelCmd(a),
		newBugReportCmd(a),
	)
	return rootCmd
}

// =============================================================================
// Requests
// =============================================================================

func newExecuteCmd(a *app) *cobra.Command {
	var (
		maxDepth           int
		cutPointRules      []string
		terminalRules      []string
		moveToTerminalOnly bool
		stepTimeout        time.Duration
		movingAverage      bool
	)
	cmd := &cobra.Command{
		Use:   "execute FILE",
		Short: "Rewrite a state until it stops",
		Long: `Sends the pattern in FILE as the initial state of an execute request
and prints why execution stopped, the depth reached, the final state and any
successor states.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := a.readPattern(cmd, args[0])
			if err != nil {
				return err
			}
			var opts []korerpc.ExecuteOption
			if cmd.Flags().Changed("max-depth") {
				opts = append(opts, korerpc.WithMaxDepth(maxDepth))
			}
			if len(cutPointRules) > 0 {
				opts = append(opts, korerpc.WithCutPointRules(cutPointRules...))
			}
			if len(terminalRules) > 0 {
				opts = append(opts, korerpc.WithTerminalRules(terminalRules...))
			}
			if cmd.Flags().Changed("move-to-terminal-only") {
				opts = append(opts, korerpc.WithMoveToTerminalOnly(moveToTerminalOnly))
			}
			if cmd.Flags().Changed("step-timeout") {
				opts = append(opts, korerpc.WithStepTimeout(stepTimeout))
			}
			if cmd.Flags().Changed("moving-average-step-timeout") {
				opts = append(opts, korerpc.WithMovingAverageStepTimeout(movingAverage))
			}

			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			result, err := client.Execute(cmd.Context(), state, opts...)
			if err != nil {
				return err
			}
			printExecuteResult(ux.NewPrinter(cmd.OutOrStdout()), result)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Stop after this many rewrite steps")
	cmd.Flags().StringArrayVar(&cutPointRules, "cut-point-rule", nil, "Stop before applying this rule (repeatable)")
	cmd.Flags().StringArrayVar(&terminalRules, "terminal-rule", nil, "Stop after applying this rule (repeatable)")
	cmd.Flags().BoolVar(&moveToTerminalOnly, "move-to-terminal-only", false, "Only take a step if it applies a terminal rule")
	cmd.Flags().DurationVar(&stepTimeout, "step-timeout", 0, "Abort a single rewrite step after this long")
	cmd.Flags().BoolVar(&movingAverage, "moving-average-step-timeout", false, "Scale the step timeout by the moving average step time")
	return cmd
}

func newImpliesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "implies ANTECEDENT CONSEQUENT",
		Short: "Check that one pattern implies another",
		Long: `Asks the server whether the pattern in ANTECEDENT implies the pattern
in CONSEQUENT and prints the verdict with its witness condition, if any.

An indeterminate implication is reported as a server error with code -32003.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			antecedent, err := a.readPattern(cmd, args[0])
			if err != nil {
				return err
			}
			consequent, err := a.readPattern(cmd, args[1])
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			result, err := client.Implies(cmd.Context(), antecedent, consequent)
			if err != nil {
				return err
			}
			printImpliesResult(ux.NewPrinter(cmd.OutOrStdout()), result)
			return nil
		},
	}
}

func newSimplifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "simplify FILE",
		Short: "Simplify a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := a.readPattern(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			simplified, err := client.Simplify(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Line(kore.Text(simplified))
			return nil
		},
	}
}

func newAddModuleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-module FILE",
		Short: "Add a KORE module to the server session",
		Long: `Parses the KORE module in FILE and sends it to the server. Modules are
always read as KORE text. The module lives until the connection closes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			module, err := readModule(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := client.AddModule(cmd.Context(), module); err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Success("added module " + module.Name)
			return nil
		},
	}
}

func newGetModelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get-model FILE",
		Short: "Find a satisfying assignment for a constraint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := a.readPattern(cmd, args[0])
			if err != nil {
				return err
			}
			client, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			result, err := client.GetModel(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			printGetModelResult(ux.NewPrinter(cmd.OutOrStdout()), result)
			return nil
		},
	}
}

// =============================================================================
// Bug Reports
// =============================================================================

func newBugReportCmd(a *app) *cobra.Command {
	bugReportCmd := &cobra.Command{
		Use:   "bug-report",
		Short: "Work with recorded request/response archives",
		Long: `Requests and responses are recorded to the archive named by bug_report.dir
in the config file. Use the export subcommand to turn an archive into one JSON
file per message for attaching to a bug report.`,
	}

	exportCmd := &cobra.Command{
		Use:   "export DB_DIR OUT_DIR",
		Short: "Write every recorded message to OUT_DIR",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bugreport.DefaultConfig(args[0])
			cfg.Logger = a.logger.Slog()
			report, err := bugreport.Open(cfg)
			if err != nil {
				return err
			}
			defer report.Close()

			n, err := report.Export(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Success(fmt.Sprintf("exported %d messages to %s", n, args[1]))
			return nil
		},
	}

	bugReportCmd.AddCommand(exportCmd)
	return bugReportCmd
}
