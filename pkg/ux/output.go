// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders korectl's results for humans and for scripts.
//
// A Printer writes "key: value" lines. When its writer is a terminal the
// keys, icons and error prefix are colored with lipgloss; otherwise the
// output is plain text that is stable enough to parse.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// Palette
// =============================================================================

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Keys, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Section labels
	ColorSlate       = lipgloss.Color("#2C4A54") // Muted text
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles holds the styles used in styled mode.
var Styles = struct {
	Key     lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}{
	Key:     lipgloss.NewStyle().Foreground(ColorTealBright),
	Label:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Bold(true).Foreground(ColorError),
}

// Icon is a status glyph shown in styled mode.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
)

// Render colors the icon by meaning.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Mode selects how a Printer renders.
type Mode string

const (
	// ModePlain writes uncolored text suitable for scripting and parsing.
	ModePlain Mode = "plain"

	// ModeStyled colors keys, icons and errors.
	ModeStyled Mode = "styled"
)

// Printer writes results to one destination.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter returns a Printer for w, styled only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return NewPrinterMode(w, DetectMode(w))
}

// NewPrinterMode returns a Printer with an explicit mode.
func NewPrinterMode(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// DetectMode returns ModeStyled when w is an *os.File attached to a
// terminal and ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	f, ok := w.(*os.File)
	if !ok {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeStyled
	}
	return ModePlain
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Field writes "key: value".
func (p *Printer) Field(key, value string) {
	if p.mode == ModeStyled {
		key = Styles.Key.Render(key)
	}
	fmt.Fprintf(p.w, "%s: %s\n", key, value)
}

// Line writes text unchanged.
func (p *Printer) Line(text string) {
	fmt.Fprintln(p.w, text)
}

// Success writes a completion message.
func (p *Printer) Success(text string) {
	if p.mode == ModeStyled {
		fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), text)
		return
	}
	fmt.Fprintln(p.w, text)
}

// Error writes "Error: text".
func (p *Printer) Error(text string) {
	if p.mode == ModeStyled {
		fmt.Fprintf(p.w, "%s %s %s\n", IconError.Render(), Styles.Error.Render("Error:"), text)
		return
	}
	fmt.Fprintf(p.w, "Error: %s\n", text)
}

// Detail writes an indented secondary line under an error or result.
func (p *Printer) Detail(key, value string) {
	if p.mode == ModeStyled {
		fmt.Fprintf(p.w, "  %s %s\n", Styles.Muted.Render(key+":"), value)
		return
	}
	fmt.Fprintf(p.w, "  %s: %s\n", key, value)
}
