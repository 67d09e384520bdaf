// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// Framing selects how messages are delimited on a byte stream.
type Framing int

const (
	// FramingLine writes one JSON value per line.
	FramingLine Framing = iota

	// FramingHeader prefixes each message with a Content-Length header.
	FramingHeader
)

// String returns "line" or "header".
func (f Framing) String() string {
	switch f {
	case FramingLine:
		return "line"
	case FramingHeader:
		return "header"
	default:
		return fmt.Sprintf("Framing(%d)", int(f))
	}
}

// ParseFraming converts "line" or "header" to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "", "line":
		return FramingLine, nil
	case "header":
		return FramingHeader, nil
	default:
		return FramingLine, fmt.Errorf("unknown framing %q", s)
	}
}

// MessageConn is one live connection that exchanges whole messages.
//
// Close must be safe to call concurrently with a blocked ReadMessage or
// WriteMessage and must unblock it.
type MessageConn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// =============================================================================
// STREAM CONNECTION
// =============================================================================

// streamConn frames messages over a net.Conn.
type streamConn struct {
	nc      net.Conn
	framing Framing
	reader  *bufio.Reader
	decoder *json.Decoder
	writeMu sync.Mutex
}

// NewStreamConn wraps nc with the given framing.
func NewStreamConn(nc net.Conn, framing Framing) MessageConn {
	c := &streamConn{nc: nc, framing: framing, reader: bufio.NewReader(nc)}
	if framing == FramingLine {
		c.decoder = json.NewDecoder(c.reader)
	}
	return c
}

// WriteMessage writes data as one framed message.
func (c *streamConn) WriteMessage(data []byte) error {
	var frame []byte
	switch c.framing {
	case FramingHeader:
		header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
		frame = make([]byte, 0, len(header)+len(data))
		frame = append(frame, header...)
		frame = append(frame, data...)
	default:
		frame = make([]byte, 0, len(data)+1)
		frame = append(frame, data...)
		frame = append(frame, '\n')
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(frame)
	return err
}

// ReadMessage reads the next framed message.
func (c *streamConn) ReadMessage() ([]byte, error) {
	if c.framing == FramingHeader {
		return c.readHeaderMessage()
	}
	var raw json.RawMessage
	if err := c.decoder.Decode(&raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, fmt.Errorf("%w: %v", ErrFraming, err)
		}
		return nil, err
	}
	return raw, nil
}

// readHeaderMessage reads a Content-Length framed message.
func (c *streamConn) readHeaderMessage() ([]byte, error) {
	contentLength := -1

	// Headers end at the first empty line.
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q", ErrFraming, line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid Content-Length %q", ErrFraming, value)
		}
		contentLength = n
	}

	if contentLength <= 0 {
		return nil, fmt.Errorf("%w: missing or zero Content-Length header", ErrFraming)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, err
	}
	return body, nil
}

// Close closes the underlying connection.
func (c *streamConn) Close() error {
	return c.nc.Close()
}
