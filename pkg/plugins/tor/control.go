// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tor

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// ReplyLine is one line of a control port reply. Data holds the dot
// terminated block that follows a "NNN+keyword=" line.
type ReplyLine struct {
	Text string
	Data []string
}

// Reply is a complete control port reply.
type Reply struct {
	Code  int
	Lines []ReplyLine
}

// OK reports a 250 reply.
func (r *Reply) OK() bool {
	return r.Code == 250
}

// ReplyError is returned for replies other than 250.
type ReplyError struct {
	Code int
	Text string
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("control port replied %d %s", e.Code, e.Text)
}

// Conn speaks the Tor control protocol over a stream.
type Conn struct {
	conn io.ReadWriteCloser
	r    *textproto.Reader
	w    *textproto.Writer
}

// NewConn wraps an established connection.
func NewConn(conn io.ReadWriteCloser) *Conn {
	return &Conn{
		conn: conn,
		r:    textproto.NewReader(bufio.NewReader(conn)),
		w:    textproto.NewWriter(bufio.NewWriter(conn)),
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// SetDeadline applies to the underlying connection when it supports
// deadlines.
func (c *Conn) SetDeadline(t time.Time) error {
	if d, ok := c.conn.(interface{ SetDeadline(time.Time) error }); ok {
		return d.SetDeadline(t)
	}

	return nil
}

// Command sends one command line and reads the full reply.
func (c *Conn) Command(format string, args ...any) (*Reply, error) {
	if err := c.w.PrintfLine(format, args...); err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}

	return c.ReadReply()
}

// ReadReply reads lines until the final "NNN text" line.
func (c *Conn) ReadReply() (*Reply, error) {
	reply := &Reply{}

	for {
		line, err := c.r.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("reading reply: %w", err)
		}

		if len(line) < 4 {
			return nil, fmt.Errorf("malformed reply line %q", line)
		}

		code, err := strconv.Atoi(line[:3])
		if err != nil {
			return nil, fmt.Errorf("malformed reply code in %q", line)
		}

		if reply.Code != 0 && reply.Code != code {
			return nil, fmt.Errorf("reply code changed from %d to %d", reply.Code, code)
		}

		reply.Code = code
		rl := ReplyLine{Text: line[4:]}

		switch line[3] {
		case ' ':
			reply.Lines = append(reply.Lines, rl)

			return reply, nil
		case '-':
			reply.Lines = append(reply.Lines, rl)
		case '+':
			data, err := c.r.ReadDotLines()
			if err != nil {
				return nil, fmt.Errorf("reading reply data: %w", err)
			}

			rl.Data = data
			reply.Lines = append(reply.Lines, rl)
		default:
			return nil, fmt.Errorf("malformed reply separator in %q", line)
		}
	}
}

// Authenticate logs in with a password, a cookie or, when both are empty,
// without credentials.
func (c *Conn) Authenticate(password string, cookie []byte) error {
	var (
		reply *Reply
		err   error
	)

	switch {
	case len(cookie) > 0:
		reply, err = c.Command("AUTHENTICATE %s", hex.EncodeToString(cookie))
	case password != "":
		reply, err = c.Command("AUTHENTICATE %s", quote(password))
	default:
		reply, err = c.Command("AUTHENTICATE")
	}

	if err != nil {
		return err
	}

	if !reply.OK() {
		return &ReplyError{Code: reply.Code, Text: reply.Lines[len(reply.Lines)-1].Text}
	}

	return nil
}

// GetInfo returns the value of key. Multi-line values are joined with
// newlines.
func (c *Conn) GetInfo(key string) (string, error) {
	reply, err := c.Command("GETINFO %s", key)
	if err != nil {
		return "", err
	}

	if !reply.OK() {
		return "", &ReplyError{Code: reply.Code, Text: reply.Lines[len(reply.Lines)-1].Text}
	}

	for _, line := range reply.Lines {
		k, v, ok := strings.Cut(line.Text, "=")
		if !ok || k != key {
			continue
		}

		if line.Data != nil {
			return strings.Join(line.Data, "\n"), nil
		}

		return v, nil
	}

	return "", fmt.Errorf("reply carries no value for %s", key)
}

// quote renders s as a control protocol quoted string.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)

	return `"` + r.Replace(s) + `"`
}

// Dial connects to the control port, honouring ctx for the connect and as
// the deadline of the session.
func Dial(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), addr string) (*Conn, error) {
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	nc, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c := NewConn(nc)

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.SetDeadline(deadline); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}

	return c, nil
}
