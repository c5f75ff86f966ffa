// Package wire implements the line-oriented protocol codec: parsing an
// inbound CRLF-delimited line into its prefix/command/params/trailing
// parts, and serializing outbound commands back into wire form.
package wire

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/relaybot/internal/logging"
	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/tokenbucket"
)

// Line is a single decoded protocol line.
type Line struct {
	Prefix  string // raw prefix text (before splitting into nick!user@host), empty if absent
	Command string
	Params  []string // middle params, not including the trailing parameter
	Trailing string
	HasTrailing bool
}

// SplitPrefix splits a raw prefix into its nick, user (ident), and host parts.
// A prefix lacking '!' or '@' is treated entirely as the nick (server
// prefixes look like this).
func SplitPrefix(prefix string) (nick, user, host string) {
	nick = prefix
	if i := strings.IndexByte(nick, '@'); i >= 0 {
		host = nick[i+1:]
		nick = nick[:i]
	}
	if i := strings.IndexByte(nick, '!'); i >= 0 {
		user = nick[i+1:]
		nick = nick[:i]
	}
	return nick, user, host
}

// Parse decodes one line (without the trailing CRLF) into its parts.
// The byte stream is assumed UTF-8, decoded lossily by the caller before
// this is reached (Parse itself operates on an already-decoded string).
func Parse(line string) Line {
	var l Line

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			l.Prefix = line[1:]
			return l
		}
		l.Prefix = line[1:sp]
		line = line[sp+1:]
	}

	if i := strings.Index(line, " :"); i >= 0 {
		l.Trailing = line[i+2:]
		l.HasTrailing = true
		line = line[:i]
	} else if strings.HasPrefix(line, ":") {
		l.Trailing = line[1:]
		l.HasTrailing = true
		line = ""
	}

	fields := strings.Fields(line)
	if len(fields) > 0 {
		l.Command = fields[0]
		l.Params = fields[1:]
	}

	return l
}

// AllParams returns Params with Trailing appended, if present, mirroring
// how most handlers want to treat "the rest of the arguments" uniformly
// regardless of whether the sender used a trailing parameter.
func (l Line) AllParams() []string {
	if !l.HasTrailing {
		return l.Params
	}
	return append(append([]string{}, l.Params...), l.Trailing)
}

// Format serializes a command with middle params and an optional
// trailing parameter back into wire form, without the CRLF terminator.
func Format(command string, params []string, trailing string, hasTrailing bool) string {
	var b strings.Builder
	b.WriteString(command)
	for _, p := range params {
		b.WriteByte(' ')
		b.WriteString(p)
	}
	if hasTrailing {
		b.WriteString(" :")
		b.WriteString(trailing)
	}
	return b.String()
}

// Pong builds the PONG reply for a received PING, echoing its payload.
func Pong(pingTrailing string, pingParams []string) string {
	if pingTrailing != "" {
		return Format("PONG", nil, pingTrailing, true)
	}
	return Format("PONG", pingParams, "", false)
}

// Writer serializes commands to an underlying connection, gating every
// send through a token bucket so bursts of outbound traffic get paced
// rather than flooding the server.
type Writer struct {
	mu     sync.Mutex
	conn   io.Writer
	bucket *tokenbucket.Bucket

	logRaw bool
	logger *slog.Logger
}

// NewWriter returns a Writer sending to conn, rate-limited by bucket.
func NewWriter(conn io.Writer, bucket *tokenbucket.Bucket) *Writer {
	return &Writer{conn: conn, bucket: bucket}
}

// EnableRawLog turns on log_raw wire forensics for this Writer: every
// outbound line is logged via logger at logging.LevelTrace.
func (w *Writer) EnableRawLog(logger *slog.Logger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.logRaw = true
	w.logger = logger
}

// Send acquires a token, sleeping for whatever wait the bucket reports,
// then writes cmd terminated by CRLF.
func (w *Writer) Send(cmd string) error {
	wait := w.bucket.Acquire()
	metrics.TokenBucketWait.Observe(wait.Seconds())
	if wait > 0 {
		time.Sleep(wait)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	logging.TraceRaw(w.logger, w.logRaw, "out", cmd)
	_, err := fmt.Fprintf(w.conn, "%s\r\n", cmd)
	return err
}

// Raw writes cmd immediately, bypassing the token bucket. Used for the
// handful of commands that must never be rate-limited behind a flood of
// ordinary traffic (e.g. the CAP/SASL registration dialog, PONG).
func (w *Writer) Raw(cmd string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	logging.TraceRaw(w.logger, w.logRaw, "out", cmd)
	_, err := fmt.Fprintf(w.conn, "%s\r\n", cmd)
	return err
}
