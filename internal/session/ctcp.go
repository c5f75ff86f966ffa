package session

import (
	"strings"
	"time"

	"github.com/relaycore/relaybot/internal/buildinfo"
)

const ctcpDelim = "\x01"

// handleCTCP answers a CTCP request framed inside a PRIVMSG, subject to
// private-flood protection. body is the request with the \x01 framing
// already stripped.
func (s *Session) handleCTCP(nick, userhost, body string) {
	if s.handlers.CheckPrivateFlood != nil && s.handlers.CheckPrivateFlood(nick) {
		s.logger.Warn("dropping CTCP request, private flood triggered", "nick", nick)
		return
	}

	name, arg, _ := strings.Cut(body, " ")
	switch strings.ToUpper(name) {
	case "VERSION":
		s.notice(nick, "VERSION "+buildinfo.String())
	case "PING":
		s.notice(nick, "PING "+arg)
	case "TIME":
		s.notice(nick, "TIME "+time.Now().Format(time.RFC1123Z))
	case "USERINFO":
		s.notice(nick, "USERINFO "+s.currentNick)
	case "CLIENTINFO":
		s.notice(nick, "CLIENTINFO ACTION, CLIENTINFO, PING, TIME, USERINFO, SOURCE, VERSION")
	case "SOURCE":
		s.notice(nick, "SOURCE https://github.com/relaycore/relaybot")
	case "ACTION":
		// /me-style action text: no NOTICE is sent, and the text is not
		// passed on to the channel or private message handlers.
	default:
		s.logger.Debug("unknown ctcp request", "nick", nick, "body", body)
	}
}

func (s *Session) notice(nick, ctcpPayload string) {
	s.writer.Raw("NOTICE " + nick + " :" + ctcpDelim + ctcpPayload + ctcpDelim)
}
