package session

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/relaycore/relaybot/internal/wire"
)

func (s *Session) handleCAP(l wire.Line) {
	if len(l.Params) < 2 {
		return
	}
	subcommand := l.Params[1]

	switch subcommand {
	case "LS":
		caps := l.Trailing
		if strings.Contains(strings.ToLower(caps), "sasl") {
			s.startSASL()
		} else {
			s.writer.Raw("CAP END")
		}
	case "ACK":
		// sasl ack: authentication proceeds via AUTHENTICATE.
	case "NAK":
		s.writer.Raw("CAP END")
	}
}

func (s *Session) startSASL() {
	if !s.cfg.SASL.Enabled {
		s.writer.Raw("CAP END")
		return
	}

	s.mu.Lock()
	s.saslRequested = true
	s.mu.Unlock()

	s.writer.Raw("CAP REQ :sasl")
	s.writer.Raw("AUTHENTICATE PLAIN")
}

func (s *Session) handleAuthenticate(l wire.Line) {
	if len(l.Params) == 0 || l.Params[0] != "+" {
		return
	}

	username := s.cfg.SASL.Username
	if username == "" {
		username = s.currentNick
	}
	authStr := "\x00" + username + "\x00" + s.cfg.SASL.Password
	encoded := base64.StdEncoding.EncodeToString([]byte(authStr))
	s.writer.Raw("AUTHENTICATE " + encoded)
}

func (s *Session) handleNumeric(numeric string, l wire.Line, nick, userhost string) {
	switch numeric {
	case "433":
		s.handleNickInUse()
	case "903":
		s.logger.Info("sasl authentication succeeded")
		s.mu.Lock()
		s.saslAuthenticated = true
		s.mu.Unlock()
		s.writer.Raw("CAP END")
	case "904", "905", "906", "907":
		s.logger.Warn("sasl authentication failed", "numeric", numeric)
		s.writer.Raw("CAP END")
	case "001":
		s.handleWelcome()
	case "376", "422":
		s.handleEndOfMOTD()
	case "352":
		s.handleWho(l)
	case "353":
		s.handleNames(l)
	case "354":
		s.handleWhox(l)
	case "366":
		s.handleEndOfNames(l)
	case "315":
		// end of WHO: nothing further to do once 352/354 have populated roster.
	default:
		if len(numeric) == 3 && (numeric[0] == '4' || numeric[0] == '5') {
			s.logger.Warn("protocol error numeric", "numeric", numeric, "params", l.AllParams())
		}
	}
}

func (s *Session) handleNickInUse() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		// Post-registration collision on a reclaim attempt: retain current nick.
		return
	}

	if s.currentNick == s.cfg.Nick {
		s.currentNick = s.cfg.AltNick
	} else {
		s.nickAttempt++
		s.currentNick = s.cfg.AltNick + strconv.Itoa(s.nickAttempt)
	}
	s.writer.Raw("NICK " + s.currentNick)
}

func (s *Session) handleWelcome() {
	s.mu.Lock()
	if s.registered {
		s.mu.Unlock()
		return
	}
	s.registered = true
	s.state = Registered
	mode := s.cfg.UserMode
	nick := s.currentNick
	span := s.registerSpan
	s.registerSpan = nil
	s.mu.Unlock()

	if span != nil {
		span.End()
	}

	if mode != "" {
		s.writer.Raw("MODE " + nick + " " + mode)
	}

	if s.handlers.OnRegistered != nil {
		s.handlers.OnRegistered()
	}
}

func (s *Session) handleEndOfMOTD() {
	s.mu.Lock()
	if s.postConnectSent {
		s.mu.Unlock()
		return
	}
	s.postConnectSent = true
	s.mu.Unlock()

	go s.sendPostConnect()
}
