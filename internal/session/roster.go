package session

import (
	"strings"

	"github.com/relaycore/relaybot/internal/metrics"
	"github.com/relaycore/relaybot/internal/wire"
)

// refreshRoomsGauge republishes the joined-room count after a room set
// mutation. Called with s.mu unlocked.
func (s *Session) refreshRoomsGauge() {
	metrics.RoomsJoined.Set(float64(len(s.JoinedRooms())))
}

func (s *Session) roomLocked(room string) *Room {
	key := strings.ToLower(room)
	r, ok := s.rooms[key]
	if !ok {
		r = &Room{Name: room, Members: make(map[string]*Member)}
		s.rooms[key] = r
	}
	return r
}

func (s *Session) handleJoin(l wire.Line, nick, userhost string) {
	room := ""
	if len(l.Params) > 0 {
		room = l.Params[0]
	} else if l.Trailing != "" {
		room = l.Trailing
	}
	if room == "" {
		return
	}

	s.mu.Lock()
	isSelf := nick == s.currentNick

	r := s.roomLocked(room)
	if isSelf {
		r.Members = make(map[string]*Member)
		r.Pending = false
	}
	r.Members[nick] = &Member{}

	if !isSelf {
		if ident, host := splitUserhost(userhost); host != "" {
			u, ok := s.users[nick]
			if !ok {
				u = &User{}
				s.users[nick] = u
			}
			if u.Ident == "" {
				u.Ident = ident
			}
			if u.Host == "" {
				u.Host = host
			}
		}
	}
	s.mu.Unlock()

	if !isSelf {
		s.writer.Raw("WHO " + nick + " %tnuhiraf")
		return
	}

	s.refreshRoomsGauge()
	if s.handlers.OnJoinedRoom != nil {
		s.handlers.OnJoinedRoom(room)
	}
}

func splitUserhost(userhost string) (ident, host string) {
	i := strings.IndexByte(userhost, '@')
	if i < 0 {
		return "", userhost
	}
	return userhost[:i], userhost[i+1:]
}

func (s *Session) handlePart(l wire.Line, nick string) {
	if len(l.Params) == 0 {
		return
	}
	room := l.Params[0]

	s.mu.Lock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		s.mu.Unlock()
		return
	}
	isSelf := nick == s.currentNick
	if isSelf {
		delete(s.rooms, strings.ToLower(room))
	} else {
		delete(r.Members, nick)
	}
	s.mu.Unlock()

	if isSelf {
		s.refreshRoomsGauge()
	}
}

func (s *Session) handleQuit(nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		delete(r.Members, nick)
	}
}

func (s *Session) handleNick(l wire.Line, oldNick string) {
	newNick := l.Trailing
	if newNick == "" && len(l.Params) > 0 {
		newNick = l.Params[0]
	}
	if newNick == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldNick == s.currentNick {
		s.currentNick = newNick
	}

	if u, ok := s.users[oldNick]; ok {
		s.users[newNick] = u
		delete(s.users, oldNick)
	}
	for _, r := range s.rooms {
		if m, ok := r.Members[oldNick]; ok {
			r.Members[newNick] = m
			delete(r.Members, oldNick)
		}
	}
}

// parametricModes are the channel modes that consume a parameter.
var parametricModes = map[byte]bool{'o': true, 'v': true, 'b': true, 'k': true, 'l': true}

func (s *Session) handleMode(l wire.Line) {
	if len(l.Params) < 2 {
		return
	}
	room := l.Params[0]
	modes := l.Params[1]
	args := l.Params[2:]

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[strings.ToLower(room)]
	if !ok {
		return
	}

	adding := true
	argIdx := 0
	for i := 0; i < len(modes); i++ {
		c := modes[i]
		switch c {
		case '+':
			adding = true
			continue
		case '-':
			adding = false
			continue
		}

		var param string
		if parametricModes[c] && argIdx < len(args) {
			param = args[argIdx]
			argIdx++
		}

		switch c {
		case 'o':
			if m, ok := r.Members[param]; ok {
				m.Op = adding
			}
		case 'v':
			if m, ok := r.Members[param]; ok {
				m.Voice = adding
			}
		default:
			// b, k, l, and any other channel mode: tracked only enough
			// to consume their parameter; the value itself is not kept.
		}
	}
}

func (s *Session) handleNames(l wire.Line) {
	if len(l.Params) < 3 || l.Trailing == "" {
		return
	}
	room := l.Params[2]

	nicks := strings.Fields(l.Trailing)

	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.roomLocked(room)
	for _, n := range nicks {
		op, voice := false, false
		for len(n) > 0 && strings.ContainsRune("@+%~&!", rune(n[0])) {
			switch n[0] {
			case '@':
				op = true
			case '+':
				voice = true
			}
			n = n[1:]
		}
		if n == "" {
			continue
		}
		r.Members[n] = &Member{Op: op, Voice: voice}
	}
}

func (s *Session) handleEndOfNames(l wire.Line) {
	if len(l.Params) < 2 {
		return
	}
	room := l.Params[1]
	s.writer.Raw("WHO " + room + " %tnuhiraf")
}

// handleWho parses numeric 352:
// <channel> <user> <host> <server> <nick> <H|G>[*][@|+] :<hopcount> <realname>
func (s *Session) handleWho(l wire.Line) {
	params := l.AllParams()
	if len(params) < 8 {
		return
	}
	room := params[0]
	ident := params[1]
	host := params[2]
	nick := params[4]
	status := params[5]
	realname := strings.Join(params[7:], " ")

	away := strings.Contains(status, "G")
	oper := strings.Contains(status, "*")
	op := strings.Contains(status, "@")
	voice := strings.Contains(status, "+")

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[nick]
	if !ok {
		u = &User{}
		s.users[nick] = u
	}
	u.Ident = ident
	u.Host = host
	u.Realname = realname
	u.Away = away
	u.Oper = oper

	if r, ok := s.rooms[strings.ToLower(room)]; ok {
		m, ok := r.Members[nick]
		if !ok {
			m = &Member{}
			r.Members[nick] = m
		}
		m.Op = op
		m.Voice = voice
	}
}

// handleWhox parses numeric 354 for format %tnuhiraf:
// <token> <ident> <host> <ip> <nick> <flags> <account> :<realname>
func (s *Session) handleWhox(l wire.Line) {
	params := l.AllParams()
	if len(params) < 8 {
		return
	}
	ident := params[1]
	host := params[2]
	ip := params[3]
	nick := params[4]
	flags := params[5]
	account := params[6]
	realname := strings.Join(params[7:], " ")

	if account == "0" {
		account = ""
	}

	away := strings.Contains(flags, "G")
	oper := strings.Contains(flags, "*")
	op := strings.Contains(flags, "@")
	voice := strings.Contains(flags, "+")

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[nick]
	if !ok {
		u = &User{}
		s.users[nick] = u
	}
	u.Ident = ident
	u.Host = host
	u.IP = ip
	u.Account = account
	u.Realname = realname
	u.Away = away
	u.Oper = oper

	for _, r := range s.rooms {
		if m, ok := r.Members[nick]; ok {
			m.Op = op
			m.Voice = voice
		}
	}
}

func (s *Session) handleInvite(l wire.Line) {
	if len(l.Params) == 0 || l.Trailing == "" {
		return
	}
	target := l.Params[0]
	room := l.Trailing
	if target != s.currentNick {
		return
	}

	for _, rj := range s.cfg.Rooms {
		if !strings.EqualFold(rj.Name, room) {
			continue
		}
		if rj.Key != "" {
			s.writer.Raw("JOIN " + room + " " + rj.Key)
		} else {
			s.writer.Raw("JOIN " + room)
		}
		return
	}
}

func (s *Session) handleKick(l wire.Line, by string) {
	if len(l.Params) < 2 {
		return
	}
	room := l.Params[0]
	target := l.Params[1]
	reason := l.Trailing

	s.mu.Lock()
	r, ok := s.rooms[strings.ToLower(room)]
	isSelf := target == s.currentNick
	if ok {
		delete(r.Members, target)
	}
	if isSelf {
		delete(s.rooms, strings.ToLower(room))
	}
	s.mu.Unlock()

	if isSelf {
		s.refreshRoomsGauge()
		if s.handlers.OnKickedSelf != nil {
			s.handlers.OnKickedSelf(room, by, reason)
		}
	}
}
