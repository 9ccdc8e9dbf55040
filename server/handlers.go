package server

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ipchat/history"
)

const menuText = `=== COMMAND MENU ===
/menu              : Show this menu
/users             : List online users
/groups            : List all groups
|<username>        : Open chat with user
|<groupId>         : View group chat history
/<username> <msg>  : Send private message
/<groupId> <msg>   : Send message to group
/exit              : Logout
====================`

// dispatch routes one command line. It returns true when the session should
// close.
func (s *Server) dispatch(sess *Session, line string) bool {
	switch {
	case line == "/exit":
		return true
	case line == "/menu":
		s.showMenu(sess)
	case line == "/users":
		s.showUsers(sess)
	case line == "/groups":
		s.showGroups(sess)
	case strings.HasPrefix(line, "/"):
		s.handleSend(sess, line)
	case strings.HasPrefix(line, "|"):
		s.handleHistory(sess, line)
	default:
		s.log.Debug("broadcasting", zap.String("sender", sess.Username))
		s.router.Broadcast(sess.Username, line)
	}
	return false
}

func (s *Server) showMenu(sess *Session) {
	sess.Send(menuText)
}

func (s *Server) showUsers(sess *Session) {
	var names []string
	for _, online := range s.registry.Snapshot() {
		names = append(names, online.Username)
	}
	sess.Send("[Server] Online users: " + strings.Join(names, ", "))
}

func (s *Server) showGroups(sess *Session) {
	groups := s.dir.Groups()
	if len(groups) == 0 {
		sess.Send("[Server] No groups configured.")
		return
	}
	sess.Send("[Server] Groups:")
	for _, g := range groups {
		item := fmt.Sprintf("  %s (%s)", g.ID, g.Name)
		if s.dir.IsMember(g.ID, sess.Username) {
			item += " [member]"
		}
		sess.Send(item)
	}
}

// handleSend handles "/<name> <text>": the name resolves as a group id
// first, then as an online username.
func (s *Server) handleSend(sess *Session, line string) {
	target, text, _ := strings.Cut(line[1:], " ")
	text = strings.TrimSpace(text)

	switch target {
	case "menu", "users", "groups", "exit":
		sess.Send("[Server] Invalid command format.")
		return
	}
	if text == "" {
		return
	}

	if _, ok := s.dir.Group(target); ok {
		if !s.dir.IsMember(target, sess.Username) {
			s.log.Debug("group send rejected",
				zap.String("sender", sess.Username),
				zap.String("group", target))
			sess.Send("[Server] You are not a member of this group.")
			return
		}
		s.router.SendGroup(sess.Username, target, text)
		return
	}

	// The target may disconnect between resolution and delivery; the router
	// reports that the same way as an unknown name.
	if err := s.router.SendPrivate(sess.Username, target, text); err != nil {
		if errors.Is(err, ErrTargetOffline) {
			sess.Send("[Server] Invalid target.")
		}
	}
}

// handleHistory handles "|<name>": replay the conversation log for the name,
// resolved as a group key when the group exists, else as the pair key with
// the requesting user.
func (s *Server) handleHistory(sess *Session, line string) {
	target := strings.TrimSpace(line[1:])
	if target == "" {
		sess.Send("[Server] Invalid target.")
		return
	}

	var key history.Key
	if _, ok := s.dir.Group(target); ok {
		key = history.GroupKey(target)
	} else {
		key = history.PairKey(sess.Username, target)
	}

	lines, err := s.store.ReadAll(key)
	if err != nil {
		s.log.Error("history read failed",
			zap.String("user", sess.Username),
			zap.String("target", target),
			zap.Error(err))
		sess.Send("[Server] Unable to read history.")
		return
	}

	switch {
	case lines == nil:
		sess.Send(fmt.Sprintf("[Server] No conversation history with %s.", target))
	case len(lines) == 0:
		sess.Send("No messages found.")
	default:
		for _, record := range lines {
			if err := sess.Send(record); err != nil {
				s.log.Warn("history replay aborted",
					zap.String("user", sess.Username),
					zap.Error(err))
				return
			}
		}
	}
}
