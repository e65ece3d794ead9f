package session

import (
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// EventKind enumerates the inbound messages the state machine reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventWelcome
	EventNickInUse
	EventJoin
	EventKick
	EventPing
	EventPong
	EventPrivmsg
	EventError
	EventJoinRefused
)

func (k EventKind) String() string {
	switch k {
	case EventWelcome:
		return "welcome"
	case EventNickInUse:
		return "nick-in-use"
	case EventJoin:
		return "join"
	case EventKick:
		return "kick"
	case EventPing:
		return "ping"
	case EventPong:
		return "pong"
	case EventPrivmsg:
		return "privmsg"
	case EventError:
		return "error"
	case EventJoinRefused:
		return "join-refused"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound line.
//
//	Welcome: Subject is the nick the server registered
//	Join:    Source joined Target
//	Kick:    Subject was kicked from Target by Source
//	Ping:    Text is the token to echo
//	Privmsg: Source said Text to Target
//	Error:   Text is the server's reason
//	JoinRefused: joining Target was denied for Text
type Event struct {
	Kind    EventKind
	Command string
	Source  string
	Target  string
	Subject string
	Text    string
}

// ParseEvent decodes one IRC line.
func ParseEvent(line string) (Event, error) {
	msg, err := ircmsg.ParseLine(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return Event{}, fmt.Errorf("parse irc line: %w", err)
	}

	ev := Event{
		Command: strings.ToUpper(msg.Command),
		Source:  nickOf(msg.Source),
	}
	param := func(i int) string {
		if i >= 0 && i < len(msg.Params) {
			return msg.Params[i]
		}
		return ""
	}

	switch ev.Command {
	case "001":
		ev.Kind = EventWelcome
		ev.Subject = param(0)
	case "433":
		ev.Kind = EventNickInUse
		ev.Subject = param(1)
	case "JOIN":
		ev.Kind = EventJoin
		ev.Target = param(0)
	case "KICK":
		ev.Kind = EventKick
		ev.Target = param(0)
		ev.Subject = param(1)
		ev.Text = param(2)
	case "PING":
		ev.Kind = EventPing
		ev.Text = param(0)
	case "PONG":
		ev.Kind = EventPong
		ev.Text = param(len(msg.Params) - 1)
	case "PRIVMSG":
		ev.Kind = EventPrivmsg
		ev.Target = param(0)
		ev.Text = param(1)
	case "ERROR":
		ev.Kind = EventError
		ev.Text = param(0)
	// ERR_NOSUCHCHANNEL, ERR_TOOMANYCHANNELS, ERR_CHANNELISFULL,
	// ERR_INVITEONLYCHAN, ERR_BANNEDFROMCHAN, ERR_BADCHANNELKEY, ERR_NEEDREGGEDNICK
	case "403", "405", "471", "473", "474", "475", "477":
		ev.Kind = EventJoinRefused
		ev.Target = param(1)
		ev.Text = param(len(msg.Params) - 1)
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}

// nickOf strips the user@host part of a nick!user@host source.
func nickOf(source string) string {
	if i := strings.IndexByte(source, '!'); i >= 0 {
		return source[:i]
	}
	return source
}

func isChannel(target string) bool {
	return strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&")
}

// sameName compares nicks or channel names with ASCII case folding.
func sameName(a, b string) bool {
	return strings.EqualFold(a, b)
}
