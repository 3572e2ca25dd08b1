package console

import (
	"errors"
	"fmt"
	"strings"

	"webchat_home/native/internal/domain"
)

// ErrUnknownCommand is returned by Parse for an unrecognised verb.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one parsed input line.
type Command struct {
	Verb  string
	Peer  domain.PeerID
	Group domain.GroupID
	Kind  domain.MediaKind
	Text  string
}

const usage = `commands:
  call <peer> [audio|video]  start a call (audio by default)
  accept                     answer the ringing call
  decline                    reject the ringing call
  end                        hang up
  mute                       toggle the microphone
  video                      toggle the camera
  msg <peer> <text>          send a direct message
  gmsg <group> <text>        send a group message
  typing <peer>              show a typing indicator to peer
  status                     show the current call
  help                       show this list
  quit                       exit`

// Parse splits an input line into a Command. Blank lines yield a zero
// Command and no error.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, nil
	}

	verb := strings.ToLower(fields[0])
	args := fields[1:]
	cmd := Command{Verb: verb}

	switch verb {
	case "call":
		if len(args) < 1 || len(args) > 2 {
			return Command{}, fmt.Errorf("usage: call <peer> [audio|video]")
		}
		cmd.Peer = domain.PeerID(args[0])
		cmd.Kind = domain.MediaAudio
		if len(args) == 2 {
			cmd.Kind = domain.MediaKind(strings.ToLower(args[1]))
			if !cmd.Kind.Valid() {
				return Command{}, fmt.Errorf("unknown call type %q", args[1])
			}
		}

	case "msg", "gmsg":
		if len(args) < 2 {
			return Command{}, fmt.Errorf("usage: %s <%s> <text>", verb, target(verb))
		}
		if verb == "msg" {
			cmd.Peer = domain.PeerID(args[0])
		} else {
			cmd.Group = domain.GroupID(args[0])
		}
		cmd.Text = restAfter(line, 2)

	case "typing":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: typing <peer>")
		}
		cmd.Peer = domain.PeerID(args[0])

	case "accept", "decline", "end", "mute", "video", "status", "help", "quit":
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", verb)
		}

	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return cmd, nil
}

func target(verb string) string {
	if verb == "gmsg" {
		return "group"
	}
	return "peer"
}

// restAfter returns line with its first n fields removed, keeping the
// spacing of what remains.
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = strings.TrimLeft(rest[idx:], " \t")
	}
	return rest
}
