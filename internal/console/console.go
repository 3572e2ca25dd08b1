package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"webchat_home/native/internal/domain"

	"github.com/rs/zerolog/log"
)

const lookupTimeout = 5 * time.Second

// Chatter sends chat traffic on behalf of the user.
type Chatter interface {
	Send(conv domain.Conversation, content string) error
	Typing(conv domain.Conversation) error
}

// Config holds the collaborators of a Console. Call intents and chat are
// attached later with Bind.
type Config struct {
	Self domain.PeerID
	Out  io.Writer
	// Directory resolves display names. Optional.
	Directory domain.Directory
	// Render consumes a remote stream until it ends. Optional.
	Render func(stream domain.RemoteStream)
}

// Console is the terminal front end. It renders call and chat events as
// lines on Out and turns input lines into call intents and chat sends.
// It implements domain.Presenter and chat.Listener.
type Console struct {
	self   domain.PeerID
	calls  domain.CallIntents
	chat   Chatter
	dir    domain.Directory
	render func(stream domain.RemoteStream)

	outMu sync.Mutex
	out   io.Writer

	mu    sync.Mutex
	names map[domain.PeerID]string
	ctx   context.Context
	muted bool
}

// New creates a Console.
func New(cfg Config) *Console {
	return &Console{
		self:   cfg.Self,
		dir:    cfg.Directory,
		render: cfg.Render,
		out:    cfg.Out,
		names:  make(map[domain.PeerID]string),
		ctx:    context.Background(),
	}
}

// Bind completes the circular dependency between the console and the
// components it drives. It must be called before Run.
func (c *Console) Bind(calls domain.CallIntents, chat Chatter) {
	c.calls = calls
	c.chat = chat
}

// Run reads commands from in until quit, end of input or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	c.printf("connected as %s. type 'help' for commands.", c.self)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := c.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one input line. It reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		c.printf("%v", err)
		return false
	}

	switch cmd.Verb {
	case "":
	case "call":
		c.calls.Initiate(cmd.Peer, cmd.Kind)
	case "accept":
		c.calls.Accept()
	case "decline":
		c.calls.Decline()
	case "end":
		c.calls.End()
	case "mute":
		c.calls.ToggleMute()
	case "video":
		c.calls.ToggleVideo()
	case "msg":
		c.report(c.chat.Send(domain.Direct(cmd.Peer), cmd.Text))
	case "gmsg":
		c.report(c.chat.Send(domain.Group(cmd.Group), cmd.Text))
	case "typing":
		c.report(c.chat.Typing(domain.Direct(cmd.Peer)))
	case "status":
		snap, ok := c.calls.Current(ctx)
		if !ok {
			c.printf("no active call")
			return false
		}
		c.printf("%s %s call with %s: %s%s", snap.Direction, snap.MediaKind, c.name(snap.PeerID), snap.State, posture(snap))
	case "help":
		c.printf("%s", usage)
	case "quit":
		c.calls.End()
		return true
	}
	if cmd.Verb != "mute" {
		c.remindMuted()
	}
	return false
}

// remindMuted repeats the mute notice while the call is muted.
func (c *Console) remindMuted() {
	c.mu.Lock()
	muted := c.muted
	c.mu.Unlock()
	if muted {
		c.printf("you are muted. 'mute' to talk")
	}
}

func (c *Console) report(err error) {
	if err != nil {
		c.printf("not sent: %v", err)
	}
}

func (c *Console) Ringing(peer domain.PeerID, kind domain.MediaKind) {
	c.printf("incoming %s call from %s. 'accept' or 'decline'", kind, c.name(peer))
}

func (c *Console) StateChanged(snap domain.Snapshot) {
	switch snap.State {
	case domain.StateOutgoingRinging:
		c.printf("calling %s...", c.name(snap.PeerID))
	case domain.StateNegotiating:
		c.printf("connecting %s call with %s...%s", snap.MediaKind, c.name(snap.PeerID), posture(snap))
	case domain.StateConnected:
		c.printf("in call with %s%s", c.name(snap.PeerID), posture(snap))
	}
}

func (c *Console) RemoteStreamAvailable(stream domain.RemoteStream) {
	log.Debug().Str("module", "console").Str("track", stream.ID()).Str("kind", string(stream.Kind())).Msg("remote stream")
	if c.render != nil {
		go c.render(stream)
	}
}

func (c *Console) MuteChanged(muted bool) {
	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()

	if muted {
		c.printf("microphone muted")
	} else {
		c.printf("microphone live")
	}
}

func (c *Console) VideoChanged(enabled bool) {
	if enabled {
		c.printf("camera on")
	} else {
		c.printf("camera off")
	}
}

func (c *Console) Ended(reason domain.EndReason, err error) {
	c.mu.Lock()
	c.muted = false
	c.mu.Unlock()

	msg := endMessages[reason]
	if msg == "" {
		msg = "call ended (" + string(reason) + ")"
	}
	if err != nil && reason != domain.ReasonHangup {
		msg += ": " + err.Error()
	}
	c.printf("%s", msg)
}

var endMessages = map[domain.EndReason]string{
	domain.ReasonHangup:            "call ended",
	domain.ReasonRemoteEnded:       "the other side hung up",
	domain.ReasonDeclined:          "call declined",
	domain.ReasonRejected:          "call rejected",
	domain.ReasonNoAnswer:          "missed call",
	domain.ReasonMediaUnavailable:  "camera or microphone unavailable",
	domain.ReasonNegotiationFailed: "call setup failed",
	domain.ReasonConnectionLost:    "call connection lost",
	domain.ReasonTransportDown:     "call dropped: server connection lost",
	domain.ReasonShutdown:          "call ended on exit",
}

func (c *Console) MessageReceived(msg domain.Message) {
	if msg.SenderID == c.self {
		return
	}
	conv := msg.Conversation(c.self)
	if conv.IsGroup() {
		c.printf("[group %s] %s: %s", conv.Group, c.name(msg.SenderID), msg.Content)
		return
	}
	c.printf("%s: %s", c.name(msg.SenderID), msg.Content)
}

func (c *Console) TypingChanged(notice domain.TypingNotice) {
	if !notice.Typing || notice.UserID == c.self {
		return
	}
	c.printf("%s is typing...", c.name(notice.UserID))
}

func (c *Console) ServerError(message string) {
	c.printf("server error: %s", message)
}

// ConnectivityChanged prints the connection banner.
func (c *Console) ConnectivityChanged(up bool) {
	if up {
		c.printf("connected to server")
	} else {
		c.printf("connection lost, reconnecting...")
	}
}

// name returns the cached display name of peer, or its id while a lookup
// is in flight.
func (c *Console) name(peer domain.PeerID) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.names[peer]; ok {
		return n
	}
	c.names[peer] = peer.String()
	if c.dir != nil {
		go c.lookup(c.ctx, peer)
	}
	return peer.String()
}

func (c *Console) lookup(ctx context.Context, peer domain.PeerID) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	user, err := c.dir.FetchUser(ctx, peer)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Debug().Err(err).Str("module", "console").Str("peer", peer.String()).Msg("user lookup failed")
		}
		return
	}
	if user.Username == "" {
		return
	}

	c.mu.Lock()
	c.names[peer] = fmt.Sprintf("%s (%s)", user.Username, peer)
	c.mu.Unlock()
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func posture(snap domain.Snapshot) string {
	var flags []string
	if snap.LocalMuted {
		flags = append(flags, "muted")
	}
	if snap.MediaKind == domain.MediaVideo && !snap.LocalVideoEnabled {
		flags = append(flags, "camera off")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}
