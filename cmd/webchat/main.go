package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"webchat_home/native/internal/api"
	"webchat_home/native/internal/call"
	"webchat_home/native/internal/chat"
	"webchat_home/native/internal/config"
	"webchat_home/native/internal/console"
	"webchat_home/native/internal/domain"
	sigclient "webchat_home/native/internal/signal"
	"webchat_home/native/internal/webrtc"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const helpText = `webchat - Terminal chat client with peer-to-peer audio/video calls

Usage:
  webchat [options]

Commands are read from stdin, one per line. Type 'help' once connected.
When WEBCHAT_VIDEO_OUT is "-" the received H264 video is written to stdout
and the console moves to stderr.

Environment Variables (required):
  WEBCHAT_SERVER_URL  Chat server base URL, e.g. http://localhost:8000
  WEBCHAT_USER_ID     Your user id on that server

Environment Variables (optional):
  WEBCHAT_RECONNECT_DELAY  Delay between reconnect attempts (default 3s)
  WEBCHAT_PING_INTERVAL    Websocket keepalive interval (default 30s)
  WEBCHAT_ICE_SERVERS      Comma-separated STUN/TURN URLs
  WEBCHAT_LOG_LEVEL        trace, debug, info, warn or error (default info)
  WEBCHAT_VIDEO_OUT        File for received H264 video, "-" for stdout
  WEBCHAT_CONFIG           Optional YAML/JSON/TOML config file

Examples:
  # Chat and call as user 7
  WEBCHAT_SERVER_URL=http://localhost:8000 WEBCHAT_USER_ID=7 webchat

  # Watch the remote camera of a video call
  WEBCHAT_VIDEO_OUT=- webchat | ffplay -f h264 -

Options:
  -h, --help  Show this help message
`

const presenceTimeout = 5 * time.Second

// sendFunc adapts a function to domain.FrameSender.
type sendFunc func(frame []byte) error

func (f sendFunc) Send(frame []byte) error { return f(frame) }

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("parse log level")
	}
	zerolog.SetGlobalLevel(level)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("exit")
	}
	log.Info().Str("module", "main").Msg("done")
}

func run(cfg *config.Config) error {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	self := domain.PeerID(cfg.UserID)

	apiClient, err := api.NewClient(cfg.ServerURL)
	if err != nil {
		return err
	}

	factory, err := webrtc.NewFactory(webrtc.Config{ICEServers: cfg.ICEServers})
	if err != nil {
		return err
	}

	videoOut, consoleOut, closeVideo, err := openOutputs(cfg.VideoOut)
	if err != nil {
		return err
	}
	defer closeVideo()
	sink := webrtc.NewSink(videoOut)

	con := console.New(console.Config{
		Self:      self,
		Out:       consoleOut,
		Directory: apiClient,
		Render:    sink.Render,
	})

	// The client is created last; everything else sends through it.
	var client *sigclient.Client
	send := sendFunc(func(frame []byte) error { return client.Send(frame) })

	chatSvc := chat.NewService(send, con)
	machine := call.New(call.Config{
		Self:        self,
		Signaler:    sigclient.NewOutbox(send),
		Negotiators: factory,
		Presenter:   con,
	})
	con.Bind(machine, chatSvc)

	presence := func(up bool) {
		go setPresence(apiClient, self, up)
	}
	router := sigclient.NewRouter(machine, chatSvc, con.ConnectivityChanged, presence)

	client, err = sigclient.NewClient(sigclient.Config{
		ServerURL:      cfg.ServerURL,
		UserID:         self,
		ReconnectDelay: cfg.ReconnectDelay,
		PingInterval:   cfg.PingInterval,
	}, router)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return machine.Run(gctx)
	})

	if err := client.Connect(ctx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("signal connect: %w", err)
	}

	g.Go(func() error {
		defer cancel()
		return con.Run(gctx, os.Stdin)
	})

	err = g.Wait()
	log.Info().Str("module", "main").Msg("shutting down")

	setPresence(apiClient, self, false)
	client.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func setPresence(apiClient *api.Client, self domain.PeerID, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := apiClient.SetOnlineStatus(ctx, self, online); err != nil {
		log.Warn().Err(err).Str("module", "main").Bool("online", online).Msg("presence update failed")
	}
}

// openOutputs returns the video writer (nil to discard), the console
// writer and a close function for the video file.
func openOutputs(videoOut string) (io.Writer, io.Writer, func(), error) {
	switch videoOut {
	case "":
		return nil, os.Stdout, func() {}, nil
	case "-":
		return os.Stdout, os.Stderr, func() {}, nil
	}

	f, err := os.Create(videoOut)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open video output: %w", err)
	}
	log.Info().Str("module", "main").Str("path", videoOut).Msg("writing received video")
	return f, os.Stdout, func() { _ = f.Close() }, nil
}
