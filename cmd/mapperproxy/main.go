package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/drake/mapperproxy/config"
	"github.com/drake/mapperproxy/debug"
	"github.com/drake/mapperproxy/event"
	"github.com/drake/mapperproxy/mapper"
	"github.com/drake/mapperproxy/proxy"
	"github.com/drake/mapperproxy/scripting"
	"github.com/drake/mapperproxy/timer"
	"github.com/drake/mapperproxy/world"
)

func main() {
	dataDir, err := config.DataDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	store := config.Load(nil, dataDir)
	cfg := store.Get()

	// Flags override the config file for this run only.
	localHost := flag.String("local-host", cfg.LocalHost, "Interface to listen on for the client")
	localPort := flag.Int("local-port", cfg.LocalPort, "Port to listen on for the client")
	remoteHost := flag.String("remote-host", cfg.RemoteHost, "Game server host")
	remotePort := flag.Int("remote-port", cfg.RemotePort, "Game server port")
	noTLS := flag.Bool("no-tls", cfg.NoTLS, "Connect to the game without TLS")
	format := flag.String("format", cfg.OutputFormat, "Client output format: normal, tintin or raw")
	promptTerminator := flag.String("prompt-terminator", cfg.PromptTerminator,
		"String appended to prompts instead of IAC GA")
	gagPrompts := flag.Bool("gag-prompts", cfg.GagPrompts, "Suppress prompt redraws after mapper output")
	findFormat := flag.String("find-format", cfg.FindFormat, "Row format for the find commands")
	charset := flag.String("charset", cfg.Charset, "Charset to negotiate with the game: us-ascii, latin-1 or utf-8")
	emulateOffline := flag.Bool("emulate-offline", false, "Explore the map without a game connection")
	mapDir := flag.String("map-dir", cfg.MapDir, "Directory holding the map databases")
	script := flag.String("script", "", "Lua script to load at startup")
	logLevel := flag.String("log-level", "info", "Log level: trace, debug, info, warn or error")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "mapperproxy",
		Level: hclog.LevelFromString(*logLevel),
	})

	if *mapDir == "" {
		*mapDir = dataDir
	}

	// Event bus - both pumps and the timer service produce, the mapper is
	// the single consumer.
	bus := event.NewBus()

	// World messages surface through the mapper so the client's prompt is
	// redrawn; the few emitted while loading go to the log instead.
	var m *mapper.Mapper
	worldOut := func(msg string) {
		if m != nil {
			m.SendClient(msg)
			return
		}
		logger.Info(msg)
	}
	w := world.New(logger.Named("world"), worldOut, world.DefaultPaths(*mapDir))

	engine := scripting.New(logger.Named("script"))
	defer engine.Close()
	timers := timer.NewService(logger.Named("timer"), bus.Post)
	defer timers.Stop()

	p := proxy.New(proxy.Options{
		Logger:           logger.Named("proxy"),
		Bus:              bus,
		LocalHost:        *localHost,
		LocalPort:        *localPort,
		RemoteHost:       *remoteHost,
		RemotePort:       *remotePort,
		NoTLS:            *noTLS,
		Format:           *format,
		PromptTerminator: terminatorBytes(*promptTerminator),
		Charset:          *charset,
		Editor:           cfg.Editor,
		Pager:            cfg.Pager,
		IsCommand: func(word string) bool {
			return m != nil && m.IsCommand(word)
		},
		IsEmulatingOffline: *emulateOffline,
		StatusDir:          dataDir,
	})

	m = mapper.New(mapper.Options{
		Logger:           logger.Named("mapper"),
		Bus:              bus,
		World:            w,
		SendClient:       p.SendClient,
		SendServer:       p.SendServer,
		OutputFormat:     *format,
		PromptTerminator: terminatorBytes(*promptTerminator),
		GagPrompts:       *gagPrompts,
		FindFormat:       *findFormat,
		AutoMapping:      cfg.AutoMapping,
		AutoUpdateRooms:  cfg.AutoUpdateRooms,
		OnAutoUpdateChange: func(value bool) {
			if err := store.Update(func(c *config.Config) { c.AutoUpdateRooms = value }); err != nil {
				logger.Error("saving config", "error", err)
			}
		},
		IsEmulatingOffline: *emulateOffline,
		Script:             engine,
		Timers:             timers,
	})

	if *script != "" {
		if err := engine.Load(*script); err != nil {
			logger.Error("loading startup script", "path", *script, "error", err)
		}
	}

	mapperDone := make(chan struct{})
	go func() {
		defer close(mapperDone)
		m.Run()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if debug.Enabled() {
		go debug.Monitor(ctx, logger.Named("debug"), 30*time.Second, func() debug.Stats {
			// The room count is read without synchronization; a stale
			// value is fine for a periodic log line.
			return debug.Stats{
				BusDepth:    bus.Depth(),
				ClientBytes: p.ClientBytes(),
				ServerBytes: p.ServerBytes(),
				MPISessions: p.Pipeline().MPI().Sessions(),
				Rooms:       len(w.Rooms),
			}
		})
	}

	if err := p.Run(ctx); err != nil {
		logger.Error("proxy stopped", "error", err)
	}
	<-mapperDone
}

// terminatorBytes turns the flag value into wire bytes; "" keeps IAC GA.
func terminatorBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
