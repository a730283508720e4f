// Package proxy owns the two sockets and the pump goroutines between the
// player's client and MUME. It feeds the decode pipeline, diverts mapper
// commands onto the event bus, and forwards everything else untouched.
package proxy

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
	"golang.org/x/sync/errgroup"

	"github.com/drake/mapperproxy/event"
	"github.com/drake/mapperproxy/network"
	"github.com/drake/mapperproxy/protocol"
)

// statusFileName is touched once the listener is bound, so wrapper scripts
// know when it is safe to start the player's client.
const statusFileName = "mapper_ready.ignore"

const readBufferSize = 4096

// clientReadTimeout keeps the client pump responsive to shutdown.
const clientReadTimeout = time.Second

// initialOutput is how every MUME login screen starts. Seeing it means the
// connection succeeded and the game is ready for our configuration.
var initialOutput = []byte{
	network.IAC, network.DO, network.OptTerminalType,
	network.IAC, network.DO, network.OptNAWS,
}

// initialConfiguration identifies the proxy for MPI remote editing, turns
// on XML mode 3 with gratuitous tags, and asks for IAC GA after prompts.
var initialConfiguration = [][]byte{
	append(append([]byte{}, protocol.MPIInit...), 'I', '\n'),
	append(append([]byte{}, protocol.MPIInit...), 'X', '2', '\n', '3', 'G', '\n'),
	append(append([]byte{}, protocol.MPIInit...), 'P', '2', '\n', 'G', '\n'),
}

// Options configures a Proxy.
type Options struct {
	Logger hclog.Logger
	Bus    *event.Bus

	LocalHost  string
	LocalPort  int
	RemoteHost string
	RemotePort int
	NoTLS      bool

	Format           string
	PromptTerminator []byte
	Charset          string

	// Editor and Pager override TINTINEDITOR and TINTINPAGER for MPI
	// remote editing; "" keeps the environment defaults.
	Editor string
	Pager  string

	// IsCommand decides whether the first word of a client line belongs to
	// the mapper. In offline emulation every line does.
	IsCommand          func(string) bool
	IsEmulatingOffline bool

	// StatusDir is where the ready file is touched; "" for the working dir.
	StatusDir string
}

// Proxy runs one client session against one server connection.
type Proxy struct {
	logger hclog.Logger
	opts   Options
	bus    *event.Bus

	pipeline *protocol.Pipeline
	filter   *network.Filter

	clientMu sync.Mutex
	client   net.Conn
	serverMu sync.Mutex
	server   net.Conn

	shutdownOnce sync.Once

	clientBytes atomic.Uint64
	serverBytes atomic.Uint64
}

// New creates a Proxy. Run does the listening and pumping.
func New(opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.LocalHost == "" {
		opts.LocalHost = "127.0.0.1"
	}
	if opts.LocalPort == 0 {
		opts.LocalPort = 4000
	}
	if opts.RemoteHost == "" {
		opts.RemoteHost = "mume.org"
	}
	if opts.RemotePort == 0 {
		opts.RemotePort = 4242
	}
	if opts.Charset == "" {
		opts.Charset = "us-ascii"
	}
	if opts.IsCommand == nil {
		opts.IsCommand = func(string) bool { return false }
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	p := &Proxy{
		logger: logger,
		opts:   opts,
		bus:    opts.Bus,
		filter: network.NewFilter(),
	}
	p.pipeline = protocol.NewPipeline(logger, opts.Format, opts.PromptTerminator, opts.Bus, p.SendServer)
	if opts.Editor != "" {
		p.pipeline.MPI().Editor = opts.Editor
	}
	if opts.Pager != "" {
		p.pipeline.MPI().Pager = opts.Pager
	}
	return p
}

// Pipeline exposes the decode pipeline, for the debug monitor.
func (p *Proxy) Pipeline() *protocol.Pipeline {
	return p.pipeline
}

// ClientBytes returns the total bytes read from the player's client.
func (p *Proxy) ClientBytes() uint64 {
	return p.clientBytes.Load()
}

// ServerBytes returns the total bytes read from the game server.
func (p *Proxy) ServerBytes() uint64 {
	return p.serverBytes.Load()
}

// SendClient writes to the player's client. Safe from any goroutine; bytes
// sent before a client connects are dropped.
func (p *Proxy) SendClient(data []byte) {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()
	if p.client == nil {
		return
	}
	if _, err := p.client.Write(data); err != nil {
		p.logger.Debug("client write failed", "error", err)
	}
}

// SendServer writes to the game server. Safe from any goroutine; in offline
// emulation there is no server and the bytes are dropped.
func (p *Proxy) SendServer(data []byte) {
	p.serverMu.Lock()
	defer p.serverMu.Unlock()
	if p.server == nil {
		return
	}
	if _, err := p.server.Write(data); err != nil {
		p.logger.Debug("server write failed", "error", err)
	}
}

// Run binds the listener, accepts one client, connects to the game and
// pumps both directions until either side closes or ctx is canceled. The
// bus receives a Shutdown item before Run returns.
func (p *Proxy) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.opts.LocalHost, p.opts.LocalPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	statusFile := filepath.Join(p.opts.StatusDir, statusFileName)
	if err := touch(statusFile); err != nil {
		p.logger.Warn("cannot create status file", "path", statusFile, "error", err)
	}
	defer os.Remove(statusFile)
	p.logger.Info("listening for the client", "address", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	client, err := listener.Accept()
	listener.Close()
	if err != nil {
		return fmt.Errorf("accepting client: %w", err)
	}
	session, _ := uuid.GenerateUUID()
	logger := p.logger.With("session", session)
	logger.Info("client connected", "remote", client.RemoteAddr())
	configureConn(client)
	p.clientMu.Lock()
	p.client = client
	p.clientMu.Unlock()

	var server net.Conn
	if !p.opts.IsEmulatingOffline {
		server, err = p.dialServer()
		if err != nil {
			p.SendClient([]byte("\r\nError: server connection timed out!\r\n\r\n"))
			client.Close()
			return err
		}
		logger.Info("connected to the game", "remote", server.RemoteAddr())
		p.serverMu.Lock()
		p.server = server
		p.serverMu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.clientPump(groupCtx, logger.Named("client"), client) })
	if server != nil {
		group.Go(func() error { return p.serverPump(groupCtx, logger.Named("server"), server) })
	}
	group.Go(func() error {
		<-groupCtx.Done()
		client.Close()
		if server != nil {
			server.Close()
		}
		return nil
	})
	err = group.Wait()

	var result *multierror.Error
	if err != nil && err != context.Canceled {
		result = multierror.Append(result, err)
	}
	if err := p.pipeline.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	p.postShutdown()
	logger.Info("session closed")
	return result.ErrorOrNil()
}

func (p *Proxy) postShutdown() {
	p.shutdownOnce.Do(func() {
		if p.bus != nil {
			p.bus.Post(event.Shutdown())
		}
	})
}

func (p *Proxy) dialServer() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", p.opts.RemoteHost, p.opts.RemotePort)
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	configureConn(conn)
	if p.opts.NoTLS {
		return conn, nil
	}
	// The certificate is always for mume.org, whatever host was dialed.
	tlsConn := tls.Client(conn, &tls.Config{ServerName: "mume.org"})
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
	}
	return tlsConn, nil
}

func configureConn(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetNoDelay(true)
	}
}

// clientPump reads the player's client, diverting mapper commands onto the
// bus and forwarding everything else to the server raw.
func (p *Proxy) clientPump(ctx context.Context, logger hclog.Logger, client net.Conn) error {
	defer p.postShutdown()
	buf := make([]byte, readBufferSize)
	for {
		client.SetReadDeadline(time.Now().Add(clientReadTimeout))
		n, err := client.Read(buf)
		if n > 0 {
			p.clientBytes.Add(uint64(n))
			p.handleClientData(buf[:n])
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			logger.Debug("client read ended", "error", err)
			return nil
		}
	}
}

// handleClientData decides forward-vs-divert per completed line. The filter
// holds back partial lines, so a command split across reads never leaks its
// first bytes to the server.
func (p *Proxy) handleClientData(data []byte) {
	negotiations, text := p.filter.Parse(data)
	if len(negotiations) > 0 {
		p.SendServer(negotiations)
	}
	for len(text) > 0 {
		i := bytes.IndexByte(text, '\n')
		line := text[:i+1]
		text = text[i+1:]
		p.handleClientLine(line)
	}
}

func (p *Proxy) handleClientLine(line []byte) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed != "" && (p.opts.IsEmulatingOffline || p.opts.IsCommand(firstWord(trimmed))) {
		p.bus.Post(event.UserData([]byte(trimmed)))
		return
	}
	p.SendServer(line)
}

func firstWord(s string) string {
	word, _, _ := strings.Cut(s, " ")
	return word
}

// serverPump reads the game server, answers the login handshake and drives
// the decode pipeline.
func (p *Proxy) serverPump(ctx context.Context, logger hclog.Logger, server net.Conn) error {
	defer p.postShutdown()
	buf := make([]byte, readBufferSize)
	seenInitialOutput := false
	for {
		n, err := server.Read(buf)
		if n > 0 {
			p.serverBytes.Add(uint64(n))
			data := buf[:n]
			if !seenInitialOutput && bytes.HasPrefix(data, initialOutput) {
				seenInitialOutput = true
				p.configureGame(logger)
			}
			p.SendClient(p.pipeline.Parse(data))
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			logger.Debug("server read ended", "error", err)
			return nil
		}
	}
}

// configureGame sends the MPI identification strings and opens charset
// negotiation once the login screen arrives.
func (p *Proxy) configureGame(logger hclog.Logger) {
	logger.Debug("game handshake detected, sending initial configuration")
	for _, item := range initialConfiguration {
		p.SendServer(item)
	}
	if data := p.pipeline.Telnet().StartCharset(p.opts.Charset); data != nil {
		p.SendServer(data)
	}
}

func touch(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}
