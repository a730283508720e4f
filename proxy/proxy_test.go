package proxy

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drake/mapperproxy/event"
	"github.com/drake/mapperproxy/network"
)

// collector drains one end of a pipe so proxy writes never block.
type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func collect(conn net.Conn) *collector {
	c := &collector{}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				c.mu.Lock()
				c.buf.Write(buf[:n])
				c.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *collector) wait(t *testing.T, want []byte) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		data := append([]byte{}, c.buf.Bytes()...)
		c.mu.Unlock()
		if bytes.Contains(data, want) {
			return data
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Fatalf("never received %q, got %q", want, c.buf.Bytes())
	return nil
}

func newTestProxy(opts Options) *Proxy {
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	return New(opts)
}

func TestHandshakeSendsInitialConfiguration(t *testing.T) {
	p := newTestProxy(Options{})
	proxyServerEnd, gameEnd := net.Pipe()
	proxyClientEnd, playerEnd := net.Pipe()
	p.server = proxyServerEnd
	p.client = proxyClientEnd
	defer gameEnd.Close()
	defer playerEnd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.serverPump(ctx, p.logger, proxyServerEnd)

	fromProxy := collect(gameEnd)
	toPlayer := collect(playerEnd)

	banner := append(append([]byte{}, initialOutput...), []byte("\r\nWelcome to MUME!\r\n")...)
	_, err := gameEnd.Write(banner)
	require.NoError(t, err)

	sent := fromProxy.wait(t, []byte("~$#EP2\nG\n"))
	idx := bytes.Index(sent, []byte("~$#EI\n"))
	require.GreaterOrEqual(t, idx, 0)
	assert.Less(t, idx, bytes.Index(sent, []byte("~$#EX2\n3G\n")))
	assert.Contains(t, string(sent), string([]byte{network.IAC, network.WILL, network.OptCharset}))

	toPlayer.wait(t, []byte("Welcome to MUME!"))
}

func TestHandshakeOnlyOnce(t *testing.T) {
	p := newTestProxy(Options{})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd
	defer gameEnd.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.serverPump(ctx, p.logger, proxyServerEnd)
	fromProxy := collect(gameEnd)

	_, err := gameEnd.Write(initialOutput)
	require.NoError(t, err)
	fromProxy.wait(t, []byte("~$#EI\n"))

	_, err = gameEnd.Write(initialOutput)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	fromProxy.mu.Lock()
	count := bytes.Count(fromProxy.buf.Bytes(), []byte("~$#EI\n"))
	fromProxy.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestClientCommandDiversion(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{
		Bus:       bus,
		IsCommand: func(word string) bool { return word == "rinfo" },
	})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd
	defer gameEnd.Close()
	fromProxy := collect(gameEnd)

	p.handleClientData([]byte("rinfo 123\r\n"))
	select {
	case item := <-bus.Items():
		assert.Equal(t, event.KindUserData, item.Kind)
		assert.Equal(t, "rinfo 123", string(item.Data))
	case <-time.After(time.Second):
		t.Fatal("command was not diverted to the bus")
	}

	p.handleClientData([]byte("north\r\n"))
	fromProxy.wait(t, []byte("north\r\n"))
	select {
	case item := <-bus.Items():
		t.Fatalf("unexpected bus item: %+v", item)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOfflineDivertsEverything(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{Bus: bus, IsEmulatingOffline: true})

	p.handleClientData([]byte("north\r\n"))
	select {
	case item := <-bus.Items():
		assert.Equal(t, "north", string(item.Data))
	case <-time.After(time.Second):
		t.Fatal("offline input was not diverted")
	}
}

func TestCommandKeepsNegotiationsFlowing(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{
		Bus:       bus,
		IsCommand: func(word string) bool { return word == "vnum" },
	})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd
	defer gameEnd.Close()
	fromProxy := collect(gameEnd)

	data := append([]byte{network.IAC, network.WONT, network.OptEcho}, []byte("vnum\r\n")...)
	p.handleClientData(data)

	<-bus.Items()
	sent := fromProxy.wait(t, []byte{network.IAC, network.WONT, network.OptEcho})
	assert.NotContains(t, string(sent), "vnum")
}

func TestPartialLineHeldUntilComplete(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{
		Bus:       bus,
		IsCommand: func(word string) bool { return word == "run" },
	})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd
	defer gameEnd.Close()
	fromProxy := collect(gameEnd)

	// The command arrives split across two reads; the first fragment must
	// not reach the server ahead of the divert decision.
	p.handleClientData([]byte("ru"))
	time.Sleep(20 * time.Millisecond)
	fromProxy.mu.Lock()
	leaked := fromProxy.buf.Len()
	fromProxy.mu.Unlock()
	assert.Zero(t, leaked)

	p.handleClientData([]byte("n home\r\n"))
	select {
	case item := <-bus.Items():
		assert.Equal(t, event.KindUserData, item.Kind)
		assert.Equal(t, "run home", string(item.Data))
	case <-time.After(time.Second):
		t.Fatal("split command was not diverted")
	}
	fromProxy.mu.Lock()
	assert.NotContains(t, fromProxy.buf.String(), "ru")
	fromProxy.mu.Unlock()

	// A split ordinary line still goes out whole once completed.
	p.handleClientData([]byte("say hi"))
	p.handleClientData([]byte("\r\n"))
	fromProxy.wait(t, []byte("say hi\r\n"))
}

func TestMixedLinesSplitPerLine(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{
		Bus:       bus,
		IsCommand: func(word string) bool { return word == "rinfo" },
	})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd
	defer gameEnd.Close()
	fromProxy := collect(gameEnd)

	p.handleClientData([]byte("north\r\nrinfo\r\nsouth\r\n"))

	item := <-bus.Items()
	assert.Equal(t, "rinfo", string(item.Data))
	sent := fromProxy.wait(t, []byte("south\r\n"))
	assert.Contains(t, string(sent), "north\r\n")
	assert.NotContains(t, string(sent), "rinfo")
}

func TestEditorPagerOverrides(t *testing.T) {
	p := newTestProxy(Options{Editor: "vi", Pager: "more"})
	assert.Equal(t, "vi", p.Pipeline().MPI().Editor)
	assert.Equal(t, "more", p.Pipeline().MPI().Pager)
}

func TestSendBeforeConnectIsDropped(t *testing.T) {
	p := newTestProxy(Options{})
	p.SendClient([]byte("hello"))
	p.SendServer([]byte("hello"))
}

func TestServerPumpPostsShutdown(t *testing.T) {
	bus := event.NewBus()
	p := newTestProxy(Options{Bus: bus})
	proxyServerEnd, gameEnd := net.Pipe()
	p.server = proxyServerEnd

	done := make(chan struct{})
	go func() {
		p.serverPump(context.Background(), p.logger, proxyServerEnd)
		close(done)
	}()
	gameEnd.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server pump did not exit on close")
	}
	item := <-bus.Items()
	assert.Equal(t, event.KindShutdown, item.Kind)
}

func TestByteCounters(t *testing.T) {
	p := newTestProxy(Options{})
	proxyServerEnd, gameEnd := net.Pipe()
	proxyClientEnd, playerEnd := net.Pipe()
	p.server = proxyServerEnd
	p.client = proxyClientEnd
	collect(playerEnd)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.serverPump(ctx, p.logger, proxyServerEnd)

	payload := []byte("You are standing in the market square.\r\n")
	_, err := gameEnd.Write(payload)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for p.ServerBytes() < uint64(len(payload)) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, uint64(len(payload)), p.ServerBytes())
	assert.Equal(t, uint64(0), p.ClientBytes())
	gameEnd.Close()
}
