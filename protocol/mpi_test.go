package protocol

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
)

func waitBytes(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server bytes")
		return nil
	}
}

func TestMPIViewSession(t *testing.T) {
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})

	viewed := make(chan []byte, 1)
	p.MPI().Runner = func(command string, args ...string) error {
		contents, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			return err
		}
		viewed <- contents
		return nil
	}

	out := p.Parse([]byte("\n~$#EV5\nhello"))
	if len(out) != 0 {
		t.Errorf("MPI envelope leaked to client: %q", out)
	}
	if contents := waitBytes(t, viewed); string(contents) != "hello" {
		t.Errorf("unexpected view contents: %q", contents)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPIEditCancel(t *testing.T) {
	sent := make(chan []byte, 1)
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func(data []byte) { sent <- data })

	// Editor exits without touching the file.
	p.MPI().Runner = func(string, ...string) error { return nil }

	p.Parse([]byte("\n~$#EE15\nM1234\ndesc\nbody"))
	if got := waitBytes(t, sent); string(got) != "~$#EE6\nCM1234\n" {
		t.Errorf("unexpected cancellation: %q", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPIEditModified(t *testing.T) {
	sent := make(chan []byte, 1)
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func(data []byte) { sent <- data })

	p.MPI().Runner = func(command string, args ...string) error {
		name := args[len(args)-1]
		if err := os.WriteFile(name, []byte("new text\r\n"), 0644); err != nil {
			return err
		}
		// Force a visibly newer mtime regardless of filesystem granularity.
		later := time.Now().Add(2 * time.Second)
		return os.Chtimes(name, later, later)
	}

	p.Parse([]byte("\n~$#EE15\nM1234\ndesc\nbody"))
	if got := waitBytes(t, sent); string(got) != "~$#EE15\nEM1234\nnew text\n" {
		t.Errorf("unexpected edit response: %q", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPIInvalidCommandReinjected(t *testing.T) {
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})

	out := p.Parse([]byte("\n~$#EQfoo\n"))
	if string(out) != "\n~$#EQfoo\n" {
		t.Errorf("invalid envelope not reinjected: %q", out)
	}
}

func TestMPIInvalidLengthReinjected(t *testing.T) {
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})

	out := p.Parse([]byte("\n~$#EEabc\nrest"))
	if string(out) != "\n~$#EEabc\nrest" {
		t.Errorf("invalid length not reinjected: %q", out)
	}
}

func TestAnomalyDumpsRecentTraffic(t *testing.T) {
	var logBuf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Level: hclog.Debug, Output: &logBuf})
	p := NewPipeline(logger, "normal", nil, &capture{}, func([]byte) {})

	p.Parse([]byte("\n~$#EEabc\nrest"))

	logged := logBuf.String()
	if !strings.Contains(logged, "protocol anomaly") {
		t.Fatalf("malformed length produced no anomaly log: %q", logged)
	}
	if !strings.Contains(logged, "~$#EEabc") {
		t.Errorf("anomaly log is missing the recent raw bytes: %q", logged)
	}
}

func TestMPIEditorOverride(t *testing.T) {
	sent := make(chan []byte, 1)
	ran := make(chan string, 1)
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func(data []byte) { sent <- data })

	p.MPI().Editor = "myedit --fast"
	p.MPI().Runner = func(command string, args ...string) error {
		ran <- command + " " + args[0]
		return nil
	}

	p.Parse([]byte("\n~$#EE15\nM1234\ndesc\nbody"))
	if got := waitBytes(t, sent); len(got) == 0 {
		t.Fatal("no edit response sent")
	}
	select {
	case invocation := <-ran:
		if !strings.HasPrefix(invocation, "myedit --fast") {
			t.Errorf("editor override ignored: %q", invocation)
		}
	default:
		t.Fatal("editor was never run")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPIPagerOverride(t *testing.T) {
	ran := make(chan string, 1)
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})

	p.MPI().Pager = "mypager"
	p.MPI().Runner = func(command string, args ...string) error {
		ran <- command
		return nil
	}

	p.Parse([]byte("\n~$#EV5\nhello"))
	select {
	case command := <-ran:
		if command != "mypager" {
			t.Errorf("pager override ignored: %q", command)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pager was never run")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPISplitAcrossReads(t *testing.T) {
	viewed := make(chan []byte, 1)
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})
	p.MPI().Runner = func(command string, args ...string) error {
		contents, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			return err
		}
		viewed <- contents
		return nil
	}

	var out []byte
	for _, chunk := range []string{"\n~$#", "EV", "3\na", "bc"} {
		out = append(out, p.Parse([]byte(chunk))...)
	}
	if len(out) != 0 {
		t.Errorf("split envelope leaked to client: %q", out)
	}
	if contents := waitBytes(t, viewed); string(contents) != "abc" {
		t.Errorf("unexpected view contents: %q", contents)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestMPIInitMidLineIgnored(t *testing.T) {
	events := &capture{}
	p := NewPipeline(nil, "normal", nil, events, func([]byte) {})

	out := p.Parse([]byte("say ~$#EV5\nhello"))
	if string(out) != "say ~$#EV5\nhello" {
		t.Errorf("mid-line init should be plain text, got %q", out)
	}
}
