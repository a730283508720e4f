// Package protocol decodes the MUME server stream: the MPI remote-editing
// envelope and the in-band XML room protocol, chained behind the telnet
// filter by Pipeline.
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/drake/mapperproxy/network"
)

// MPIInit is the four-byte sequence that introduces an MPI message. It is
// only recognized at the start of a line.
var MPIInit = []byte("~$#E")

// Runner executes an external command and waits for it. Injectable so the
// edit/view flows can be tested without spawning real editors.
type Runner func(command string, args ...string) error

func execRunner(command string, args ...string) error {
	cmd := exec.Command(command, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// MPI extracts remote edit (E) and view (V) messages from the server text
// stream. Bytes that are not part of an MPI message pass through to the XML
// layer; consumed envelopes never reach the client. Each accepted message is
// handled on its own goroutine so the pumps keep flowing while an editor is
// open.
type MPI struct {
	logger     hclog.Logger
	format     string
	proc       *bytes.Buffer // shared client-bound buffer, used for reinjection
	sendServer func([]byte)

	// Runner, Stdin, Stdout, Editor and Pager may be replaced before the
	// first message arrives. Stdout is where MPICOMMAND lines go in tintin
	// format; Editor and Pager default from the environment.
	Runner Runner
	Stdin  io.Reader
	Stdout io.Writer
	Editor string
	Pager  string

	onAnomaly func(string)

	lfReceived  bool
	inMPI       bool
	buf         []byte
	command     byte
	haveCommand bool
	length      int
	haveLength  bool

	wg     sync.WaitGroup
	active atomic.Int32
	mu     sync.Mutex
	errs   *multierror.Error
}

// Sessions returns the number of edit and view sessions still running.
func (m *MPI) Sessions() int {
	return int(m.active.Load())
}

// NewMPI creates an MPI extractor writing reinjected bytes to proc and edit
// responses through sendServer. onAnomaly fires on malformed envelopes and
// may be nil. The editor and pager come from TINTINEDITOR and TINTINPAGER,
// or notepad on Windows.
func NewMPI(logger hclog.Logger, format string, proc *bytes.Buffer, sendServer func([]byte), onAnomaly func(string)) *MPI {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if onAnomaly == nil {
		onAnomaly = func(string) {}
	}
	m := &MPI{
		logger:     logger,
		format:     format,
		proc:       proc,
		sendServer: sendServer,
		onAnomaly:  onAnomaly,
		Runner:     execRunner,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
	}
	if runtime.GOOS == "windows" {
		m.Editor = "notepad"
		m.Pager = "notepad"
	} else {
		m.Editor = getenvDefault("TINTINEDITOR", "nano -w")
		m.Pager = getenvDefault("TINTINPAGER", "less")
	}
	return m
}

func getenvDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Parse consumes one byte of telnet-filtered text and returns the bytes to
// hand to the XML layer, or nil while an MPI sequence is being collected.
func (m *MPI) Parse(b byte) []byte {
	if m.inMPI {
		m.handleMPI(b)
		return nil
	}
	if m.lfReceived && bytes.IndexByte(MPIInit, b) >= 0 && bytes.HasPrefix(MPIInit, m.buf) {
		m.buf = append(m.buf, b)
		if bytes.Equal(m.buf, MPIInit) {
			m.inMPI = true
			m.buf = m.buf[:0]
			// The newline that introduced the sequence was already
			// forwarded; take it back so the client never sees it.
			if data := m.proc.Bytes(); len(data) > 0 && data[len(data)-1] == '\n' {
				m.proc.Truncate(len(data) - 1)
			}
		}
		return nil
	}
	m.lfReceived = b == '\n'
	if len(m.buf) > 0 {
		// A partial init sequence turned out to be ordinary text.
		out := append(m.buf, b)
		m.buf = nil
		return out
	}
	return []byte{b}
}

func (m *MPI) handleMPI(b byte) {
	switch {
	case !m.haveCommand:
		m.command = b
		m.haveCommand = true
		if b != 'E' && b != 'V' {
			m.logger.Debug("invalid MPI command, reinjecting", "command", string(b))
			m.onAnomaly(fmt.Sprintf("invalid MPI command %q", b))
			m.inMPI = false
			m.haveCommand = false
			m.proc.WriteByte('\n')
			m.proc.Write(MPIInit)
			m.proc.WriteByte(b)
		}
	case !m.haveLength && b == '\n':
		n, err := strconv.Atoi(string(m.buf))
		if err != nil || n < 0 {
			m.logger.Debug("invalid MPI length, reinjecting", "length", string(m.buf))
			m.onAnomaly(fmt.Sprintf("invalid MPI length %q", m.buf))
			m.inMPI = false
			m.haveCommand = false
			m.proc.WriteByte('\n')
			m.proc.Write(MPIInit)
			m.proc.WriteByte(m.command)
			m.proc.Write(m.buf)
			m.proc.WriteByte('\n')
			m.buf = nil
			return
		}
		m.length = n
		m.haveLength = true
		m.buf = m.buf[:0]
		if m.length == 0 {
			m.dispatch(nil)
		}
	default:
		m.buf = append(m.buf, b)
		if m.haveLength && len(m.buf) >= m.length {
			payload := m.buf
			m.buf = nil
			m.dispatch(payload)
		}
	}
}

func (m *MPI) dispatch(payload []byte) {
	command := m.command
	m.haveCommand = false
	m.haveLength = false
	m.inMPI = false
	m.wg.Add(1)
	m.active.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.active.Add(-1)
		var err error
		switch command {
		case 'V':
			err = m.view(payload)
		case 'E':
			err = m.edit(payload)
		}
		if err != nil {
			m.logger.Error("MPI session failed", "command", string(command), "error", err)
			m.mu.Lock()
			m.errs = multierror.Append(m.errs, err)
			m.mu.Unlock()
		}
	}()
}

// Close waits for all outstanding edit and view sessions and reports their
// aggregated failures.
func (m *MPI) Close() error {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs.ErrorOrNil()
}

func (m *MPI) view(payload []byte) error {
	name, err := writeTempFile("mume_viewing_", payload)
	if err != nil {
		return err
	}
	if m.format == "tintin" {
		fmt.Fprintf(m.Stdout, "MPICOMMAND:%s %s:MPICOMMAND\n", m.Pager, name)
		return nil
	}
	defer os.Remove(name)
	command, args := splitCommand(m.Pager, name)
	return m.Runner(command, args...)
}

func (m *MPI) edit(payload []byte) error {
	parts := bytes.SplitN(payload, []byte("\n"), 3)
	if len(parts) < 3 {
		return fmt.Errorf("malformed MPI edit payload: %q", payload)
	}
	session, body := parts[0], parts[2]
	name, err := writeTempFile("mume_editing_", body)
	if err != nil {
		return err
	}
	defer os.Remove(name)
	before, err := os.Stat(name)
	if err != nil {
		return err
	}
	if m.format == "tintin" {
		fmt.Fprintf(m.Stdout, "MPICOMMAND:%s %s:MPICOMMAND\n", m.Editor, name)
		fmt.Fprint(m.Stdout, "Continue:")
		bufio.NewReader(m.Stdin).ReadString('\n')
	} else {
		command, args := splitCommand(m.Editor, name)
		if err := m.Runner(command, args...); err != nil {
			return fmt.Errorf("editor: %w", err)
		}
	}
	after, err := os.Stat(name)
	if err != nil {
		return err
	}
	var response []byte
	if after.ModTime().Equal(before.ModTime()) {
		// The user closed the editor without saving: cancel the session.
		response = append([]byte("C"), session...)
	} else {
		contents, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		response = append([]byte("E"), session...)
		response = append(response, '\n')
		response = append(response, contents...)
	}
	response = bytes.TrimSpace(bytes.ReplaceAll(response, []byte("\r"), nil))
	response = network.EscapeIAC(response)
	message := append([]byte{}, MPIInit...)
	message = append(message, 'E')
	message = strconv.AppendInt(message, int64(len(response)), 10)
	message = append(message, '\n')
	message = append(message, response...)
	message = append(message, '\n')
	m.sendServer(message)
	return nil
}

// writeTempFile stores body with MUD line endings normalized to CRLF and
// returns the file name.
func writeTempFile(prefix string, body []byte) (string, error) {
	f, err := os.CreateTemp("", prefix+"*.txt")
	if err != nil {
		return "", err
	}
	body = bytes.ReplaceAll(body, []byte("\r"), nil)
	body = bytes.ReplaceAll(body, []byte("\n"), []byte("\r\n"))
	if _, err := f.Write(body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func splitCommand(command, file string) (string, []string) {
	fields := strings.Fields(command)
	return fields[0], append(fields[1:], file)
}
