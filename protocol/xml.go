package protocol

import (
	"bytes"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/drake/mapperproxy/network"
)

type xmlMode int

const (
	modeNone xmlMode = iota
	modeRoom
	modeName
	modeDescription
	modeTerrain
	modeExits
	modePrompt
)

// modeTransitions maps a recognized tag to the mode it selects. Closing tags
// for name, description and terrain drop back into room scope.
var modeTransitions = map[string]xmlMode{
	"room":         modeRoom,
	"name":         modeName,
	"description":  modeDescription,
	"terrain":      modeTerrain,
	"exits":        modeExits,
	"prompt":       modePrompt,
	"/room":        modeNone,
	"/name":        modeRoom,
	"/description": modeRoom,
	"/terrain":     modeRoom,
	"/exits":       modeNone,
	"/prompt":      modeNone,
}

// tintinReplacements rewrites paired tags into line markers that tintin
// scripts can trigger on.
var tintinReplacements = map[string]string{
	"prompt":   "PROMPT:",
	"/prompt":  ":PROMPT",
	"name":     "NAME:",
	"/name":    ":NAME",
	"tell":     "TELL:",
	"/tell":    ":TELL",
	"narrate":  "NARRATE:",
	"/narrate": ":NARRATE",
	"pray":     "PRAY:",
	"/pray":    ":PRAY",
	"say":      "SAY:",
	"/say":     ":SAY",
	"emote":    "EMOTE:",
	"/emote":   ":EMOTE",
}

// XML is the byte-level tokenizer for MUME's in-band room protocol. The
// input is not well-formed XML (no root element, a fixed entity set), so
// this is a plain state machine over '<' and '>'. It appends client-visible
// bytes to the shared output buffer and emits typed events for the mapper.
type XML struct {
	logger    hclog.Logger
	format    string
	proc      *bytes.Buffer
	emit      func(name string, data []byte)
	onAnomaly func(string)

	tagBuf  []byte
	textBuf []byte
	lineBuf []byte

	inTag      bool
	gratuitous bool
	mode       xmlMode
}

// maxTagLength bounds tag collection; the longest real tag is a movement
// with a direction attribute. A '<' this far from its '>' is game text.
const maxTagLength = 128

// NewXML creates a tokenizer for the given output format. emit receives the
// decoded events in stream order; onAnomaly fires on unterminated tags and
// may be nil.
func NewXML(logger hclog.Logger, format string, proc *bytes.Buffer, emit func(name string, data []byte), onAnomaly func(string)) *XML {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if onAnomaly == nil {
		onAnomaly = func(string) {}
	}
	return &XML{logger: logger, format: format, proc: proc, emit: emit, onAnomaly: onAnomaly}
}

// Parse consumes one byte of MPI-filtered text.
func (x *XML) Parse(b byte) {
	if x.inTag {
		x.handleTag(b)
		return
	}
	if b == '<' {
		x.inTag = true
		return
	}
	x.textByte(b)
}

func (x *XML) textByte(b byte) {
	x.textBuf = append(x.textBuf, b)
	if x.format == "raw" || !x.gratuitous {
		x.proc.WriteByte(b)
		if b == network.IAC {
			// Double the IAC so it survives the client's telnet layer.
			x.proc.WriteByte(b)
		}
	}
	if x.mode == modeNone {
		x.lineBuf = append(x.lineBuf, b)
		if b == '\n' {
			line := bytes.TrimRight(x.lineBuf, "\r\n")
			x.lineBuf = x.lineBuf[:0]
			x.emit("line", line)
		}
	}
}

func (x *XML) handleTag(b byte) {
	if b != '>' {
		x.tagBuf = append(x.tagBuf, b)
		if len(x.tagBuf) > maxTagLength {
			x.logger.Debug("unterminated tag, reinjecting", "length", len(x.tagBuf))
			x.onAnomaly("unterminated tag")
			buf := append([]byte(nil), x.tagBuf...)
			x.tagBuf = x.tagBuf[:0]
			x.inTag = false
			// The opening '<' was ordinary text after all.
			x.textByte('<')
			for _, c := range buf {
				x.Parse(c)
			}
		}
		return
	}
	x.inTag = false
	tag := string(x.tagBuf)
	x.tagBuf = x.tagBuf[:0]
	text := x.textBuf
	x.textBuf = nil

	if x.format == "raw" {
		x.proc.WriteByte('<')
		x.proc.Write(network.EscapeIAC([]byte(tag)))
		x.proc.WriteByte('>')
	} else if x.format == "tintin" && !x.gratuitous {
		x.proc.WriteString(tintinReplacements[tag])
	}

	switch {
	case x.mode == modeNone && strings.HasPrefix(tag, "movement"):
		x.emit("movement", movementDirection(tag))
	case tag == "gratuitous":
		x.gratuitous = true
	case tag == "/gratuitous":
		x.gratuitous = false
	default:
		next, ok := modeTransitions[tag]
		if !ok {
			return
		}
		x.mode = next
		if strings.HasPrefix(tag, "/") {
			name := tag[1:]
			if tag == "/room" {
				// Text directly inside <room> is the dynamic description.
				name = "dynamic"
			}
			x.emit(name, text)
		}
	}
}

// movementDirection extracts the direction from tags of the form
// `movement dir=east/` or the bare `movement/` for unknown directions.
func movementDirection(tag string) []byte {
	s := strings.TrimPrefix(tag, "movement")
	s = strings.Replace(s, " dir=", "", 1)
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return []byte(s)
}
