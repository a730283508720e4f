package network

import (
	"bytes"

	"github.com/hashicorp/go-hclog"
)

// TelnetEventKind classifies parser output.
type TelnetEventKind int

const (
	// TelnetEventDataReceive carries telnet-stripped text bytes for the
	// MPI/XML layers. Escaped IAC pairs arrive as a single 0xFF.
	TelnetEventDataReceive TelnetEventKind = iota
	// TelnetEventPassthrough carries negotiation and command bytes that
	// must be forwarded to the client verbatim.
	TelnetEventPassthrough
	// TelnetEventDataSend carries bytes the proxy must transmit to the
	// server, such as negotiation replies.
	TelnetEventDataSend
	// TelnetEventGA marks an IAC GA prompt boundary. Any text received
	// before the GA is emitted first.
	TelnetEventGA
)

// TelnetEvent is a single parser output.
type TelnetEvent struct {
	Kind    TelnetEventKind
	Command byte   // Negotiation verb for passthrough negotiations
	Option  byte   // Option byte, when applicable
	Data    []byte // Text, passthrough bytes, or bytes to send
}

type parserState int

const (
	stateNormal parserState = iota
	stateIACSeen
	stateInNegotiation
	stateInSubopt
)

// The Q Method of implementing Telnet option negotiation (RFC 1143).
type qState int

const (
	qNo qState = iota
	qYes
	qExpectNo
	qExpectYes
	qExpectNoOpposite
	qExpectYesOpposite
)

// Side selects which end of the connection an option applies to.
type Side int

const (
	Remote Side = iota // the server's side (WILL/WONT)
	Local              // our side (DO/DONT)
)

type optionState struct {
	side map[Side]qState
}

// Parser is the event-driven server-stream telnet filter. It strips option
// negotiations from the text stream, answers the ones it owns (charset, via
// the Q method), and passes everything else through to the client unchanged.
// State persists across Receive calls, so negotiations split over TCP reads
// are handled correctly.
type Parser struct {
	logger hclog.Logger

	state     parserState
	verb      byte   // pending negotiation verb (DO/DONT/WILL/WONT)
	subopt    []byte // sub-option buffer: option byte then unescaped payload
	suboptIAC bool   // an IAC inside the sub-option awaits its second byte

	text   []byte
	events []TelnetEvent

	// Options handled locally instead of passed through.
	options map[byte]*optionState

	charsetName []byte
}

// NewParser creates a parser that handles charset negotiation locally.
func NewParser(logger hclog.Logger) *Parser {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Parser{
		logger: logger,
		options: map[byte]*optionState{
			OptCharset: {side: map[Side]qState{}},
		},
		charsetName: Charsets["us-ascii"],
	}
}

// Receive consumes a chunk of server bytes and returns the resulting events
// in stream order. Buffered text is flushed at the end of each chunk.
func (p *Parser) Receive(data []byte) []TelnetEvent {
	p.events = nil
	for _, b := range data {
		switch p.state {
		case stateNormal:
			switch b {
			case IAC:
				p.state = stateIACSeen
			case 0x00, 0x11:
				// NUL and XON are line noise from the server; drop them.
			default:
				p.text = append(p.text, b)
			}
		case stateIACSeen:
			p.handleCommand(b)
		case stateInNegotiation:
			p.handleNegotiation(b)
		case stateInSubopt:
			p.handleSubopt(b)
		}
	}
	p.flushText()
	return p.events
}

func (p *Parser) flushText() {
	if len(p.text) > 0 {
		p.events = append(p.events, TelnetEvent{Kind: TelnetEventDataReceive, Data: p.text})
		p.text = nil
	}
}

func (p *Parser) handleCommand(b byte) {
	switch b {
	case IAC:
		// Escaped IAC: one literal 0xFF in the text stream.
		p.text = append(p.text, IAC)
		p.state = stateNormal
	case GA:
		// MUME sends IAC GA after every prompt. Deliver pending text
		// first so the mapper sees the prompt before the boundary.
		p.flushText()
		p.events = append(p.events, TelnetEvent{Kind: TelnetEventGA})
		p.state = stateNormal
	case DO, DONT, WILL, WONT:
		p.verb = b
		p.state = stateInNegotiation
	case SB:
		p.subopt = p.subopt[:0]
		p.suboptIAC = false
		p.state = stateInSubopt
	default:
		// Some other 2-byte command; the client may care even if we don't.
		p.flushText()
		p.events = append(p.events, TelnetEvent{Kind: TelnetEventPassthrough, Command: b, Data: []byte{IAC, b}})
		p.state = stateNormal
	}
}

func (p *Parser) handleNegotiation(opt byte) {
	verb := p.verb
	p.verb = 0
	p.state = stateNormal

	state, handled := p.options[opt]
	if !handled {
		// Unknown option: forward verbatim and let the client argue.
		p.flushText()
		p.events = append(p.events, TelnetEvent{
			Kind:    TelnetEventPassthrough,
			Command: verb,
			Option:  opt,
			Data:    []byte{IAC, verb, opt},
		})
		return
	}

	var side Side
	var txAccept, txDeny byte
	var rxAccept byte
	if verb == WILL || verb == WONT {
		side = Remote
		rxAccept = WILL
		txAccept = DO
		txDeny = DONT
	} else {
		side = Local
		rxAccept = DO
		txAccept = WILL
		txDeny = WONT
	}

	switch {
	case verb == rxAccept:
		switch state.side[side] {
		case qNo:
			state.side[side] = qYes
			p.sendOption(txAccept, opt)
		case qYes:
			// Redundant request for an option already enabled; ignore it.
		case qExpectNo:
			state.side[side] = qNo
		case qExpectNoOpposite:
			state.side[side] = qYes
		case qExpectYesOpposite:
			state.side[side] = qExpectNo
			p.sendOption(txDeny, opt)
		default:
			// We asked for this option and the server agreed.
			state.side[side] = qYes
			if opt == OptCharset {
				p.logger.Debug("server acknowledged charset negotiation", "charset", string(p.charsetName))
				p.sendCharsetRequest()
			}
		}
	default:
		switch state.side[side] {
		case qYes:
			state.side[side] = qNo
			p.sendOption(txDeny, opt)
		case qExpectNoOpposite:
			state.side[side] = qExpectYes
			p.sendOption(txAccept, opt)
		default:
			state.side[side] = qNo
		}
	}
}

func (p *Parser) handleSubopt(b byte) {
	if p.suboptIAC {
		p.suboptIAC = false
		switch b {
		case IAC:
			// Escaped IAC: one literal 0xFF in the payload, even when the
			// pair and the following byte arrive in different chunks.
			p.subopt = append(p.subopt, IAC)
		case SE:
			p.endSubopt()
		default:
			// A stray command inside the sub-option; keep it verbatim.
			p.subopt = append(p.subopt, IAC, b)
		}
		return
	}
	if b == IAC {
		p.suboptIAC = true
		return
	}
	p.subopt = append(p.subopt, b)
}

func (p *Parser) endSubopt() {
	payload := p.subopt
	p.subopt = nil
	p.state = stateNormal
	if len(payload) == 0 {
		return
	}
	opt := payload[0]
	payload = payload[1:]
	if opt == OptCharset {
		p.handleCharsetReply(payload)
		return
	}
	// Everything else passes through, re-escaped for the wire.
	p.flushText()
	data := append([]byte{IAC, SB, opt}, EscapeIAC(payload)...)
	data = append(data, IAC, SE)
	p.events = append(p.events, TelnetEvent{Kind: TelnetEventPassthrough, Option: opt, Data: data})
}

func (p *Parser) handleCharsetReply(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case CharsetAccepted:
		p.logger.Debug("charset accepted", "charset", string(payload[1:]))
	case CharsetRejected:
		// MUME does not echo the charset name on rejection.
		p.logger.Warn("charset rejected", "charset", string(p.charsetName))
	default:
		p.logger.Warn("unknown charset negotiation reply", "payload", payload)
	}
}

func (p *Parser) sendOption(verb, opt byte) {
	p.events = append(p.events, TelnetEvent{
		Kind:    TelnetEventDataSend,
		Command: verb,
		Option:  opt,
		Data:    []byte{IAC, verb, opt},
	})
}

func (p *Parser) sendCharsetRequest() {
	data := []byte{IAC, SB, OptCharset, CharsetRequest, CharsetSep}
	data = append(data, EscapeIAC(p.charsetName)...)
	data = append(data, IAC, SE)
	p.logger.Debug("requesting charset", "charset", string(p.charsetName))
	p.events = append(p.events, TelnetEvent{Kind: TelnetEventDataSend, Option: OptCharset, Data: data})
}

// StartCharset announces WILL CHARSET for the given name and returns the
// bytes to transmit. The actual REQUEST goes out once the server replies
// with DO CHARSET.
func (p *Parser) StartCharset(name string) []byte {
	if wire, ok := Charsets[name]; ok {
		p.charsetName = wire
	} else {
		p.charsetName = []byte(name)
	}
	state := p.options[OptCharset]
	switch state.side[Local] {
	case qNo:
		state.side[Local] = qExpectYes
		return []byte{IAC, WILL, OptCharset}
	case qExpectNo:
		state.side[Local] = qExpectNoOpposite
	case qExpectYesOpposite:
		state.side[Local] = qExpectYes
	}
	return nil
}

// EscapeIAC doubles 0xFF bytes so they survive a Telnet stream.
func EscapeIAC(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte{IAC}, []byte{IAC, IAC})
}
