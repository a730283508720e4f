package protocol

import (
	"bytes"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"

	"github.com/drake/mapperproxy/event"
	"github.com/drake/mapperproxy/network"
	"github.com/drake/mapperproxy/text"
)

// ringSize is how many raw server bytes are kept around for diagnostics.
const ringSize = 2048

// Poster receives decoded events; satisfied by *event.Bus.
type Poster interface {
	Post(event.Item)
}

// Pipeline chains the telnet filter, the MPI extractor and the XML
// tokenizer over the server stream. One instance per connection, driven
// only by the server pump goroutine.
type Pipeline struct {
	logger           hclog.Logger
	format           string
	promptTerminator []byte
	bus              Poster
	sendServer       func([]byte)

	proc   bytes.Buffer
	telnet *network.Parser
	mpi    *MPI
	xml    *XML
	ring   *circbuf.Buffer
}

// NewPipeline wires the three decoders together. promptTerminator is
// appended to client output at every IAC GA boundary; nil keeps the raw
// IAC GA.
func NewPipeline(
	logger hclog.Logger,
	format string,
	promptTerminator []byte,
	bus Poster,
	sendServer func([]byte),
) *Pipeline {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if promptTerminator == nil {
		promptTerminator = []byte{network.IAC, network.GA}
	}
	p := &Pipeline{
		logger:           logger,
		format:           format,
		promptTerminator: promptTerminator,
		bus:              bus,
		sendServer:       sendServer,
	}
	p.ring, _ = circbuf.NewBuffer(ringSize)
	p.telnet = network.NewParser(logger.Named("telnet"))
	p.mpi = NewMPI(logger.Named("mpi"), format, &p.proc, sendServer, p.logAnomaly)
	p.xml = NewXML(logger.Named("xml"), format, &p.proc, p.emit, p.logAnomaly)
	return p
}

// logAnomaly dumps the recent raw traffic when a decoder meets bytes that
// break the protocol, so the misbehaving stream can be reconstructed from
// a debug log.
func (p *Pipeline) logAnomaly(reason string) {
	p.logger.Debug("protocol anomaly", "reason", reason,
		"recent", hclog.Fmt("%q", p.ring.Bytes()))
}

// Telnet exposes the underlying telnet parser, used by the proxy to start
// charset negotiation after the handshake.
func (p *Pipeline) Telnet() *network.Parser {
	return p.telnet
}

// MPI exposes the MPI extractor so the proxy can join its sessions on
// shutdown and tests can inject a runner.
func (p *Pipeline) MPI() *MPI {
	return p.mpi
}

func (p *Pipeline) emit(name string, data []byte) {
	p.bus.Post(event.MudEvent(name, text.UnescapeXMLBytes(data)))
}

// Parse decodes one chunk of server bytes and returns the sanitized bytes
// to forward to the client.
func (p *Pipeline) Parse(data []byte) []byte {
	p.ring.Write(data)
	for _, ev := range p.telnet.Receive(data) {
		switch ev.Kind {
		case network.TelnetEventDataReceive:
			for _, b := range ev.Data {
				for _, out := range p.mpi.Parse(b) {
					p.xml.Parse(out)
				}
			}
		case network.TelnetEventPassthrough:
			p.proc.Write(ev.Data)
		case network.TelnetEventDataSend:
			p.sendServer(ev.Data)
		case network.TelnetEventGA:
			p.proc.Write(p.promptTerminator)
			p.bus.Post(event.MudEvent("iac_ga", nil))
		}
	}
	out := append([]byte{}, p.proc.Bytes()...)
	p.proc.Reset()
	if p.format != "raw" {
		out = text.UnescapeXMLBytes(out)
		out = bytes.ReplaceAll(out, []byte("\r"), nil)
		out = bytes.ReplaceAll(out, []byte("\n\n"), []byte("\n"))
	}
	return out
}

// Recent returns the most recent raw server bytes, for anomaly logging.
func (p *Pipeline) Recent() []byte {
	return p.ring.Bytes()
}

// Close joins outstanding MPI sessions.
func (p *Pipeline) Close() error {
	return p.mpi.Close()
}
