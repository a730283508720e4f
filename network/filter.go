package network

import "bytes"

// Filter splits a raw client byte stream into telnet negotiations and text.
// The client pump uses it to recognize mapper commands without disturbing
// whatever options the client and server negotiate between themselves.
type Filter struct {
	processed   []byte
	textBuffer  []byte
	inCommand   bool
	inSubOption bool
}

// NewFilter creates a client-stream filter.
func NewFilter() *Filter {
	return &Filter{}
}

// Parse consumes a chunk and returns (negotiations, text). Negotiations are
// the telnet command bytes seen in the chunk; text is whole lines only, with
// any partial trailing line kept buffered for the next read.
func (f *Filter) Parse(data []byte) ([]byte, []byte) {
	for _, b := range data {
		switch {
		case f.inCommand:
			f.processed = append(f.processed, b)
			switch {
			case b == SB:
				f.inSubOption = true
			case b == SE:
				f.inCommand = false
				f.inSubOption = false
			case !f.inSubOption && !isNegotiationVerb(b):
				f.inCommand = false
				if b == IAC {
					// Escaped IAC: it belongs to the text, not to a command.
					f.processed = f.processed[:len(f.processed)-2]
					f.textBuffer = append(f.textBuffer, b)
				}
			}
		case b == IAC:
			f.processed = append(f.processed, b)
			f.inCommand = true
		default:
			f.textBuffer = append(f.textBuffer, b)
		}
	}

	var text []byte
	if i := bytes.LastIndexByte(f.textBuffer, '\n'); i >= 0 {
		text = append(text, f.textBuffer[:i+1]...)
		f.textBuffer = append(f.textBuffer[:0], f.textBuffer[i+1:]...)
	}

	negotiations := f.processed
	f.processed = nil
	return negotiations, text
}

func isNegotiationVerb(b byte) bool {
	return b == DO || b == DONT || b == WILL || b == WONT
}
