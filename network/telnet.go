package network

// Telnet command constants (RFC 854, 857, 885)
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	GA   byte = 249 // Go Ahead
	EL   byte = 248 // Erase Line
	EC   byte = 247 // Erase Character
	AYT  byte = 246 // Are You There
	AO   byte = 245 // Abort Output
	IP   byte = 244 // Interrupt Process
	BRK  byte = 243 // Break
	DM   byte = 242 // Data Mark
	NOP  byte = 241 // No Operation
	SE   byte = 240 // Subnegotiation End
	EOR  byte = 239 // End of Record (RFC 885)
)

// Telnet option codes
const (
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptTerminalType    byte = 24
	OptEOR             byte = 25
	OptNAWS            byte = 31 // Negotiate About Window Size
	OptCharset         byte = 42 // RFC 2066
)

// Charset sub-option commands (RFC 2066).
const (
	CharsetRequest  byte = 1
	CharsetAccepted byte = 2
	CharsetRejected byte = 3
)

// CharsetSep separates the REQUEST command from the offered charset names.
const CharsetSep byte = ';'

// Charsets maps the names the proxy accepts on the command line to the
// canonical names sent on the wire.
var Charsets = map[string][]byte{
	"us-ascii": []byte("US-ASCII"),
	"latin-1":  []byte("ISO-8859-1"),
	"utf-8":    []byte("UTF-8"),
}
