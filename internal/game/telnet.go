package game

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/encoding/charmap"
)

const (
	telnetIAC  byte = 255
	telnetDONT byte = 254
	telnetDO   byte = 253
	telnetWONT byte = 252
	telnetWILL byte = 251
	telnetSB   byte = 250
	telnetSE   byte = 240
)

const (
	telnetOptEcho         byte = 1
	telnetOptSuppressGA   byte = 3
	telnetOptTerminalType byte = 24
	telnetOptWindowSize   byte = 31
	telnetOptLineMode     byte = 34
	telnetOptCharset      byte = 42
)

const (
	charsetRequest  byte = 1
	charsetAccepted byte = 2
	charsetRejected byte = 3
)

// MaxLineLength bounds one input line in bytes. Longer lines are discarded
// and reported as ErrInputTooLong; the connection stays open.
const MaxLineLength = 1024

var (
	serverSupportedOptions = map[byte]bool{
		telnetOptSuppressGA: true,
	}
	clientSupportedOptions = map[byte]bool{
		telnetOptTerminalType: true,
		telnetOptWindowSize:   true,
		telnetOptCharset:      true,
	}
	// offeredCharsets is sent in a CHARSET REQUEST, most preferred first.
	offeredCharsets = []string{"UTF-8", "ISO-8859-1", "CP437"}
)

// lookupCharmap maps a charset name to a single-byte table. UTF-8 and
// ASCII need no table and report nil, true.
func lookupCharmap(name string) (*charmap.Charmap, bool) {
	switch normalizeToken(name) {
	case "UTF8", "ASCII", "USASCII":
		return nil, true
	case "ISO88591", "LATIN1":
		return charmap.ISO8859_1, true
	case "ISO885915", "LATIN9":
		return charmap.ISO8859_15, true
	case "CP437", "IBM437":
		return charmap.CodePage437, true
	case "CP1252", "WINDOWS1252":
		return charmap.Windows1252, true
	}
	return nil, false
}

// normalizeToken upper-cases name and keeps only letters and digits.
func normalizeToken(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// parseCharsetList splits a CHARSET REQUEST payload. The first byte is the
// separator.
func parseCharsetList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw[1:], raw[:1]) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func encodeWithCharmap(cm *charmap.Charmap, data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, r := range string(data) {
		if b, ok := cm.EncodeRune(r); ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

func decodeWithCharmap(cm *charmap.Charmap, data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		b.WriteRune(cm.DecodeByte(c))
	}
	return b.String()
}

// sanitizeTelnetString keeps the printable part of a negotiation payload.
func sanitizeTelnetString(raw []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, string(raw))
}

// translateForTelnet converts bare LF to CRLF and doubles IAC bytes.
func translateForTelnet(msg []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(msg) + 8)
	var prev byte
	for _, b := range msg {
		switch b {
		case '\n':
			if prev != '\r' {
				buf.WriteByte('\r')
			}
			buf.WriteByte('\n')
		case telnetIAC:
			buf.WriteByte(telnetIAC)
			buf.WriteByte(telnetIAC)
		default:
			buf.WriteByte(b)
		}
		prev = b
	}
	return buf.Bytes()
}

// TelnetSession adapts a raw TCP connection to LineConn, handling option
// negotiation, window size and character set.
type TelnetSession struct {
	conn   net.Conn
	reader *bufio.Reader

	wmu sync.Mutex

	mu      sync.Mutex
	width   int
	height  int
	term    string
	charset string
	cm      *charmap.Charmap
}

func NewTelnetSession(conn net.Conn) *TelnetSession {
	s := &TelnetSession{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		width:   80,
		height:  24,
		charset: "UTF-8",
	}
	s.performHandshake()
	return s
}

func (s *TelnetSession) performHandshake() {
	_ = s.writeCommand(telnetWILL, telnetOptSuppressGA)
	_ = s.writeCommand(telnetWONT, telnetOptEcho)
	_ = s.writeCommand(telnetDONT, telnetOptLineMode)
	_ = s.writeCommand(telnetDO, telnetOptTerminalType)
	_ = s.writeCommand(telnetDO, telnetOptWindowSize)
	_ = s.writeCommand(telnetDO, telnetOptCharset)
}

func (s *TelnetSession) writeCommand(cmd, opt byte) error {
	return s.writeRaw([]byte{telnetIAC, cmd, opt})
}

func (s *TelnetSession) writeRaw(payload []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.conn.Write(payload)
	return err
}

func (s *TelnetSession) writeSubnegotiation(opt byte, payload []byte) error {
	frame := []byte{telnetIAC, telnetSB, opt}
	for _, b := range payload {
		frame = append(frame, b)
		if b == telnetIAC {
			frame = append(frame, telnetIAC)
		}
	}
	frame = append(frame, telnetIAC, telnetSE)
	return s.writeRaw(frame)
}

// WriteString sends msg in the negotiated character set.
func (s *TelnetSession) WriteString(msg string) error {
	data := []byte(msg)
	s.mu.Lock()
	cm := s.cm
	s.mu.Unlock()
	if cm != nil {
		data = encodeWithCharmap(cm, data)
	}
	return s.writeRaw(translateForTelnet(data))
}

// ReadLine returns the next line with telnet commands stripped. A line
// longer than MaxLineLength is consumed whole and ErrInputTooLong is
// returned in its place.
func (s *TelnetSession) ReadLine() (string, error) {
	var buf bytes.Buffer
	overflow := false
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return "", err
		}
		switch b {
		case '\r':
			if next, err := s.reader.Peek(1); err == nil && (next[0] == '\n' || next[0] == 0) {
				_, _ = s.reader.ReadByte()
			}
			return s.finishLine(buf.Bytes(), overflow)
		case '\n':
			return s.finishLine(buf.Bytes(), overflow)
		case 0x08, 0x7f:
			if n := buf.Len(); n > 0 && !overflow {
				buf.Truncate(n - 1)
			}
		case 0x00:
		case telnetIAC:
			if err := s.handleIAC(&buf); err != nil {
				return "", err
			}
		default:
			if overflow {
				continue
			}
			if buf.Len() >= MaxLineLength {
				overflow = true
				buf.Reset()
				continue
			}
			buf.WriteByte(b)
		}
	}
}

func (s *TelnetSession) finishLine(line []byte, overflow bool) (string, error) {
	if overflow {
		return "", ErrInputTooLong
	}
	s.mu.Lock()
	cm := s.cm
	s.mu.Unlock()
	if cm != nil {
		return decodeWithCharmap(cm, line), nil
	}
	return strings.ToValidUTF8(string(line), ""), nil
}

func (s *TelnetSession) handleIAC(buf *bytes.Buffer) error {
	cmd, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case telnetIAC:
		buf.WriteByte(telnetIAC)
	case telnetDO, telnetDONT, telnetWILL, telnetWONT:
		opt, err := s.reader.ReadByte()
		if err != nil {
			return err
		}
		s.handleNegotiation(cmd, opt)
	case telnetSB:
		return s.handleSubnegotiation()
	}
	return nil
}

func (s *TelnetSession) handleNegotiation(cmd, opt byte) {
	switch cmd {
	case telnetDO:
		if serverSupportedOptions[opt] {
			_ = s.writeCommand(telnetWILL, opt)
		} else {
			_ = s.writeCommand(telnetWONT, opt)
		}
	case telnetDONT:
		_ = s.writeCommand(telnetWONT, opt)
	case telnetWILL:
		if !clientSupportedOptions[opt] {
			_ = s.writeCommand(telnetDONT, opt)
			return
		}
		if opt == telnetOptCharset {
			payload := append([]byte{charsetRequest}, []byte(";"+strings.Join(offeredCharsets, ";"))...)
			_ = s.writeSubnegotiation(telnetOptCharset, payload)
		}
	case telnetWONT:
		_ = s.writeCommand(telnetDONT, opt)
	}
}

func (s *TelnetSession) handleSubnegotiation() error {
	opt, err := s.reader.ReadByte()
	if err != nil {
		return err
	}
	payload := make([]byte, 0, 16)
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return err
		}
		if b == telnetIAC {
			esc, err := s.reader.ReadByte()
			if err != nil {
				return err
			}
			if esc == telnetIAC {
				payload = append(payload, telnetIAC)
				continue
			}
			if esc == telnetSE {
				break
			}
			continue
		}
		payload = append(payload, b)
	}

	switch opt {
	case telnetOptTerminalType:
		if len(payload) > 1 && payload[0] == 0 {
			s.mu.Lock()
			s.term = strings.ToUpper(sanitizeTelnetString(payload[1:]))
			s.mu.Unlock()
		}
	case telnetOptWindowSize:
		if len(payload) >= 4 {
			s.mu.Lock()
			s.width = int(payload[0])<<8 | int(payload[1])
			s.height = int(payload[2])<<8 | int(payload[3])
			s.mu.Unlock()
		}
	case telnetOptCharset:
		s.handleCharset(payload)
	}
	return nil
}

func (s *TelnetSession) handleCharset(payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case charsetAccepted:
		s.useCharset(sanitizeTelnetString(payload[1:]))
	case charsetRequest:
		for _, name := range parseCharsetList(sanitizeTelnetString(payload[1:])) {
			if s.useCharset(name) {
				_ = s.writeSubnegotiation(telnetOptCharset, append([]byte{charsetAccepted}, name...))
				return
			}
		}
		_ = s.writeSubnegotiation(telnetOptCharset, []byte{charsetRejected})
	}
}

func (s *TelnetSession) useCharset(name string) bool {
	cm, ok := lookupCharmap(name)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.charset = name
	s.cm = cm
	s.mu.Unlock()
	return true
}

func (s *TelnetSession) Close() error {
	return s.conn.Close()
}

func (s *TelnetSession) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Size reports the client window size from NAWS, 80x24 until known.
func (s *TelnetSession) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

func (s *TelnetSession) Terminal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Charset reports the negotiated character set name.
func (s *TelnetSession) Charset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charset
}
