// Package sdp implements a line-oriented parser and composer for the
// Session Description Protocol (RFC 4566), used as the offer/answer body
// carried in INVITE/200/ACK/UPDATE requests.
package sdp

import (
	"fmt"
	"io"
	"strings"
)

// Origin is the o= line: username, session id/version, network type,
// address type, and unicast address of the session originator.
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetType        string
	AddrType       string
	UnicastAddress string
}

func (o Origin) String() string {
	return fmt.Sprintf("%s %s %s %s %s %s", o.Username, o.SessionID, o.SessionVersion, o.NetType, o.AddrType, o.UnicastAddress)
}

// ConnectionData is the c= line: nettype, addrtype, addr. RFC 4566 §5.7.
type ConnectionData struct {
	NetType  string
	AddrType string
	Address  string
}

func (c ConnectionData) String() string {
	return fmt.Sprintf("%s %s %s", c.NetType, c.AddrType, c.Address)
}

// Bandwidth is the b= line: bwtype ":" bandwidth. RFC 4566 §5.8.
type Bandwidth struct {
	Type      string
	Bandwidth uint64
}

func (b Bandwidth) String() string {
	return fmt.Sprintf("%s:%d", b.Type, b.Bandwidth)
}

// Timing is the t= line: start and stop time, as NTP seconds (0 means
// permanent/unbounded per RFC 4566 §5.9).
type Timing struct {
	Start uint64
	Stop  uint64
}

func (t Timing) String() string {
	return fmt.Sprintf("%d %d", t.Start, t.Stop)
}

// RepeatTime is the r= line following a t= line: repeat interval, active
// duration, and a list of offsets from the start-time, RFC 4566 §5.10.
type RepeatTime struct {
	Interval string
	Duration string
	Offsets  []string
}

func (r RepeatTime) String() string {
	parts := append([]string{r.Interval, r.Duration}, r.Offsets...)
	return strings.Join(parts, " ")
}

// TimeZone is one adjustment pair inside a z= line.
type TimeZone struct {
	AdjustmentTime string
	Offset         string
}

// EncryptionKey is the k= line: method, and an optional key value when
// method is not "prompt". RFC 4566 §5.12.
type EncryptionKey struct {
	Method string
	Value  string
}

func (k EncryptionKey) String() string {
	if k.Value == "" {
		return k.Method
	}
	return k.Method + ":" + k.Value
}

// Attribute is an a= line: a flag ("a=recvonly") or a key:value pair
// ("a=rtpmap:0 PCMU/8000"). Unrecognized attributes are kept verbatim
// rather than rejected, since a UA must tolerate ones it does not
// understand.
type Attribute struct {
	Key   string
	Value string
}

func (a Attribute) String() string {
	if a.Value == "" {
		return a.Key
	}
	return a.Key + ":" + a.Value
}

// MediaDescription is an m= line and everything until the next m= line or
// end of body: media, port (and optional port count), proto, a
// whitespace-separated format list, plus its own c=/b=/k=/a= lines which
// override the session-level ones for this media stream. RFC 4566 §5.14.
type MediaDescription struct {
	Media      string
	Port       int
	PortCount  int
	Proto      string
	Formats    []string
	Info       string
	Connection []ConnectionData
	Bandwidths []Bandwidth
	Key        *EncryptionKey
	Attributes []Attribute
}

func (m MediaDescription) String() string {
	var b strings.Builder
	b.WriteString(m.Media)
	b.WriteByte(' ')
	if m.PortCount > 0 {
		fmt.Fprintf(&b, "%d/%d", m.Port, m.PortCount)
	} else {
		fmt.Fprintf(&b, "%d", m.Port)
	}
	b.WriteByte(' ')
	b.WriteString(m.Proto)
	for _, f := range m.Formats {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}

// Attr looks up the first attribute matching key, mirroring how
// a=rtpmap/a=fmtp entries are consulted by codec negotiation.
func (m MediaDescription) Attr(key string) (string, bool) {
	for _, a := range m.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Session is a fully parsed SDP body: session-level fields in the order
// RFC 4566 §5 mandates them, plus zero or more media descriptions.
type Session struct {
	Version     int
	Origin      Origin
	Name        string
	Info        string
	URI         string
	Emails      []string
	Phones      []string
	Connection  *ConnectionData
	Bandwidths  []Bandwidth
	Timing      []Timing
	Repeats     []RepeatTime
	TimeZones   []TimeZone
	Key         *EncryptionKey
	Attributes  []Attribute
	MediaDescs  []MediaDescription
}

// Attr looks up the first session-level attribute matching key.
func (s Session) Attr(key string) (string, bool) {
	for _, a := range s.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// String composes the session back into RFC 4566 wire form, CRLF
// terminated, in canonical field order.
func (s Session) String() string {
	var b strings.Builder
	s.StringWrite(&b)
	return b.String()
}

func (s Session) StringWrite(w io.StringWriter) {
	writeLine(w, 'v', fmt.Sprintf("%d", s.Version))
	writeLine(w, 'o', s.Origin.String())
	writeLine(w, 's', s.Name)
	if s.Info != "" {
		writeLine(w, 'i', s.Info)
	}
	if s.URI != "" {
		writeLine(w, 'u', s.URI)
	}
	for _, e := range s.Emails {
		writeLine(w, 'e', e)
	}
	for _, p := range s.Phones {
		writeLine(w, 'p', p)
	}
	if s.Connection != nil {
		writeLine(w, 'c', s.Connection.String())
	}
	for _, bw := range s.Bandwidths {
		writeLine(w, 'b', bw.String())
	}
	for _, t := range s.Timing {
		writeLine(w, 't', t.String())
	}
	for _, r := range s.Repeats {
		writeLine(w, 'r', r.String())
	}
	if len(s.TimeZones) > 0 {
		var parts []string
		for _, z := range s.TimeZones {
			parts = append(parts, z.AdjustmentTime, z.Offset)
		}
		writeLine(w, 'z', strings.Join(parts, " "))
	}
	if s.Key != nil {
		writeLine(w, 'k', s.Key.String())
	}
	for _, a := range s.Attributes {
		writeLine(w, 'a', a.String())
	}
	for _, m := range s.MediaDescs {
		writeLine(w, 'm', m.String())
		if m.Info != "" {
			writeLine(w, 'i', m.Info)
		}
		for _, c := range m.Connection {
			writeLine(w, 'c', c.String())
		}
		for _, bw := range m.Bandwidths {
			writeLine(w, 'b', bw.String())
		}
		if m.Key != nil {
			writeLine(w, 'k', m.Key.String())
		}
		for _, a := range m.Attributes {
			writeLine(w, 'a', a.String())
		}
	}
}

func writeLine(w io.StringWriter, key byte, value string) {
	w.WriteString(string(key))
	w.WriteString("=")
	w.WriteString(value)
	w.WriteString("\r\n")
}
