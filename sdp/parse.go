package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ParseSession parses a full SDP body into a Session. Lines are processed
// strictly in the order they appear (RFC 4566 §5); recognized keys are
// v,o,s,i,u,e,p,c,b,t,r,z,k,a,m. Once an m= line is seen, subsequent
// i=/c=/b=/k=/a= lines attach to that media description rather than the
// session level, per RFC 4566 §5.14.
func ParseSession(body []byte) (*Session, error) {
	sess := &Session{}
	var curMedia *MediaDescription

	for _, raw := range strings.Split(string(body), "\n") {
		line := strings.TrimRight(raw, "\r")
		if line == "" {
			continue
		}
		if len(line) < 2 || line[1] != '=' {
			return nil, fmt.Errorf("sdp: malformed line %q", line)
		}
		key, value := line[0], line[2:]

		switch key {
		case 'v':
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("sdp: v= version: %w", err)
			}
			sess.Version = v
		case 'o':
			if err := parseOrigin(value, &sess.Origin); err != nil {
				return nil, err
			}
		case 's':
			sess.Name = value
		case 'i':
			if curMedia != nil {
				curMedia.Info = value
			} else {
				sess.Info = value
			}
		case 'u':
			sess.URI = value
		case 'e':
			sess.Emails = append(sess.Emails, value)
		case 'p':
			sess.Phones = append(sess.Phones, value)
		case 'c':
			var c ConnectionData
			if err := parseConnectionData(value, &c); err != nil {
				return nil, err
			}
			if curMedia != nil {
				curMedia.Connection = append(curMedia.Connection, c)
			} else {
				sess.Connection = &c
			}
		case 'b':
			var b Bandwidth
			if err := parseBandwidth(value, &b); err != nil {
				return nil, err
			}
			if curMedia != nil {
				curMedia.Bandwidths = append(curMedia.Bandwidths, b)
			} else {
				sess.Bandwidths = append(sess.Bandwidths, b)
			}
		case 't':
			var t Timing
			if err := parseTiming(value, &t); err != nil {
				return nil, err
			}
			sess.Timing = append(sess.Timing, t)
		case 'r':
			var r RepeatTime
			if err := parseRepeatTime(value, &r); err != nil {
				return nil, err
			}
			sess.Repeats = append(sess.Repeats, r)
		case 'z':
			zones, err := parseTimeZones(value)
			if err != nil {
				return nil, err
			}
			sess.TimeZones = zones
		case 'k':
			var k EncryptionKey
			parseEncryptionKey(value, &k)
			if curMedia != nil {
				curMedia.Key = &k
			} else {
				sess.Key = &k
			}
		case 'a':
			var a Attribute
			parseAttribute(value, &a)
			if curMedia != nil {
				curMedia.Attributes = append(curMedia.Attributes, a)
			} else {
				sess.Attributes = append(sess.Attributes, a)
			}
		case 'm':
			var m MediaDescription
			if err := parseMediaDescription(value, &m); err != nil {
				return nil, err
			}
			sess.MediaDescs = append(sess.MediaDescs, m)
			curMedia = &sess.MediaDescs[len(sess.MediaDescs)-1]
		default:
			// Unknown line type: tolerated, RFC 4566 requires parsers to
			// skip attributes/lines they don't understand rather than fail.
		}
	}

	return sess, nil
}

// origin's FSM chain, in the style of sip/parse_via.go: each state consumes
// a prefix of the remaining string and reports how many bytes it ate.
type originFSM func(o *Origin, s string) (originFSM, int, error)

func parseOrigin(line string, o *Origin) error {
	state := originStateUsername
	str := line
	var ind, next int
	var err error
	for state != nil {
		state, next, err = state(o, str[ind:])
		if err != nil {
			return fmt.Errorf("sdp: o= line: %w", err)
		}
		ind += next
	}
	return nil
}

func originField(s string) (field string, rest int, err error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return "", 0, errors.New("unexpected end of o= line")
	}
	return s[:ind], ind + 1, nil
}

func originStateUsername(o *Origin, s string) (originFSM, int, error) {
	f, n, err := originField(s)
	if err != nil {
		return nil, 0, err
	}
	o.Username = f
	return originStateSessionID, n, nil
}

func originStateSessionID(o *Origin, s string) (originFSM, int, error) {
	f, n, err := originField(s)
	if err != nil {
		return nil, 0, err
	}
	o.SessionID = f
	return originStateSessionVersion, n, nil
}

func originStateSessionVersion(o *Origin, s string) (originFSM, int, error) {
	f, n, err := originField(s)
	if err != nil {
		return nil, 0, err
	}
	o.SessionVersion = f
	return originStateNetType, n, nil
}

func originStateNetType(o *Origin, s string) (originFSM, int, error) {
	f, n, err := originField(s)
	if err != nil {
		return nil, 0, err
	}
	o.NetType = f
	return originStateAddrType, n, nil
}

func originStateAddrType(o *Origin, s string) (originFSM, int, error) {
	f, n, err := originField(s)
	if err != nil {
		return nil, 0, err
	}
	o.AddrType = f
	return originStateUnicastAddress, n, nil
}

func originStateUnicastAddress(o *Origin, s string) (originFSM, int, error) {
	o.UnicastAddress = strings.TrimSpace(s)
	return nil, 0, nil
}

// parseConnectionData implements the c= grammar from RFC 4566 §5.7:
// exactly nettype SP addrtype SP addr.
type connFSM func(c *ConnectionData, s string) (connFSM, int, error)

func parseConnectionData(line string, c *ConnectionData) error {
	state := connStateNetType
	str := line
	var ind, next int
	var err error
	for state != nil {
		state, next, err = state(c, str[ind:])
		if err != nil {
			return fmt.Errorf("sdp: c= line: %w", err)
		}
		ind += next
	}
	return nil
}

func connStateNetType(c *ConnectionData, s string) (connFSM, int, error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return nil, 0, errors.New("missing addrtype/addr in c= line")
	}
	c.NetType = s[:ind]
	return connStateAddrType, ind + 1, nil
}

func connStateAddrType(c *ConnectionData, s string) (connFSM, int, error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return nil, 0, errors.New("missing addr in c= line")
	}
	c.AddrType = s[:ind]
	return connStateAddr, ind + 1, nil
}

func connStateAddr(c *ConnectionData, s string) (connFSM, int, error) {
	if s == "" {
		return nil, 0, errors.New("empty address in c= line")
	}
	if strings.ContainsAny(strings.TrimSpace(s), " \t") {
		return nil, 0, errors.New("extra token after addr in c= line")
	}
	c.Address = s
	return nil, 0, nil
}

// parseBandwidth implements the b= grammar: bwtype ":" bandwidth, with
// bandwidth a positive integer, per tsdp_header_B.h.
func parseBandwidth(line string, b *Bandwidth) error {
	ind := strings.IndexByte(line, ':')
	if ind < 0 {
		return fmt.Errorf("sdp: b= line missing ':': %q", line)
	}
	b.Type = line[:ind]
	n, err := strconv.ParseUint(line[ind+1:], 10, 64)
	if err != nil {
		return fmt.Errorf("sdp: b= bandwidth must be a positive integer: %w", err)
	}
	b.Bandwidth = n
	return nil
}

func parseTiming(line string, t *Timing) error {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return fmt.Errorf("sdp: t= line must have exactly 2 fields: %q", line)
	}
	start, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return fmt.Errorf("sdp: t= start-time: %w", err)
	}
	stop, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return fmt.Errorf("sdp: t= stop-time: %w", err)
	}
	t.Start, t.Stop = start, stop
	return nil
}

func parseRepeatTime(line string, r *RepeatTime) error {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return fmt.Errorf("sdp: r= line needs interval and duration: %q", line)
	}
	r.Interval = fields[0]
	r.Duration = fields[1]
	r.Offsets = fields[2:]
	return nil
}

func parseTimeZones(line string) ([]TimeZone, error) {
	fields := strings.Fields(line)
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("sdp: z= line needs pairs of adjustment-time/offset: %q", line)
	}
	zones := make([]TimeZone, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		zones = append(zones, TimeZone{AdjustmentTime: fields[i], Offset: fields[i+1]})
	}
	return zones, nil
}

func parseEncryptionKey(line string, k *EncryptionKey) {
	ind := strings.IndexByte(line, ':')
	if ind < 0 {
		k.Method = line
		return
	}
	k.Method = line[:ind]
	k.Value = line[ind+1:]
}

func parseAttribute(line string, a *Attribute) {
	ind := strings.IndexByte(line, ':')
	if ind < 0 {
		a.Key = line
		return
	}
	a.Key = line[:ind]
	a.Value = line[ind+1:]
}

// parseMediaDescription implements the m= grammar: media SP port["/"
// portcount] SP proto SP fmt-list. RFC 4566 §5.14.
type mediaFSM func(m *MediaDescription, s string) (mediaFSM, int, error)

func parseMediaDescription(line string, m *MediaDescription) error {
	state := mediaStateMedia
	str := line
	var ind, next int
	var err error
	for state != nil {
		state, next, err = state(m, str[ind:])
		if err != nil {
			return fmt.Errorf("sdp: m= line: %w", err)
		}
		ind += next
	}
	return nil
}

func mediaStateMedia(m *MediaDescription, s string) (mediaFSM, int, error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return nil, 0, errors.New("missing port in m= line")
	}
	m.Media = s[:ind]
	return mediaStatePort, ind + 1, nil
}

func mediaStatePort(m *MediaDescription, s string) (mediaFSM, int, error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return nil, 0, errors.New("missing proto in m= line")
	}
	portField := s[:ind]
	if slash := strings.IndexByte(portField, '/'); slash >= 0 {
		port, err := strconv.Atoi(portField[:slash])
		if err != nil {
			return nil, 0, fmt.Errorf("invalid port: %w", err)
		}
		count, err := strconv.Atoi(portField[slash+1:])
		if err != nil {
			return nil, 0, fmt.Errorf("invalid port count: %w", err)
		}
		m.Port, m.PortCount = port, count
	} else {
		port, err := strconv.Atoi(portField)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid port: %w", err)
		}
		m.Port = port
	}
	return mediaStateProto, ind + 1, nil
}

func mediaStateProto(m *MediaDescription, s string) (mediaFSM, int, error) {
	ind := strings.IndexByte(s, ' ')
	if ind < 0 {
		return nil, 0, errors.New("missing fmt-list in m= line")
	}
	m.Proto = s[:ind]
	return mediaStateFormats, ind + 1, nil
}

func mediaStateFormats(m *MediaDescription, s string) (mediaFSM, int, error) {
	if s == "" {
		return nil, 0, errors.New("empty fmt-list in m= line")
	}
	m.Formats = strings.Fields(s)
	return nil, 0, nil
}
