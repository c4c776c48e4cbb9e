package sdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectionData(t *testing.T) {
	t.Run("Basic", func(t *testing.T) {
		var c ConnectionData
		err := parseConnectionData("IN IP4 10.0.0.1", &c)
		require.NoError(t, err)
		assert.Equal(t, "IN", c.NetType)
		assert.Equal(t, "IP4", c.AddrType)
		assert.Equal(t, "10.0.0.1", c.Address)
	})

	t.Run("MissingTokens", func(t *testing.T) {
		var c ConnectionData
		err := parseConnectionData("IN IP4", &c)
		assert.Error(t, err)
	})
}

func TestParseBandwidth(t *testing.T) {
	var b Bandwidth
	err := parseBandwidth("AS:64", &b)
	require.NoError(t, err)
	assert.Equal(t, "AS", b.Type)
	assert.Equal(t, uint64(64), b.Bandwidth)

	err = parseBandwidth("AS:notanumber", &b)
	assert.Error(t, err)

	err = parseBandwidth("AS", &b)
	assert.Error(t, err)
}

func TestParseOrigin(t *testing.T) {
	var o Origin
	err := parseOrigin("alice 2890844526 2890844526 IN IP4 10.0.0.1", &o)
	require.NoError(t, err)
	assert.Equal(t, "alice", o.Username)
	assert.Equal(t, "2890844526", o.SessionID)
	assert.Equal(t, "2890844526", o.SessionVersion)
	assert.Equal(t, "IN", o.NetType)
	assert.Equal(t, "IP4", o.AddrType)
	assert.Equal(t, "10.0.0.1", o.UnicastAddress)
}

func TestParseMediaDescription(t *testing.T) {
	t.Run("SinglePort", func(t *testing.T) {
		var m MediaDescription
		err := parseMediaDescription("audio 49170 RTP/AVP 0 8 97", &m)
		require.NoError(t, err)
		assert.Equal(t, "audio", m.Media)
		assert.Equal(t, 49170, m.Port)
		assert.Equal(t, 0, m.PortCount)
		assert.Equal(t, "RTP/AVP", m.Proto)
		assert.Equal(t, []string{"0", "8", "97"}, m.Formats)
	})

	t.Run("PortCount", func(t *testing.T) {
		var m MediaDescription
		err := parseMediaDescription("video 51372/2 RTP/AVP 31", &m)
		require.NoError(t, err)
		assert.Equal(t, 51372, m.Port)
		assert.Equal(t, 2, m.PortCount)
	})
}

func TestParseSession(t *testing.T) {
	body := "v=0\r\n" +
		"o=alice 2890844526 2890844526 IN IP4 10.0.0.1\r\n" +
		"s=Call\r\n" +
		"c=IN IP4 10.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 49170 RTP/AVP 0\r\n" +
		"a=rtpmap:0 PCMU/8000\r\n" +
		"c=IN IP4 10.0.0.2\r\n"

	sess, err := ParseSession([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, 0, sess.Version)
	assert.Equal(t, "alice", sess.Origin.Username)
	assert.Equal(t, "Call", sess.Name)
	require.NotNil(t, sess.Connection)
	assert.Equal(t, "10.0.0.1", sess.Connection.Address)
	require.Len(t, sess.Timing, 1)

	require.Len(t, sess.MediaDescs, 1)
	m := sess.MediaDescs[0]
	assert.Equal(t, "audio", m.Media)
	rtpmap, ok := m.Attr("rtpmap")
	assert.True(t, ok)
	assert.Equal(t, "0 PCMU/8000", rtpmap)

	// The second c= line follows the m= line, so it attaches to the media
	// description rather than overwriting the session-level connection.
	require.Len(t, m.Connection, 1)
	assert.Equal(t, "10.0.0.2", m.Connection[0].Address)
	assert.Equal(t, "10.0.0.1", sess.Connection.Address)
}

func TestParseSessionMalformedLine(t *testing.T) {
	_, err := ParseSession([]byte("notaline\r\n"))
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	sess := Session{
		Version: 0,
		Origin: Origin{
			Username: "-", SessionID: "123", SessionVersion: "123",
			NetType: "IN", AddrType: "IP4", UnicastAddress: "127.0.0.1",
		},
		Name:       "-",
		Connection: &ConnectionData{NetType: "IN", AddrType: "IP4", Address: "127.0.0.1"},
		Timing:     []Timing{{Start: 0, Stop: 0}},
		MediaDescs: []MediaDescription{
			{Media: "audio", Port: 4000, Proto: "RTP/AVP", Formats: []string{"0"}},
		},
	}

	out := sess.String()
	reparsed, err := ParseSession([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, sess.Origin.Username, reparsed.Origin.Username)
	assert.Equal(t, sess.Connection.Address, reparsed.Connection.Address)
	require.Len(t, reparsed.MediaDescs, 1)
	assert.Equal(t, "audio", reparsed.MediaDescs[0].Media)
}
