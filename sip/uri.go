package sip

import (
	"io"
	"strconv"
	"strings"
)

// A URI from any schema (e.g. sip:, tel:, callto:)
type SIPUri interface {
	// Determine if the two URIs are equal according to the rules in RFC 3261 s. 19.1.4.
	String() string

	IsEncrypted() bool
}

// A URI from a schema suitable for inclusion in a Contact: header.
// The only such URIs are sip/sips URIs, tel URIs and the special wildcard URI '*'.
// hold this interface to not break other code
type ContactUri interface {
	SIPUri
}

// Uri represents a SIP, SIPS or TEL URI as defined by RFC 3261 s. 19.1 and
// the tel URI scheme used by P-Asserted-Identity/P-Preferred-Identity.
type Uri struct {
	// Scheme is the URI scheme: "sip", "sips" or "tel". Kept as a string
	// rather than a bool so tel: URIs (no host part) round-trip cleanly.
	Scheme string

	// HierarhicalSlashes notes whether "//" followed the scheme so it can be
	// reinserted on serialization (e.g. some non-SIP schemes use it).
	HierarhicalSlashes bool

	Wildcard bool

	// The user part of the URI: the 'joe' in sip:joe@bloggs.com
	User string

	// The password field of the URI. This is represented in the URI as joe:hunter2@bloggs.com.
	// Note that if a URI has a password field, it *must* have a user field as well.
	// Note that RFC 3261 strongly recommends against the use of password fields in SIP URIs,
	// as they are fundamentally insecure.
	Password string

	// The host part of the URI. This can be a domain, or a string representation of an IP address.
	// Empty for tel: URIs, where the number lives in User.
	Host string

	// The port part of the URI. This is optional, and can be empty.
	Port int

	// Any parameters associated with the URI.
	// These are used to provide information about requests that may be constructed from the URI.
	// (For more details, see RFC 3261 section 19.1.1).
	// These appear as a semicolon-separated list of key=value pairs following the host[:port] part.
	UriParams HeaderParams

	// Any headers to be included on requests constructed from this URI.
	// These appear as a '&'-separated list at the end of the URI, introduced by '?'.
	// Although the values of the map are sip.strings, they will never be NoString in practice as the parser
	// guarantees to not return blank values for header elements in SIP URIs.
	// You should not set the values of headers to NoString.
	Headers HeaderParams
}

// Generates the string representation of a SipUri struct.
func (uri *Uri) String() string {
	var buffer strings.Builder
	uri.StringWrite(&buffer)

	return buffer.String()
}

func (uri *Uri) StringWrite(buffer io.StringWriter) {
	scheme := uri.Scheme
	if scheme == "" {
		scheme = "sip"
	}
	buffer.WriteString(scheme)
	buffer.WriteString(":")

	if uri.HierarhicalSlashes {
		buffer.WriteString("//")
	}

	if scheme == "tel" {
		buffer.WriteString(uri.User)
		if (uri.UriParams != nil) && uri.UriParams.Length() > 0 {
			buffer.WriteString(";")
			buffer.WriteString(uri.UriParams.ToString(';'))
		}
		return
	}

	// Optional userinfo part.
	if uri.User != "" {
		buffer.WriteString(uri.User)
		if uri.Password != "" {
			buffer.WriteString(":")
			buffer.WriteString(uri.Password)
		}
		buffer.WriteString("@")
	}

	// Compulsory hostname.
	buffer.WriteString(uri.Host)

	// Optional port number.
	if uri.Port > 0 {
		buffer.WriteString(":")
		buffer.WriteString(strconv.Itoa(uri.Port))
	}

	if (uri.UriParams != nil) && uri.UriParams.Length() > 0 {
		buffer.WriteString(";")
		buffer.WriteString(uri.UriParams.ToString(';'))
	}

	if (uri.Headers != nil) && uri.Headers.Length() > 0 {
		buffer.WriteString("?")
		buffer.WriteString(uri.Headers.ToString('&'))
	}
}

func (uri *Uri) Clone() *Uri {
	c := *uri
	if uri.UriParams != nil {
		c.UriParams = uri.UriParams.clone()
	}
	if uri.Headers != nil {
		c.Headers = uri.Headers.clone()
	}
	return &c
}

// HostPort returns the host, followed by ":port" when a port is set.
func (uri *Uri) HostPort() string {
	if uri.Port > 0 {
		return uri.Host + ":" + strconv.Itoa(uri.Port)
	}
	return uri.Host
}

// Endpoint returns "user@host[:port]", or just the host part when the URI
// has no user.
func (uri *Uri) Endpoint() string {
	if uri.User == "" {
		return uri.HostPort()
	}
	return uri.User + "@" + uri.HostPort()
}

// IsEncrypted reports whether this is a sips: URI. Derived from Scheme
// rather than stored separately so Scheme stays the single source of truth.
func (uri *Uri) IsEncrypted() bool {
	return uri.Scheme == "sips"
}

// IsTel reports whether this is a tel: URI (P-Asserted-Identity/
// P-Preferred-Identity commonly carry these instead of sip: URIs).
func (uri *Uri) IsTel() bool {
	return uri.Scheme == "tel"
}
