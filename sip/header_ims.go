package sip

import (
	"io"
	"strings"
)

// This file adds the header kinds RFC 3261 challenge/response and the
// 3GPP TS 24.229 IMS extensions need that are not already covered by
// headers.go: the four digest authentication headers, Subscription-State
// (RFC 6665), the P-* identity/network-info headers (3GPP TS 24.229 /
// RFC 3455) and Service-Route (RFC 3608).

// AuthorizationHeader carries a request's 'Authorization' header.
// The credential parameters are kept as an opaque digest-challenge string:
// parsing into (username, realm, nonce, response, ...) is done on demand
// via github.com/icholy/digest when a dialog needs to inspect or replay it.
type AuthorizationHeader string

func (h *AuthorizationHeader) Name() string { return "Authorization" }
func (h AuthorizationHeader) Value() string { return string(h) }
func (h *AuthorizationHeader) String() string {
	return h.Name() + ": " + string(*h)
}
func (h *AuthorizationHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(string(*h))
}
func (h *AuthorizationHeader) headerClone() Header { return h }

func headerParserAuthorization(headerName []byte, headerText string) (Header, error) {
	h := AuthorizationHeader(strings.TrimSpace(headerText))
	return &h, nil
}

// ProxyAuthorizationHeader carries a request's 'Proxy-Authorization' header.
type ProxyAuthorizationHeader string

func (h *ProxyAuthorizationHeader) Name() string { return "Proxy-Authorization" }
func (h ProxyAuthorizationHeader) Value() string { return string(h) }
func (h *ProxyAuthorizationHeader) String() string {
	return h.Name() + ": " + string(*h)
}
func (h *ProxyAuthorizationHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(string(*h))
}
func (h *ProxyAuthorizationHeader) headerClone() Header { return h }

func headerParserProxyAuthorization(headerName []byte, headerText string) (Header, error) {
	h := ProxyAuthorizationHeader(strings.TrimSpace(headerText))
	return &h, nil
}

// WWWAuthenticateHeader carries a challenge response's 'WWW-Authenticate' header.
type WWWAuthenticateHeader string

func (h *WWWAuthenticateHeader) Name() string { return "WWW-Authenticate" }
func (h WWWAuthenticateHeader) Value() string { return string(h) }
func (h *WWWAuthenticateHeader) String() string {
	return h.Name() + ": " + string(*h)
}
func (h *WWWAuthenticateHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(string(*h))
}
func (h *WWWAuthenticateHeader) headerClone() Header { return h }

func headerParserWWWAuthenticate(headerName []byte, headerText string) (Header, error) {
	h := WWWAuthenticateHeader(strings.TrimSpace(headerText))
	return &h, nil
}

// ProxyAuthenticateHeader carries a challenge response's 'Proxy-Authenticate' header.
type ProxyAuthenticateHeader string

func (h *ProxyAuthenticateHeader) Name() string { return "Proxy-Authenticate" }
func (h ProxyAuthenticateHeader) Value() string { return string(h) }
func (h *ProxyAuthenticateHeader) String() string {
	return h.Name() + ": " + string(*h)
}
func (h *ProxyAuthenticateHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(string(*h))
}
func (h *ProxyAuthenticateHeader) headerClone() Header { return h }

func headerParserProxyAuthenticate(headerName []byte, headerText string) (Header, error) {
	h := ProxyAuthenticateHeader(strings.TrimSpace(headerText))
	return &h, nil
}

// SubscriptionStateHeader is RFC 6665's 'Subscription-State' header, carried
// by NOTIFY requests. State is one of "active", "pending" or "terminated";
// Params carries 'expires', 'reason' and 'retry-after' when present.
type SubscriptionStateHeader struct {
	State  string
	Params HeaderParams
}

func (h *SubscriptionStateHeader) Name() string { return "Subscription-State" }

func (h *SubscriptionStateHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *SubscriptionStateHeader) ValueStringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.State)
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *SubscriptionStateHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *SubscriptionStateHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *SubscriptionStateHeader) headerClone() Header {
	if h == nil {
		var n *SubscriptionStateHeader
		return n
	}
	n := &SubscriptionStateHeader{State: h.State}
	if h.Params != nil {
		n.Params = h.Params.Clone()
	}
	return n
}

// Expires returns the 'expires' param value and whether it was present.
func (h *SubscriptionStateHeader) Expires() (int, bool) {
	v, ok := h.Params.Get("expires")
	if !ok {
		return 0, false
	}
	n, err := parsePositiveInt(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func headerParserSubscriptionState(headerName []byte, headerText string) (Header, error) {
	h := &SubscriptionStateHeader{Params: NewParams()}
	ind := strings.IndexByte(headerText, ';')
	if ind < 0 {
		h.State = strings.TrimSpace(headerText)
		return h, nil
	}
	h.State = strings.TrimSpace(headerText[:ind])
	if _, err := UnmarshalHeaderParams(headerText[ind+1:], ';', '\r', h.Params); err != nil {
		return h, err
	}
	return h, nil
}

func parsePositiveInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	n := 0
	if s == "" {
		return 0, errEmptyInt
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errEmptyInt
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

var errEmptyInt = strErr("not a number")

type strErr string

func (e strErr) Error() string { return string(e) }

// PPreferredIdentityHeader is the 3GPP/RFC 3325 'P-Preferred-Identity'
// header a UE uses to indicate which of its identities it wants to be
// asserted by the network.
type PPreferredIdentityHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *PPreferredIdentityHeader) Name() string { return "P-Preferred-Identity" }

func (h *PPreferredIdentityHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *PPreferredIdentityHeader) ValueStringWrite(buffer io.StringWriter) {
	if h.DisplayName != "" {
		buffer.WriteString("\"")
		buffer.WriteString(h.DisplayName)
		buffer.WriteString("\" ")
	}
	buffer.WriteString("<")
	h.Address.StringWrite(buffer)
	buffer.WriteString(">")
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *PPreferredIdentityHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *PPreferredIdentityHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *PPreferredIdentityHeader) headerClone() Header {
	if h == nil {
		var n *PPreferredIdentityHeader
		return n
	}
	n := &PPreferredIdentityHeader{DisplayName: h.DisplayName, Address: h.Address}
	if h.Params != nil {
		n.Params = h.Params.Clone()
	}
	return n
}

func headerParserPPreferredIdentity(headerName []byte, headerText string) (Header, error) {
	h := &PPreferredIdentityHeader{Params: NewParams()}
	var err error
	h.DisplayName, err = ParseAddressValue(headerText, &h.Address, h.Params)
	return h, err
}

// PAssertedIdentityHeader is RFC 3325's 'P-Asserted-Identity' header, added
// by a trusted proxy and used on dialog-creating requests and their
// responses to assert a verified identity to the peer.
type PAssertedIdentityHeader struct {
	DisplayName string
	Address     Uri
	Params      HeaderParams
}

func (h *PAssertedIdentityHeader) Name() string { return "P-Asserted-Identity" }

func (h *PAssertedIdentityHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *PAssertedIdentityHeader) ValueStringWrite(buffer io.StringWriter) {
	if h.DisplayName != "" {
		buffer.WriteString("\"")
		buffer.WriteString(h.DisplayName)
		buffer.WriteString("\" ")
	}
	buffer.WriteString("<")
	h.Address.StringWrite(buffer)
	buffer.WriteString(">")
	if h.Params != nil && h.Params.Length() > 0 {
		buffer.WriteString(";")
		h.Params.ToStringWrite(';', buffer)
	}
}

func (h *PAssertedIdentityHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *PAssertedIdentityHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *PAssertedIdentityHeader) headerClone() Header {
	if h == nil {
		var n *PAssertedIdentityHeader
		return n
	}
	n := &PAssertedIdentityHeader{DisplayName: h.DisplayName, Address: h.Address}
	if h.Params != nil {
		n.Params = h.Params.Clone()
	}
	return n
}

func headerParserPAssertedIdentity(headerName []byte, headerText string) (Header, error) {
	h := &PAssertedIdentityHeader{Params: NewParams()}
	var err error
	h.DisplayName, err = ParseAddressValue(headerText, &h.Address, h.Params)
	return h, err
}

// PAccessNetworkInfoHeader is the 3GPP TS 24.229 'P-Access-Network-Info'
// header, e.g. "3GPP-E-UTRAN-FDD; utran-cell-id-3gpp=...". Kept opaque
// like ContentType since its grammar is access-technology-specific.
type PAccessNetworkInfoHeader string

func (h *PAccessNetworkInfoHeader) Name() string { return "P-Access-Network-Info" }
func (h PAccessNetworkInfoHeader) Value() string { return string(h) }
func (h *PAccessNetworkInfoHeader) String() string {
	return h.Name() + ": " + string(*h)
}
func (h *PAccessNetworkInfoHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	buffer.WriteString(string(*h))
}
func (h *PAccessNetworkInfoHeader) headerClone() Header { return h }

func headerParserPAccessNetworkInfo(headerName []byte, headerText string) (Header, error) {
	h := PAccessNetworkInfoHeader(strings.TrimSpace(headerText))
	return &h, nil
}

// ServiceRouteHeader is RFC 3608's 'Service-Route' header, returned on a
// successful REGISTER response and saved by the dialog layer for
// preloading into the Route set of later non-REGISTER requests.
type ServiceRouteHeader struct {
	Address Uri
	Next    *ServiceRouteHeader
}

func (h *ServiceRouteHeader) Name() string { return "Service-Route" }

func (h *ServiceRouteHeader) Value() string {
	var buffer strings.Builder
	h.ValueStringWrite(&buffer)
	return buffer.String()
}

func (h *ServiceRouteHeader) ValueStringWrite(buffer io.StringWriter) {
	for hop := h; hop != nil; hop = hop.Next {
		buffer.WriteString("<")
		hop.Address.StringWrite(buffer)
		buffer.WriteString(">")
		if hop.Next != nil {
			buffer.WriteString(", ")
		}
	}
}

func (h *ServiceRouteHeader) String() string {
	var buffer strings.Builder
	h.StringWrite(&buffer)
	return buffer.String()
}

func (h *ServiceRouteHeader) StringWrite(buffer io.StringWriter) {
	buffer.WriteString(h.Name())
	buffer.WriteString(": ")
	h.ValueStringWrite(buffer)
}

func (h *ServiceRouteHeader) headerClone() Header {
	return h.Clone()
}

func (h *ServiceRouteHeader) cloneFirst() *ServiceRouteHeader {
	if h == nil {
		var n *ServiceRouteHeader
		return n
	}
	return &ServiceRouteHeader{Address: h.Address}
}

func (h *ServiceRouteHeader) Clone() *ServiceRouteHeader {
	newRoute := h.cloneFirst()
	newNext := newRoute
	for hop := h.Next; hop != nil; hop = hop.Next {
		newNext.Next = hop.cloneFirst()
		newNext = newNext.Next
	}
	return newRoute
}

func headerParserServiceRoute(headerName []byte, headerText string) (Header, error) {
	h := &ServiceRouteHeader{}
	err := parseRouteAddress(headerText, &h.Address)
	return h, err
}

// headerParserExpires parses the 'Expires' header (RFC 3261 §20.19).
func headerParserExpires(headerName []byte, headerText string) (Header, error) {
	n, err := parsePositiveInt(headerText)
	if err != nil {
		return nil, err
	}
	e := Expires(n)
	return &e, nil
}

func init() {
	headersParsers["expires"] = headerParserExpires
	headersParsers["authorization"] = headerParserAuthorization
	headersParsers["proxy-authorization"] = headerParserProxyAuthorization
	headersParsers["www-authenticate"] = headerParserWWWAuthenticate
	headersParsers["proxy-authenticate"] = headerParserProxyAuthenticate
	headersParsers["subscription-state"] = headerParserSubscriptionState
	headersParsers["p-preferred-identity"] = headerParserPPreferredIdentity
	headersParsers["p-asserted-identity"] = headerParserPAssertedIdentity
	headersParsers["p-access-network-info"] = headerParserPAccessNetworkInfo
	headersParsers["service-route"] = headerParserServiceRoute
}
