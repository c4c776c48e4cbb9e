// Package dialog implements the SIP/IMS dialog layer: outbound request
// construction and inbound response processing per RFC 3261 §12, digest
// challenge replay per 3GPP TS 24.229, and the dialog directory keyed by
// (Call-ID, local-tag, remote-tag).
package dialog

import (
	"fmt"

	"github.com/sipuacore/imsstack/sip"
)

// Stack is the configuration collaborator a Dialog reads its IMS identity
// and routing defaults from. It is built with functional options, one per
// configurable field.
type Stack struct {
	Transactions *sip.TransactionLayer
	Contact      sip.ContactHeader

	Realm             string
	PublicIdentity    sip.Uri
	PrivateIdentity   string
	PreferredIdentity *sip.Uri
	NetworkInfo       string
	EnableEarlyIMS    bool
	ServiceRoutes     []sip.Uri
	PCSCF             func() (sip.Uri, error)
	Secure            bool
}

// StackOption configures a Stack at construction time.
type StackOption func(*Stack) error

// NewStack builds a Stack bound to a transaction layer and local Contact.
func NewStack(transactions *sip.TransactionLayer, contact sip.ContactHeader, opts ...StackOption) (*Stack, error) {
	s := &Stack{
		Transactions: transactions,
		Contact:      contact,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	if s.Realm == "" {
		return nil, fmt.Errorf("dialog: Stack requires WithRealm")
	}
	return s, nil
}

// WithRealm sets the home domain used for early-IMS/Authorization
// construction and as the default challenge realm.
func WithRealm(realm string) StackOption {
	return func(s *Stack) error {
		s.Realm = realm
		return nil
	}
}

// WithPublicIdentity sets the default From URI (the IMPU).
func WithPublicIdentity(uri sip.Uri) StackOption {
	return func(s *Stack) error {
		s.PublicIdentity = uri
		return nil
	}
}

// WithPrivateIdentity sets the IMPI used as the digest username.
func WithPrivateIdentity(impi string) StackOption {
	return func(s *Stack) error {
		s.PrivateIdentity = impi
		return nil
	}
}

// WithPreferredIdentity sets the P-Preferred-Identity URI attached to
// outbound requests per 3GPP TS 24.229.
func WithPreferredIdentity(uri sip.Uri) StackOption {
	return func(s *Stack) error {
		s.PreferredIdentity = &uri
		return nil
	}
}

// WithNetworkInfo sets the P-Access-Network-Info value.
func WithNetworkInfo(info string) StackOption {
	return func(s *Stack) error {
		s.NetworkInfo = info
		return nil
	}
}

// WithEarlyIMS enables early-IMS security (3GPP TS 24.229 §5.1.1.2.2):
// an initial REGISTER then carries no Authorization. Without it, an initial
// REGISTER carries an empty-credentials Authorization.
func WithEarlyIMS() StackOption {
	return func(s *Stack) error {
		s.EnableEarlyIMS = true
		return nil
	}
}

// WithServiceRoutes seeds the preloaded Service-Route list (normally
// populated later by SetServiceRoutes from a REGISTER 200).
func WithServiceRoutes(routes []sip.Uri) StackOption {
	return func(s *Stack) error {
		s.ServiceRoutes = routes
		return nil
	}
}

// WithPCSCF sets the callback used to resolve the outbound proxy for
// route preloading.
func WithPCSCF(cb func() (sip.Uri, error)) StackOption {
	return func(s *Stack) error {
		s.PCSCF = cb
		return nil
	}
}

// WithSecure sets Stack.Secure. Request construction in this package does
// not read the field, so it does not switch any request URI to sips:.
func WithSecure() StackOption {
	return func(s *Stack) error {
		s.Secure = true
		return nil
	}
}

// SetServiceRoutes replaces the preloaded Service-Route list. A REGISTER
// 200's Service-Route header (RFC 3608) is saved here and preloaded
// (after the P-CSCF) onto subsequent dialogs.
func (s *Stack) SetServiceRoutes(routes []sip.Uri) {
	s.ServiceRoutes = routes
}
