package entity

import "strings"

// SessionStatus is the discriminated connection state derived from a Session.
type SessionStatus int

const (
	SessionDisconnected SessionStatus = iota
	// SessionReadOnly means an account is bound but it cannot sign transactions.
	SessionReadOnly
	SessionReady
)

func (s SessionStatus) String() string {
	switch s {
	case SessionReadOnly:
		return "read_only"
	case SessionReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Session is the binding between the synchronizer and one externally connected account.
// Epoch increases every time the bound account changes, including to and from no account.
type Session struct {
	Account   string `json:"account,omitempty"`
	HasSigner bool   `json:"hasSigner"`
	Epoch     uint64 `json:"epoch"`
}

// Bound reports whether an account is present.
func (s Session) Bound() bool {
	return s.Account != ""
}

// Status derives the discriminated status of the session.
func (s Session) Status() SessionStatus {
	switch {
	case !s.Bound():
		return SessionDisconnected
	case !s.HasSigner:
		return SessionReadOnly
	default:
		return SessionReady
	}
}

// SameAccount compares two account addresses case-insensitively, as EVM addresses are.
func SameAccount(a, b string) bool {
	return strings.EqualFold(a, b)
}

// WalletEventType enumerates what the external wallet layer can report.
type WalletEventType int

const (
	WalletAccountsChanged WalletEventType = iota
	WalletConnect
	WalletDisconnect
)

func (t WalletEventType) String() string {
	switch t {
	case WalletConnect:
		return "connect"
	case WalletDisconnect:
		return "disconnect"
	default:
		return "accountsChanged"
	}
}

// WalletEvent is a single notification from the wallet layer.
type WalletEvent struct {
	Type      WalletEventType
	Accounts  []string
	HasSigner bool
}
