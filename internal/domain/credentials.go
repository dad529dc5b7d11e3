package domain

import "strings"

const (
	PortDefault = 5222
	PortUnset   = -1

	DefaultResourcePrefix = "kaidan"
)

// Credentials is a snapshot of the account fields needed to open a session.
type Credentials struct {
	JID            string
	Password       string
	Host           string
	Port           int
	ResourcePrefix string
}

func (c Credentials) HasEnoughForLogin() bool {
	return strings.TrimSpace(c.JID) != "" && c.Password != ""
}

// EffectivePort resolves an unset port to the XMPP client default.
func (c Credentials) EffectivePort() int {
	if c.Port <= 0 {
		return PortDefault
	}

	return c.Port
}

// BareJID strips a resource part if present.
func BareJID(jid string) string {
	if idx := strings.IndexByte(jid, '/'); idx >= 0 {
		return jid[:idx]
	}

	return jid
}

// JIDDomain returns the domain part of a JID.
func JIDDomain(jid string) string {
	bare := BareJID(jid)
	if idx := strings.LastIndexByte(bare, '@'); idx >= 0 {
		return bare[idx+1:]
	}

	return bare
}

// JIDLocal returns the local part of a JID or an empty string.
func JIDLocal(jid string) string {
	bare := BareJID(jid)
	if idx := strings.LastIndexByte(bare, '@'); idx >= 0 {
		return bare[:idx]
	}

	return ""
}

// ValidBareJID reports whether jid has the form local@domain with no
// resource and no whitespace.
func ValidBareJID(jid string) bool {
	if jid == "" || strings.ContainsAny(jid, " \t\r\n/") {
		return false
	}

	at := strings.IndexByte(jid, '@')
	if at <= 0 || at != strings.LastIndexByte(jid, '@') {
		return false
	}

	domainPart := jid[at+1:]
	return domainPart != "" && !strings.HasPrefix(domainPart, ".") && !strings.HasSuffix(domainPart, ".")
}
