package domain

import (
	"net/url"
	"strings"
)

type LoginByURIState int

const (
	LoginByURIConnecting LoginByURIState = iota
	LoginByURIPasswordNeeded
	LoginByURIInvalid
)

func (s LoginByURIState) String() string {
	switch s {
	case LoginByURIConnecting:
		return "connecting"
	case LoginByURIPasswordNeeded:
		return "password_needed"
	default:
		return "invalid_login_uri"
	}
}

// LoginURI is the parsed form of "xmpp:user@example.org?login;password=abc".
type LoginURI struct {
	JID      string
	Password string
}

const xmppScheme = "xmpp:"

// String renders the URI in the form ParseLoginURI reads. Without a password
// only the login action is kept.
func (u LoginURI) String() string {
	uri := xmppScheme + url.PathEscape(u.JID) + "?login"
	if u.Password != "" {
		uri += ";password=" + url.QueryEscape(u.Password)
	}
	return uri
}

// ParseLoginURI accepts an XMPP URI whose path is a bare JID and whose
// query, if any, is the "login" action with an optional password.
func ParseLoginURI(raw string) (LoginURI, LoginByURIState) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, xmppScheme) {
		return LoginURI{}, LoginByURIInvalid
	}

	rest := strings.TrimPrefix(raw, xmppScheme)
	jidPart, query, hasQuery := strings.Cut(rest, "?")

	jid, err := url.PathUnescape(jidPart)
	if err != nil || !ValidBareJID(jid) {
		return LoginURI{}, LoginByURIInvalid
	}

	if !hasQuery || query == "" {
		return LoginURI{JID: jid}, LoginByURIPasswordNeeded
	}

	params := strings.Split(query, ";")
	if params[0] != "login" {
		return LoginURI{}, LoginByURIInvalid
	}

	password := ""
	for _, param := range params[1:] {
		if param == "" {
			continue
		}
		key, value, _ := strings.Cut(param, "=")
		if key != "password" {
			return LoginURI{}, LoginByURIInvalid
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return LoginURI{}, LoginByURIInvalid
		}
		password = decoded
	}

	if password == "" {
		return LoginURI{JID: jid}, LoginByURIPasswordNeeded
	}

	return LoginURI{JID: jid, Password: password}, LoginByURIConnecting
}
