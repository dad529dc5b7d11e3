package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionErrorStringAndMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     ConnectionError
		want    string
		message string
	}{
		{name: "no error", err: NoError, want: "no_error", message: ""},
		{name: "auth", err: AuthenticationFailed, want: "authentication_failed", message: "Invalid username or password."},
		{name: "dns", err: DnsError, want: "dns_error", message: "Could not resolve your server's address."},
		{name: "registration", err: RegistrationUnsupported, want: "registration_unsupported", message: "The server does not support registration via this client."},
		{name: "out of range", err: ConnectionError(99), want: "unknown", message: "Could not connect to the server."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.String())
			assert.Equal(t, tt.message, tt.err.Message())
		})
	}
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", ConnectionState(7).String())
}

func TestCredentialsHasEnoughForLogin(t *testing.T) {
	assert.False(t, Credentials{}.HasEnoughForLogin())
	assert.False(t, Credentials{JID: "alice@example.org"}.HasEnoughForLogin())
	assert.False(t, Credentials{JID: "  ", Password: "secret"}.HasEnoughForLogin())
	assert.True(t, Credentials{JID: "alice@example.org", Password: "secret"}.HasEnoughForLogin())
}

func TestCredentialsEffectivePort(t *testing.T) {
	assert.Equal(t, PortDefault, Credentials{Port: PortUnset}.EffectivePort())
	assert.Equal(t, PortDefault, Credentials{}.EffectivePort())
	assert.Equal(t, 5223, Credentials{Port: 5223}.EffectivePort())
}

func TestJIDParts(t *testing.T) {
	assert.Equal(t, "alice@example.org", BareJID("alice@example.org/phone"))
	assert.Equal(t, "example.org", JIDDomain("alice@example.org/phone"))
	assert.Equal(t, "alice", JIDLocal("alice@example.org"))
	assert.Equal(t, "example.org", JIDDomain("example.org"))
	assert.Equal(t, "", JIDLocal("example.org"))
}

func TestValidBareJID(t *testing.T) {
	tests := []struct {
		jid  string
		want bool
	}{
		{jid: "alice@example.org", want: true},
		{jid: "", want: false},
		{jid: "example.org", want: false},
		{jid: "@example.org", want: false},
		{jid: "alice@", want: false},
		{jid: "alice@example.org/res", want: false},
		{jid: "a@b@example.org", want: false},
		{jid: "alice @example.org", want: false},
		{jid: "alice@.example.org", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.jid, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidBareJID(tt.jid))
		})
	}
}

func TestConnectionConfigMergeOver(t *testing.T) {
	base := ConnectionConfig{
		JID:               "alice@example.org",
		Password:          "old",
		Resource:          "kaidan.abc",
		Port:              5222,
		KeepAliveInterval: time.Minute,
	}

	merged := ConnectionConfig{Password: "new", RegisterOnConnect: true, Host: "xmpp.example.org"}.MergeOver(base)

	assert.Equal(t, "alice@example.org", merged.JID)
	assert.Equal(t, "new", merged.Password)
	assert.Equal(t, "kaidan.abc", merged.Resource)
	assert.Equal(t, "xmpp.example.org", merged.Host)
	assert.Equal(t, 5222, merged.Port)
	assert.Equal(t, time.Minute, merged.KeepAliveInterval)
	assert.True(t, merged.RegisterOnConnect)
	assert.True(t, ConnectionConfig{}.IsZero())
	assert.False(t, merged.IsZero())
}

func TestAvailabilityFromShow(t *testing.T) {
	assert.Equal(t, AvailabilityOnline, AvailabilityFromShow("", ""))
	assert.Equal(t, AvailabilityChat, AvailabilityFromShow("", "chat"))
	assert.Equal(t, AvailabilityAway, AvailabilityFromShow("", "away"))
	assert.Equal(t, AvailabilityXA, AvailabilityFromShow("", "xa"))
	assert.Equal(t, AvailabilityDND, AvailabilityFromShow("", "dnd"))
	assert.Equal(t, AvailabilityOffline, AvailabilityFromShow("unavailable", "dnd"))
	assert.Equal(t, "dnd", AvailabilityDND.String())
}

func TestPresencePreferred(t *testing.T) {
	base := Presence{JID: "bob@example.org", Resource: "phone", Availability: AvailabilityOnline}

	higher := base
	higher.Priority = 5
	higher.Availability = AvailabilityAway
	assert.True(t, higher.Preferred(base), "priority decides first")

	dnd := base
	dnd.Availability = AvailabilityDND
	assert.True(t, dnd.Preferred(base))
	assert.False(t, base.Preferred(dnd))

	chat := base
	chat.Availability = AvailabilityChat
	assert.True(t, chat.Preferred(base))

	withStatus := base
	withStatus.Status = "at work"
	assert.True(t, withStatus.Preferred(base))
	assert.False(t, base.Preferred(base))
}

func TestParsePasswordVisibility(t *testing.T) {
	for raw, want := range map[string]PasswordVisibility{
		"":          PasswordVisible,
		"visible":   PasswordVisible,
		"QR-only":   PasswordVisibleQROnly,
		"qr_only":   PasswordVisibleQROnly,
		"invisible": PasswordInvisible,
	} {
		got, err := ParsePasswordVisibility(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
		if raw != "" && raw != "QR-only" && raw != "qr_only" {
			assert.Equal(t, raw, got.String())
		}
	}

	_, err := ParsePasswordVisibility("hidden")
	assert.Error(t, err)

	assert.True(t, PasswordVisible.InPlainText())
	assert.False(t, PasswordVisibleQROnly.InPlainText())
	assert.True(t, PasswordVisibleQROnly.InLoginURI())
	assert.False(t, PasswordInvisible.InLoginURI())
}
