package domain

import (
	"fmt"
	"strings"
)

// PasswordVisibility controls where the stored password may be shown again.
type PasswordVisibility int

const (
	PasswordVisible PasswordVisibility = iota
	PasswordVisibleQROnly
	PasswordInvisible
)

func (v PasswordVisibility) String() string {
	switch v {
	case PasswordVisibleQROnly:
		return "qr-only"
	case PasswordInvisible:
		return "invisible"
	default:
		return "visible"
	}
}

// InPlainText reports whether the password may be printed as text.
func (v PasswordVisibility) InPlainText() bool {
	return v == PasswordVisible
}

// InLoginURI reports whether the password may be part of an exported login
// URI.
func (v PasswordVisibility) InLoginURI() bool {
	return v != PasswordInvisible
}

// ParsePasswordVisibility accepts the String forms. An empty value is the
// default, PasswordVisible.
func ParsePasswordVisibility(raw string) (PasswordVisibility, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "visible":
		return PasswordVisible, nil
	case "qr-only", "qr_only":
		return PasswordVisibleQROnly, nil
	case "invisible":
		return PasswordInvisible, nil
	default:
		return PasswordVisible, fmt.Errorf("unknown password visibility %q", raw)
	}
}
