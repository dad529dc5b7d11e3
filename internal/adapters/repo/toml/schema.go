package toml

import "fmt"

const currentSchemaVersion = 1

type fileSchema struct {
	Version     int               `toml:"version"`
	Account     accountSchema     `toml:"account"`
	Preferences preferencesSchema `toml:"preferences,omitempty"`
}

func (s *fileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s fileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported settings schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	JID                string `toml:"jid"`
	ResourcePrefix     string `toml:"resource_prefix,omitempty"`
	Host               string `toml:"host,omitempty"`
	Port               int    `toml:"port,omitempty"`
	PasswordRef        string `toml:"password_ref,omitempty"`
	PasswordVisibility string `toml:"password_visibility,omitempty"`
	Online             bool   `toml:"online"`
}

type preferencesSchema struct {
	MutedJIDs []string `toml:"muted_jids,omitempty"`
}
