package domain

import "time"

// ConnectionConfig carries everything a transport needs for one connection
// attempt. Zero fields of an override keep the value they are merged onto.
type ConnectionConfig struct {
	JID               string
	Password          string
	Resource          string
	Host              string
	Port              int
	RegisterOnConnect bool
	StreamManagement  bool
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
	InsecureSkipTLS   bool
}

// MergeOver layers c on top of base and returns the result.
func (c ConnectionConfig) MergeOver(base ConnectionConfig) ConnectionConfig {
	merged := base
	if c.JID != "" {
		merged.JID = c.JID
	}
	if c.Password != "" {
		merged.Password = c.Password
	}
	if c.Resource != "" {
		merged.Resource = c.Resource
	}
	if c.Host != "" {
		merged.Host = c.Host
	}
	if c.Port > 0 {
		merged.Port = c.Port
	}
	if c.KeepAliveInterval > 0 {
		merged.KeepAliveInterval = c.KeepAliveInterval
	}
	if c.KeepAliveTimeout > 0 {
		merged.KeepAliveTimeout = c.KeepAliveTimeout
	}
	merged.RegisterOnConnect = merged.RegisterOnConnect || c.RegisterOnConnect
	merged.StreamManagement = merged.StreamManagement || c.StreamManagement
	merged.InsecureSkipTLS = merged.InsecureSkipTLS || c.InsecureSkipTLS

	return merged
}

func (c ConnectionConfig) IsZero() bool {
	return c == ConnectionConfig{}
}
