package application

import "github.com/bnema/kaidan/internal/domain"

type Status struct {
	JID             string
	Host            string
	Port            int
	CustomHost      bool
	CustomPort      bool
	Online          bool
	State           domain.ConnectionState
	Error           domain.ConnectionError
	ActiveTasks     int
	PendingTasks    int
	RosterSize      int
	OnlineContacts  int
	HasCredentials  bool
	HasNewCreds     bool
	IsReconnecting  bool
	IsDisconnecting bool
}

// RosterEntry is a cached contact as shown to the user.
type RosterEntry struct {
	JID          string
	Name         string
	Availability domain.Availability
	Status       string
	Muted        bool
}
