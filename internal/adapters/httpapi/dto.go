package httpapi

import (
	"time"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
)

type StatusResponse struct {
	JID             string `json:"jid"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	CustomHost      bool   `json:"custom_host"`
	CustomPort      bool   `json:"custom_port"`
	Online          bool   `json:"online"`
	State           string `json:"state"`
	Error           string `json:"error,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ActiveTasks     int    `json:"active_tasks"`
	PendingTasks    int    `json:"pending_tasks"`
	RosterSize      int    `json:"roster_size"`
	OnlineContacts  int    `json:"online_contacts"`
	HasCredentials  bool   `json:"has_credentials"`
	HasNewCreds     bool   `json:"has_new_credentials"`
	IsReconnecting  bool   `json:"reconnecting"`
	IsDisconnecting bool   `json:"disconnecting"`
}

func NewStatusResponse(s application.Status) StatusResponse {
	resp := StatusResponse{
		JID:             s.JID,
		Host:            s.Host,
		Port:            s.Port,
		CustomHost:      s.CustomHost,
		CustomPort:      s.CustomPort,
		Online:          s.Online,
		State:           s.State.String(),
		ActiveTasks:     s.ActiveTasks,
		PendingTasks:    s.PendingTasks,
		RosterSize:      s.RosterSize,
		OnlineContacts:  s.OnlineContacts,
		HasCredentials:  s.HasCredentials,
		HasNewCreds:     s.HasNewCreds,
		IsReconnecting:  s.IsReconnecting,
		IsDisconnecting: s.IsDisconnecting,
	}
	if s.Error != domain.NoError {
		resp.Error = s.Error.String()
		resp.ErrorMessage = s.Error.Message()
	}

	return resp
}

type ContactResponse struct {
	JID          string `json:"jid"`
	Name         string `json:"name,omitempty"`
	Availability string `json:"availability,omitempty"`
	Status       string `json:"status,omitempty"`
	Muted        bool   `json:"muted,omitempty"`
}

func NewContactResponse(e application.RosterEntry) ContactResponse {
	return ContactResponse{
		JID:          e.JID,
		Name:         e.Name,
		Availability: e.Availability.String(),
		Status:       e.Status,
		Muted:        e.Muted,
	}
}

type PresenceResponse struct {
	JID          string `json:"jid"`
	Resource     string `json:"resource,omitempty"`
	Availability string `json:"availability"`
	Status       string `json:"status,omitempty"`
}

type EventMessage struct {
	Kind     string            `json:"kind"`
	At       time.Time         `json:"at"`
	State    string            `json:"state,omitempty"`
	Error    string            `json:"error,omitempty"`
	Field    string            `json:"field,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Contacts []ContactResponse `json:"contacts,omitempty"`
	Contact  *ContactResponse  `json:"contact,omitempty"`
	Presence *PresenceResponse `json:"presence,omitempty"`
}

func NewEventMessage(ev events.Event) EventMessage {
	msg := EventMessage{
		Kind:   string(ev.Kind),
		At:     ev.At,
		Field:  ev.Field,
		Reason: ev.Reason,
	}

	switch ev.Kind {
	case events.ConnectionStateChanged:
		msg.State = ev.State.String()
	case events.ConnectionErrorChanged:
		msg.Error = ev.Error.String()
	case events.RosterReceived:
		for _, c := range ev.Contacts {
			msg.Contacts = append(msg.Contacts, ContactResponse{JID: c.JID, Name: c.Name})
		}
	case events.ContactUpdated, events.ContactRemoved, events.ContactChangeFailed:
		msg.Contact = &ContactResponse{JID: ev.Contact.JID, Name: ev.Contact.Name}
	case events.PresenceChanged:
		msg.Presence = &PresenceResponse{
			JID:          ev.Presence.JID,
			Resource:     ev.Presence.Resource,
			Availability: ev.Presence.Availability.String(),
			Status:       ev.Presence.Status,
		}
	}

	return msg
}
