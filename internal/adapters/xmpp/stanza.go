package xmpp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"

	"github.com/bnema/kaidan/internal/domain"
)

const (
	nsRegister = "jabber:iq:register"
	nsRoster   = "jabber:iq:roster"
)

type rosterQuery struct {
	XMLName xml.Name     `xml:"query"`
	Items   []rosterItem `xml:"item"`
}

type rosterItem struct {
	JID          string `xml:"jid,attr"`
	Name         string `xml:"name,attr"`
	Subscription string `xml:"subscription,attr"`
}

// parseRoster reads the contacts of a roster result payload.
func parseRoster(payload []byte) ([]domain.Contact, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, nil
	}

	var query rosterQuery
	if err := xml.Unmarshal(payload, &query); err != nil {
		return nil, err
	}
	if query.XMLName.Space != "" && query.XMLName.Space != nsRoster {
		return nil, errors.New("unexpected roster namespace " + query.XMLName.Space)
	}

	contacts := make([]domain.Contact, 0, len(query.Items))
	for _, item := range query.Items {
		if item.JID == "" || item.Subscription == "remove" {
			continue
		}
		contacts = append(contacts, domain.Contact{JID: domain.BareJID(item.JID), Name: item.Name})
	}

	return contacts, nil
}

// iqError extracts the condition and text of an IQ error payload.
func iqError(payload []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(payload))

	inError := false
	inText := false
	condition := ""
	var text strings.Builder

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "error":
				inError = true
			case inError && t.Name.Local == "text":
				inText = true
			case inError && condition == "":
				condition = t.Name.Local
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "text":
				inText = false
			case "error":
				inError = false
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}

	msg := strings.TrimSpace(text.String())
	switch {
	case msg != "" && condition != "":
		return errors.New(condition + ": " + msg)
	case msg != "":
		return errors.New(msg)
	case condition != "":
		return errors.New(condition)
	default:
		return errors.New("request rejected by server")
	}
}

func escape(s string) string {
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func passwordChangeBody(jid, password string) string {
	return "<username>" + escape(domain.JIDLocal(jid)) + "</username><password>" + escape(password) + "</password>"
}

// rosterItemBody adds or renames a roster item. An empty name is left out so
// that the server keeps none.
func rosterItemBody(contact domain.Contact) string {
	if contact.Name == "" {
		return "<item jid='" + escape(contact.JID) + "'/>"
	}
	return "<item jid='" + escape(contact.JID) + "' name='" + escape(contact.Name) + "'/>"
}

func rosterRemoveBody(jid string) string {
	return "<item jid='" + escape(jid) + "' subscription='remove'/>"
}

func subscribeStanza(jid, message string) string {
	open := "<presence to='" + escape(jid) + "' type='subscribe'"
	if message == "" {
		return open + "/>"
	}
	return open + "><status>" + escape(message) + "</status></presence>"
}
