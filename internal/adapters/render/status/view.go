package status

import (
	"fmt"
	"strings"

	"github.com/bnema/kaidan/internal/application"
	"github.com/bnema/kaidan/internal/domain"
	"github.com/bnema/kaidan/internal/events"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	// Contacts are listed below the status when set.
	Contacts []domain.Contact
}

func renderView(status application.Status, opts RenderOptions, s styles) string {
	lines := []string{s.title.Render("Kaidan")}

	if strings.TrimSpace(status.JID) == "" {
		lines = append(lines, s.empty.Render("No account configured. Run `kaidan login` first."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	lines = append(lines, s.section.Render(renderAccount(status, s)))

	if len(opts.Contacts) > 0 {
		lines = append(lines, s.section.Render(renderContacts(opts.Contacts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderAccount(status application.Status, s styles) string {
	parts := []string{
		s.account.Render("Account: " + status.JID),
		keyValue("server:", serverLabel(status), s),
		keyValue("state:", stateLabel(status.State, s), s),
	}

	if status.Error != domain.NoError {
		parts = append(parts, s.warning.Render("error: "+status.Error.Message()))
	}
	if !status.HasCredentials {
		parts = append(parts, s.warning.Render("password missing"))
	}

	parts = append(parts,
		keyValue("online on start:", yesNo(status.Online), s),
		keyValue("tasks:", fmt.Sprintf("%d active, %d pending", status.ActiveTasks, status.PendingTasks), s),
		keyValue("contacts:", fmt.Sprintf("%d, %d online", status.RosterSize, status.OnlineContacts), s),
	)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderContacts(contacts []domain.Contact, s styles) string {
	lines := []string{s.header.Render(fmt.Sprintf("roster: %d", len(contacts)))}
	for _, contact := range contacts {
		name := strings.TrimSpace(contact.Name)
		if name == "" {
			lines = append(lines, s.contact.Render(contact.JID))
			continue
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			s.contact.Render(name),
			" ",
			s.contactJID.Render("<"+contact.JID+">"),
		))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func renderFooter(last events.Kind, seen int, failure error, s styles) string {
	parts := []string{}
	if failure != nil {
		parts = append(parts, s.warning.Render("refresh failed: "+failure.Error()))
	}
	summary := "waiting for events"
	if seen > 0 {
		summary = fmt.Sprintf("%d events, last: %s", seen, last)
	}
	parts = append(parts, s.footer.Render(summary+" · q to quit"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func keyValue(key, value string, s styles) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, s.key.Render(key), " ", s.detail.Render(value))
}

func serverLabel(status application.Status) string {
	host := status.Host
	if host == "" {
		host = domain.JIDDomain(status.JID)
	}

	origin := "default"
	if status.CustomHost || status.CustomPort {
		origin = "custom"
	}

	return fmt.Sprintf("%s:%d (%s)", host, status.Port, origin)
}

func stateLabel(state domain.ConnectionState, s styles) string {
	switch state {
	case domain.StateConnected:
		return s.connected.Render("● connected")
	case domain.StateConnecting:
		return s.connecting.Render("◐ connecting")
	default:
		return s.disconnected.Render("○ " + state.String())
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
