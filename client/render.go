package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/mahaj/travelchat/pkg/model"
)

var (
	// Styles
	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	peerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

// renderMessage formats one transcript line. Messages still waiting for the
// server are dimmed and marked.
func renderMessage(m model.Message, self model.UserIdentity, peer model.UserIdentity) string {
	name := peerStyle.Render(displayName(peer))
	if m.SenderID == self.ID {
		name = selfStyle.Render(displayName(self))
	}
	if m.DeliveryState == model.Pending {
		return fmt.Sprintf("%s: %s %s", name, pendingStyle.Render(m.Body), pendingStyle.Render("(sending)"))
	}
	return fmt.Sprintf("%s: %s", name, m.Body)
}

func renderUser(u model.UserIdentity) string {
	line := displayName(u) + " " + idStyle.Render("@"+u.ID)
	if u.Handle != "" && u.Handle != u.ID {
		line += " " + idStyle.Render("("+u.Handle+")")
	}
	return line
}

func renderNotice(msg string) string {
	return noticeStyle.Render(msg)
}

func displayName(u model.UserIdentity) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}
