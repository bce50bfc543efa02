package main

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/client"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	primaryColor = lipgloss.Color("39")  // Blue
	successColor = lipgloss.Color("42")  // Green
	errorColor   = lipgloss.Color("196") // Red
	mutedColor   = lipgloss.Color("243") // Gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	numberStyle = lipgloss.NewStyle().
			Width(8).
			Align(lipgloss.Right).
			PaddingRight(2)

	nameStyle = lipgloss.NewStyle().
			Width(32).
			PaddingRight(2)

	urlStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	okStyle = lipgloss.NewStyle().
		Foreground(successColor)

	failStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)
)

// renderChannels writes one row per channel in the given order
func renderChannels(w io.Writer, channels []client.Channel) {
	if len(channels) == 0 {
		fmt.Fprintln(w, urlStyle.Render("no channels"))
		return
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		numberStyle.Render("NUMBER"),
		nameStyle.Render("NAME"),
		"URL",
	)
	fmt.Fprintln(w, headerStyle.Render(header))

	for _, ch := range channels {
		row := lipgloss.JoinHorizontal(lipgloss.Top,
			numberStyle.Render(strconv.FormatUint(uint64(ch.Number), 10)),
			nameStyle.Render(truncate(ch.Name, 30)),
			urlStyle.Render(redactURL(ch.URL)),
		)
		fmt.Fprintln(w, row)
	}
}

// renderSummary writes the one-line outcome of a finished session
func renderSummary(w io.Writer, rec client.SessionRecord) {
	outcome := okStyle.Render(rec.Outcome)
	switch rec.Outcome {
	case client.OutcomeClosed, client.OutcomeCancelled:
	default:
		outcome = failStyle.Render(rec.Outcome)
	}

	parts := []string{
		fmt.Sprintf("%s %s", headerStyle.Render("session"), rec.ID),
		fmt.Sprintf("server %s", rec.Server),
	}
	if rec.ServerName != "" {
		parts = append(parts, fmt.Sprintf("(%s %s, htsp v%d)", rec.ServerName, rec.ServerVersion, rec.ProtocolVersion))
	}
	parts = append(parts,
		fmt.Sprintf("%d channels", rec.Channels),
		fmt.Sprintf("sent %s", humanize.Bytes(rec.BytesSent)),
		fmt.Sprintf("received %s", humanize.Bytes(rec.BytesReceived)),
		outcome,
	)
	fmt.Fprintln(w, strings.Join(parts, "  "))
	if rec.Error != "" {
		fmt.Fprintln(w, failStyle.Render("error: ")+rec.Error)
	}
}

// renderHistory writes stored sessions, newest first
func renderHistory(w io.Writer, records []client.SessionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, urlStyle.Render("no sessions recorded"))
		return
	}
	for _, rec := range records {
		ended := "running"
		if !rec.EndedAt.IsZero() {
			ended = rec.EndedAt.Sub(rec.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %-24s %-16s %4d channels  %-8s %s\n",
			rec.StartedAt.Format(time.RFC3339),
			rec.Server,
			rec.Outcome,
			rec.Channels,
			ended,
			humanize.Time(rec.StartedAt),
		)
	}
}

// redactURL hides the password of an htsp:// URL for display
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
