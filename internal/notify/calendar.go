package notify

import (
	"fmt"
	"strings"
	"time"
)

const icsTimeLayout = "20060102T150405Z"

// CalendarInvite describes a single VEVENT.
type CalendarInvite struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Organizer   Recipient
	Attendee    Recipient
	Sequence    int
}

// ICS renders the invite as an RFC 5545 calendar with CRLF line endings.
func (c CalendarInvite) ICS(now time.Time) []byte {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//itoolbox//randevu//EN",
		"METHOD:REQUEST",
		"BEGIN:VEVENT",
		"UID:" + c.UID,
		fmt.Sprintf("SEQUENCE:%d", c.Sequence),
		"DTSTAMP:" + now.UTC().Format(icsTimeLayout),
		"DTSTART:" + c.Start.UTC().Format(icsTimeLayout),
		"DTEND:" + c.End.UTC().Format(icsTimeLayout),
		"SUMMARY:" + escapeICS(c.Summary),
		"DESCRIPTION:" + escapeICS(c.Description),
	}
	if c.Organizer.Email != "" {
		lines = append(lines, fmt.Sprintf("ORGANIZER;CN=%s:mailto:%s", paramICS(c.Organizer.Name), c.Organizer.Email))
	}
	if c.Attendee.Email != "" {
		lines = append(lines, fmt.Sprintf("ATTENDEE;CN=%s;RSVP=FALSE:mailto:%s", paramICS(c.Attendee.Name), c.Attendee.Email))
	}
	lines = append(lines, "STATUS:CONFIRMED", "END:VEVENT", "END:VCALENDAR")

	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

var icsEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`, "\r", "")

func escapeICS(s string) string {
	return icsEscaper.Replace(s)
}

// paramICS renders a property parameter value. Backslash escapes do not apply
// to parameters: values holding ',', ';' or ':' are DQUOTE-quoted, and DQUOTE
// and control characters cannot appear at all.
func paramICS(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '"' || (r < 0x20 && r != '\t') || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if strings.ContainsAny(s, ",;:") {
		return `"` + s + `"`
	}
	return s
}
