package message

import (
	"fmt"
	"strings"
)

// Text renders a view as a plain-text card for terminals and logs
func Text(v *View) string {
	if v == nil {
		return ""
	}

	var b strings.Builder
	switch v.Kind {
	case KindLocation:
		l := v.Location
		fmt.Fprintf(&b, "[location] %s\n", l.Title)
		if l.Address != "" {
			b.WriteString(l.Address + "\n")
		}
		b.WriteString(l.MapsURL)

	case KindPoll:
		p := v.Poll
		fmt.Fprintf(&b, "[poll] %s", p.Title)
		for i, opt := range p.Options {
			fmt.Fprintf(&b, "\n  %d. %s", i+1, opt)
		}

	case KindContact:
		c := v.Contact
		fmt.Fprintf(&b, "[contact] %s", c.Name)
		if c.Phone != "" && c.Phone != c.Name {
			b.WriteString("\n" + c.Phone)
		}

	case KindDocument:
		d := v.Document
		fmt.Fprintf(&b, "[%s] %s\n%s", d.Icon, d.FileName, d.DownloadURL)

	default:
		fmt.Fprintf(&b, "[%s]", v.Kind)
	}
	return b.String()
}
