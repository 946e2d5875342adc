package message

import (
	"regexp"
	"strings"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// Poll is a question with selectable options
type Poll struct {
	Title   string   `json:"title"`
	Options []string `json:"options"`
}

var (
	numericMarker = regexp.MustCompile(`^(\d{1,2})\s*[.)\-:]\s*(\S.*)$`)
	pollKeywords  = []string{"enquete", "poll:", "me conte:"}
)

// minPollLines is how many keycap lines free text needs before it reads as a poll
const minPollLines = 2

func isPoll(m *Message) bool {
	if present(m.Poll) || present(m.PollData) {
		return true
	}

	text := m.Text()
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, kw := range pollKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	keycaps := 0
	for _, line := range strings.Split(text, "\n") {
		if _, ok := keycapOption(line); ok {
			keycaps++
		}
	}
	return keycaps >= minPollLines
}

// ExtractPoll reads the title and options from the structured poll payload, falling
// back to parsing numbered lines of the free text.
func ExtractPoll(m *Message) (*Poll, bool) {
	p := &Poll{}

	for _, raw := range [][]byte{m.Poll, m.PollData} {
		obj := object(raw)
		if obj == nil {
			continue
		}
		if p.Title == "" {
			p.Title = pickString(obj, "name", "title", "question")
		}
		if len(p.Options) == 0 {
			p.Options = structuredOptions(obj["options"])
		}
	}

	if len(p.Options) == 0 || p.Title == "" {
		title, options := parsePollText(m.Text())
		if p.Title == "" {
			p.Title = title
		}
		if len(p.Options) == 0 {
			p.Options = options
		}
	}

	if p.Title == "" && len(p.Options) == 0 {
		return nil, false
	}
	return p, true
}

func structuredOptions(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	var out []string
	for _, item := range items {
		switch o := item.(type) {
		case string:
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		case map[string]any:
			if name := pickString(o, "name", "optionName", "text", "title", "value"); name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}

// parsePollText takes the first non-option line as the title and every marked line
// as an option
func parsePollText(text string) (string, []string) {
	var title string
	var options []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if opt, ok := optionLine(line); ok {
			options = append(options, opt)
			continue
		}
		if title == "" {
			title = line
		}
	}
	return title, options
}

func optionLine(line string) (string, bool) {
	if opt, ok := keycapOption(line); ok {
		return opt, true
	}
	if m := numericMarker.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
		return strings.TrimSpace(m[2]), true
	}
	return "", false
}

// keycapOption recognises lines starting with a keycap emoji such as 1️⃣ or 🔟
func keycapOption(line string) (string, bool) {
	line = strings.TrimSpace(line)
	cluster, rest, _, _ := uniseg.FirstGraphemeClusterInString(line, -1)
	if cluster == "" || !gomoji.ContainsEmoji(cluster) {
		return "", false
	}

	info, err := gomoji.GetInfo(cluster)
	if err != nil || info.SubGroup != "keycap" {
		return "", false
	}

	rest = strings.TrimSpace(strings.TrimLeft(rest, " \t.-):"))
	if rest == "" {
		return "", false
	}
	return rest, true
}
