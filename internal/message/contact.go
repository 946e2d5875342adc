package message

import (
	"regexp"
	"strings"
)

// Contact is a shared contact card
type Contact struct {
	Name        string `json:"name"`
	Phone       string `json:"phone,omitempty"`
	VCard       string `json:"vcard,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	FileName    string `json:"fileName"`
}

var (
	vcardName  = regexp.MustCompile(`(?mi)^FN[^:\r\n]*:[ \t]*(.+?)[ \t]*\r?$`)
	vcardPhone = regexp.MustCompile(`(?mi)^TEL[^:\r\n]*:[ \t]*(.+?)[ \t]*\r?$`)
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

const vcardBegin = "BEGIN:VCARD"

func isContact(m *Message) bool {
	if present(m.Contact) || strings.TrimSpace(m.VCard) != "" {
		return true
	}
	return strings.Contains(strings.ToUpper(m.Text()), vcardBegin)
}

// ExtractContact reads the display name and phone from structured fields first, then
// from the FN and TEL lines of the raw vCard.
func ExtractContact(m *Message) (*Contact, bool) {
	c := &Contact{DownloadURL: m.MediaURL}

	obj := object(m.Contact)
	c.Name = pickString(obj, "name", "displayName", "fullName", "formattedName")
	c.Phone = pickString(obj, "phone", "phoneNumber", "number", "wa_id")

	c.VCard = firstNonEmpty(
		m.VCard,
		pickString(obj, "vcard", "vCard"),
		rawString(m.Contact),
		embeddedVCard(m.Text()),
	)
	if !strings.Contains(strings.ToUpper(c.VCard), vcardBegin) {
		c.VCard = ""
	}

	if c.VCard != "" {
		name, phone := ParseVCard(c.VCard)
		if c.Name == "" {
			c.Name = name
		}
		if c.Phone == "" {
			c.Phone = phone
		}
	}

	if c.Name == "" && c.Phone == "" && c.VCard == "" {
		return nil, false
	}
	if c.Name == "" {
		c.Name = c.Phone
	}
	c.FileName = vcfFileName(c.Name)
	return c, true
}

// ParseVCard returns the FN and first TEL values of a vCard
func ParseVCard(card string) (name, phone string) {
	if m := vcardName.FindStringSubmatch(card); m != nil {
		name = m[1]
	}
	if m := vcardPhone.FindStringSubmatch(card); m != nil {
		phone = m[1]
	}
	return name, phone
}

// VCF returns the card as a downloadable .vcf body, building one from the name and
// phone when the message carried no vCard text
func (c *Contact) VCF() []byte {
	card := c.VCard
	if card == "" {
		var b strings.Builder
		b.WriteString("BEGIN:VCARD\nVERSION:3.0\n")
		b.WriteString("FN:" + c.Name + "\n")
		if c.Phone != "" {
			b.WriteString("TEL;TYPE=CELL:" + c.Phone + "\n")
		}
		b.WriteString("END:VCARD\n")
		card = b.String()
	}

	card = strings.ReplaceAll(card, "\r\n", "\n")
	return []byte(strings.ReplaceAll(card, "\n", "\r\n"))
}

// embeddedVCard cuts a BEGIN:VCARD ... END:VCARD block out of free text
func embeddedVCard(text string) string {
	upper := strings.ToUpper(text)
	start := strings.Index(upper, vcardBegin)
	if start < 0 {
		return ""
	}
	end := strings.Index(upper[start:], "END:VCARD")
	if end < 0 {
		return text[start:]
	}
	return text[start : start+end+len("END:VCARD")]
}

func vcfFileName(name string) string {
	base := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if base == "" {
		base = "contact"
	}
	return base + ".vcf"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
