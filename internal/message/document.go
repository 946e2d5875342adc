package message

import (
	"net/url"
	"path"
	"strings"
)

// Document is a downloadable file attachment. Documents are never previewed.
type Document struct {
	FileName    string `json:"fileName"`
	Extension   string `json:"extension,omitempty"`
	Icon        string `json:"icon"`
	Mimetype    string `json:"mimetype,omitempty"`
	DownloadURL string `json:"downloadUrl"`
}

// DefaultDocumentIcon is used for extensions missing from the icon table
const DefaultDocumentIcon = "file"

var documentIcons = map[string]string{
	"pdf":  "file-pdf",
	"doc":  "file-word",
	"docx": "file-word",
	"odt":  "file-word",
	"rtf":  "file-word",
	"xls":  "file-excel",
	"xlsx": "file-excel",
	"ods":  "file-excel",
	"csv":  "file-excel",
	"ppt":  "file-powerpoint",
	"pptx": "file-powerpoint",
	"odp":  "file-powerpoint",
	"zip":  "file-archive",
	"rar":  "file-archive",
	"7z":   "file-archive",
	"tar":  "file-archive",
	"gz":   "file-archive",
	"txt":  "file-text",
	"md":   "file-text",
	"json": "file-code",
	"xml":  "file-code",
	"html": "file-code",
}

var mimeExtensions = map[string]string{
	"application/pdf":               "pdf",
	"application/msword":            "doc",
	"application/vnd.ms-excel":      "xls",
	"application/vnd.ms-powerpoint": "ppt",
	"application/zip":               "zip",
	"application/json":              "json",
	"text/plain":                    "txt",
	"text/csv":                      "csv",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
}

// DocumentIcon maps a file extension to its display icon
func DocumentIcon(ext string) string {
	if icon, ok := documentIcons[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return icon
	}
	return DefaultDocumentIcon
}

func isDocument(m *Message) bool {
	mt := strings.ToLower(m.Mimetype)
	if strings.HasPrefix(mt, "application/") || strings.HasPrefix(mt, "text/") {
		return true
	}
	_, known := documentIcons[urlExtension(m.MediaURL)]
	return known
}

// ExtractDocument builds the download view. It fails without a media URL.
func ExtractDocument(m *Message) (*Document, bool) {
	if strings.TrimSpace(m.MediaURL) == "" {
		return nil, false
	}

	d := &Document{
		FileName:    strings.TrimSpace(m.Filename),
		Mimetype:    m.Mimetype,
		DownloadURL: m.MediaURL,
	}

	if d.FileName == "" {
		if u, err := url.Parse(m.MediaURL); err == nil {
			if base := path.Base(u.Path); base != "." && base != "/" {
				d.FileName = base
			}
		}
	}

	d.Extension = strings.ToLower(strings.TrimPrefix(path.Ext(d.FileName), "."))
	if d.Extension == "" {
		d.Extension = urlExtension(m.MediaURL)
	}
	if d.Extension == "" {
		mt, _, _ := strings.Cut(strings.ToLower(m.Mimetype), ";")
		d.Extension = mimeExtensions[strings.TrimSpace(mt)]
	}
	if d.FileName == "" {
		d.FileName = "document"
		if d.Extension != "" {
			d.FileName += "." + d.Extension
		}
	}

	d.Icon = DocumentIcon(d.Extension)
	return d, true
}

func urlExtension(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
}
