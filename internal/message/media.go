package message

import "strings"

// MediaView describes image, audio and video messages rendered by the chat list
type MediaView struct {
	Kind          Kind   `json:"kind"`
	URL           string `json:"url"`
	Mimetype      string `json:"mimetype,omitempty"`
	Caption       string `json:"caption,omitempty"`
	Voice         bool   `json:"voice,omitempty"`
	Transcribable bool   `json:"transcribable"`
}

func mediaKind(mimetype string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimetype))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	}
	return KindUnknown
}

// Media returns the media view of an image, audio or video message
func (d *Dispatcher) Media(m *Message) (*MediaView, bool) {
	if m == nil || strings.TrimSpace(m.MediaURL) == "" {
		return nil, false
	}

	kind := d.Classify(m)
	switch kind {
	case KindImage, KindAudio, KindVideo:
	default:
		return nil, false
	}

	tag := strings.ToLower(m.Type)
	v := &MediaView{
		Kind:     kind,
		URL:      m.MediaURL,
		Mimetype: m.Mimetype,
		Caption:  firstNonEmpty(m.Caption, m.Body),
		Voice:    kind == KindAudio && (m.PTT || tag == "ptt" || tag == "voice"),
	}
	v.Transcribable = kind == KindAudio
	return v, true
}
