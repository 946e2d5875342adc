package message

import (
	"encoding/json"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// FromProto converts a whatsmeow message into a tagged Message. It reports false for
// message types the CRM does not render (reactions, protocol messages and so on).
func FromProto(id string, pm *waE2E.Message) (*Message, bool) {
	if pm == nil {
		return nil, false
	}
	if inner := pm.GetDocumentWithCaptionMessage().GetMessage(); inner != nil {
		return FromProto(id, inner)
	}

	m := &Message{ID: id}

	switch {
	case pm.GetLocationMessage() != nil:
		loc := pm.GetLocationMessage()
		m.Type = string(KindLocation)
		m.Location = mustJSON(map[string]any{
			"latitude":  loc.GetDegreesLatitude(),
			"longitude": loc.GetDegreesLongitude(),
			"name":      loc.GetName(),
			"address":   loc.GetAddress(),
			"url":       loc.GetURL(),
		})

	case pm.GetLiveLocationMessage() != nil:
		loc := pm.GetLiveLocationMessage()
		m.Type = string(KindLocation)
		lat, lng := Coordinate(loc.GetDegreesLatitude()), Coordinate(loc.GetDegreesLongitude())
		m.Latitude, m.Longitude = &lat, &lng
		m.Caption = loc.GetCaption()

	case pm.GetPollCreationMessage() != nil || pm.GetPollCreationMessageV3() != nil:
		poll := pm.GetPollCreationMessage()
		if poll == nil {
			poll = pm.GetPollCreationMessageV3()
		}
		options := make([]string, 0, len(poll.GetOptions()))
		for _, opt := range poll.GetOptions() {
			options = append(options, opt.GetOptionName())
		}
		m.Type = string(KindPoll)
		m.Poll = mustJSON(map[string]any{"name": poll.GetName(), "options": options})

	case pm.GetContactMessage() != nil:
		c := pm.GetContactMessage()
		m.Type = string(KindContact)
		m.VCard = c.GetVcard()
		m.Contact = mustJSON(map[string]any{"name": c.GetDisplayName()})

	case len(pm.GetContactsArrayMessage().GetContacts()) > 0:
		// The CRM shows one card per message; the first contact stands for the array
		c := pm.GetContactsArrayMessage().GetContacts()[0]
		m.Type = string(KindContact)
		m.VCard = c.GetVcard()
		m.Contact = mustJSON(map[string]any{"name": c.GetDisplayName()})

	case pm.GetDocumentMessage() != nil:
		d := pm.GetDocumentMessage()
		m.Type = string(KindDocument)
		m.MediaURL = d.GetURL()
		m.Mimetype = d.GetMimetype()
		m.Filename = firstNonEmpty(d.GetFileName(), d.GetTitle())
		m.Caption = d.GetCaption()

	case pm.GetImageMessage() != nil:
		img := pm.GetImageMessage()
		m.Type = string(KindImage)
		m.MediaURL = img.GetURL()
		m.Mimetype = img.GetMimetype()
		m.Caption = img.GetCaption()

	case pm.GetStickerMessage() != nil:
		s := pm.GetStickerMessage()
		m.Type = string(KindImage)
		m.MediaURL = s.GetURL()
		m.Mimetype = s.GetMimetype()

	case pm.GetAudioMessage() != nil:
		a := pm.GetAudioMessage()
		m.Type = string(KindAudio)
		m.MediaURL = a.GetURL()
		m.Mimetype = a.GetMimetype()
		m.PTT = a.GetPTT()

	case pm.GetVideoMessage() != nil:
		v := pm.GetVideoMessage()
		m.Type = string(KindVideo)
		m.MediaURL = v.GetURL()
		m.Mimetype = v.GetMimetype()
		m.Caption = v.GetCaption()

	case pm.GetConversation() != "":
		m.Type = string(KindText)
		m.Content = pm.GetConversation()

	case pm.GetExtendedTextMessage().GetText() != "":
		m.Type = string(KindText)
		m.Content = pm.GetExtendedTextMessage().GetText()

	default:
		return nil, false
	}

	return m, true
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
