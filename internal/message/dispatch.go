package message

import "strings"

// View is the rendering decision for a message. Exactly one payload is set.
type View struct {
	Kind     Kind      `json:"kind"`
	Sender   Sender    `json:"sender"`
	Location *Location `json:"location,omitempty"`
	Poll     *Poll     `json:"poll,omitempty"`
	Contact  *Contact  `json:"contact,omitempty"`
	Document *Document `json:"document,omitempty"`
}

// Dispatcher picks the render strategy for a message
type Dispatcher struct {
	// Heuristics enables field-presence and content matching for messages whose type
	// tag is missing or unrecognised
	Heuristics bool
}

// NewDispatcher returns a dispatcher with heuristics enabled
func NewDispatcher() *Dispatcher {
	return &Dispatcher{Heuristics: true}
}

type predicate struct {
	kind    Kind
	matches func(*Message) bool
}

// heuristicOrder is first-match-wins; the predicates overlap
var heuristicOrder = []predicate{
	{KindLocation, isLocation},
	{KindPoll, isPoll},
	{KindContact, isContact},
	{KindDocument, isDocument},
}

// Classify returns the kind of m. A type tag naming one of the dispatcher kinds is
// authoritative. Text and media tags still go through the heuristic predicates, since
// backend messages carry contacts, polls and locations under a plain text tag.
func (d *Dispatcher) Classify(m *Message) Kind {
	if m == nil {
		return KindUnknown
	}
	tagged, ok := ParseKind(m.Type)
	if ok && dispatched(tagged) {
		return tagged
	}

	if d.Heuristics {
		for _, p := range heuristicOrder {
			if p.matches(m) {
				return p.kind
			}
		}
	}
	if ok {
		return tagged
	}
	if !d.Heuristics {
		return KindUnknown
	}

	if k := mediaKind(m.Mimetype); k != KindUnknown && m.MediaURL != "" {
		return k
	}
	if strings.TrimSpace(m.Text()) != "" {
		return KindText
	}
	return KindUnknown
}

func dispatched(k Kind) bool {
	switch k {
	case KindLocation, KindPoll, KindContact, KindDocument:
		return true
	}
	return false
}

// Dispatch renders location, poll, contact and document messages. It reports false
// when the message belongs to the caller's default text or media rendering, or when
// the matched kind lacks the fields it needs.
func (d *Dispatcher) Dispatch(m *Message, sender Sender) (*View, bool) {
	kind := d.Classify(m)
	view := &View{Kind: kind, Sender: sender}

	var ok bool
	switch kind {
	case KindLocation:
		view.Location, ok = ExtractLocation(m)
	case KindPoll:
		view.Poll, ok = ExtractPoll(m)
	case KindContact:
		view.Contact, ok = ExtractContact(m)
	case KindDocument:
		view.Document, ok = ExtractDocument(m)
	}

	if !ok {
		return nil, false
	}
	return view, true
}
