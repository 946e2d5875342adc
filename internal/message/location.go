package message

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Location is a shared map position
type Location struct {
	Title     string  `json:"title"`
	Address   string  `json:"address,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	MapsURL   string  `json:"mapsUrl"`
}

func isLocation(m *Message) bool {
	return present(m.Location) || m.Latitude != nil || m.Longitude != nil
}

// ExtractLocation reads coordinates and labels, checking alternative field names in
// priority order. It fails when no coordinates can be found.
func ExtractLocation(m *Message) (*Location, bool) {
	obj := object(m.Location)

	lat, latOK := pickFloat(obj, "latitude", "lat", "degreesLatitude")
	lng, lngOK := pickFloat(obj, "longitude", "lng", "lon", "long", "degreesLongitude")
	if !latOK && m.Latitude != nil {
		lat, latOK = float64(*m.Latitude), true
	}
	if !lngOK && m.Longitude != nil {
		lng, lngOK = float64(*m.Longitude), true
	}
	if !latOK || !lngOK {
		if s := rawString(m.Location); s != "" {
			lat, lng, latOK = parseLatLng(s)
			lngOK = latOK
		}
	}
	if !latOK || !lngOK {
		return nil, false
	}

	loc := &Location{
		Title:     pickString(obj, "name", "title", "description"),
		Address:   pickString(obj, "address", "formattedAddress"),
		Latitude:  lat,
		Longitude: lng,
		MapsURL:   MapsURL(lat, lng),
	}
	if loc.Title == "" {
		loc.Title = firstLine(m.Text())
	}
	if loc.Title == "" {
		loc.Title = "Shared location"
	}
	if loc.Address == "" {
		loc.Address = m.Caption
	}
	return loc, true
}

// MapsURL builds an external map link for the coordinates
func MapsURL(lat, lng float64) string {
	q := strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
	return "https://www.google.com/maps/search/?api=1&query=" + url.QueryEscape(q)
}

// parseLatLng reads "lat,lng"
func parseLatLng(s string) (float64, float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func (l *Location) String() string {
	return fmt.Sprintf("%s (%g, %g)", l.Title, l.Latitude, l.Longitude)
}
