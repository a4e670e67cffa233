package device

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// TriState is a three-valued boolean for telemetry fields where "not
// supplied" is distinct from false. The zero value is TriUnset, so a
// payload that omits the field decodes to Unset without special casing.
type TriState int

// TriState values.
const (
	TriUnset TriState = iota
	TriTrue
	TriFalse
)

// UnmarshalJSON decodes a JSON boolean into the TriState. null and any
// non-boolean value decode to TriUnset; external sources are not trusted
// to be well-typed, and a malformed flag must not reject the whole payload.
func (t *TriState) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true":
		*t = TriTrue
	case "false":
		*t = TriFalse
	default:
		*t = TriUnset
	}
	return nil
}

// MarshalJSON encodes the TriState back to a JSON boolean or null.
func (t TriState) MarshalJSON() ([]byte, error) {
	switch t {
	case TriTrue:
		return []byte("true"), nil
	case TriFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// String returns a readable form for logging.
func (t TriState) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "unset"
	}
}

// OptionalInt is an optional integer that coerces JSON numbers and
// numeric strings. Telemetry sources variously report battery level as
// 80, 80.0 or "80"; all three decode to the same value.
type OptionalInt struct {
	Value int
	Set   bool
}

// UnmarshalJSON decodes a number or numeric string. Values that cannot
// be coerced leave the field unset rather than failing the payload.
func (o *OptionalInt) UnmarshalJSON(data []byte) error {
	f, ok := coerceFloat(data)
	if !ok {
		*o = OptionalInt{}
		return nil
	}
	*o = OptionalInt{Value: int(f), Set: true}
	return nil
}

// MarshalJSON encodes the value, or null when unset.
func (o OptionalInt) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// OptionalFloat is an optional float that coerces JSON numbers and
// numeric strings, used for coordinates.
type OptionalFloat struct {
	Value float64
	Set   bool
}

// UnmarshalJSON decodes a number or numeric string; uncoercible values
// leave the field unset.
func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	f, ok := coerceFloat(data)
	if !ok {
		*o = OptionalFloat{}
		return nil
	}
	*o = OptionalFloat{Value: f, Set: true}
	return nil
}

// MarshalJSON encodes the value, or null when unset.
func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// coerceFloat parses a JSON number or a numeric string.
func coerceFloat(data []byte) (float64, bool) {
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return 0, false
	}
	// Unquote string form
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(str)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// PayloadPosition is the coordinate pair carried by a telemetry payload.
type PayloadPosition struct {
	Lat OptionalFloat `json:"lat"`
	Lon OptionalFloat `json:"lon"`
}

// ImageRef is the optional nested image descriptor of a payload.
type ImageRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Ref returns the preferred opaque reference for the image: the URL if
// present, otherwise the ID.
func (i *ImageRef) Ref() string {
	if i == nil {
		return ""
	}
	if i.URL != "" {
		return i.URL
	}
	return i.ID
}

// Payload is one external telemetry record.
//
// Payloads are ephemeral: they are reconciled into the matching Device and
// then discarded, never stored verbatim. Serial is the only required field;
// everything else is optional and absence is distinguishable from a zero
// or false value.
type Payload struct {
	Serial      string           `json:"serial"`
	Model       string           `json:"model"`
	Type        string           `json:"type"`
	Kit         string           `json:"op"`
	Description string           `json:"description"`
	Position    *PayloadPosition `json:"position"`
	Battery     OptionalInt      `json:"battery"`
	Tampered    TriState         `json:"tampered"`
	Online      TriState         `json:"online"`
	Timestamp   string           `json:"timestamp"`
	Image       *ImageRef        `json:"image"`
}

// Validate checks the payload for the required serial field.
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.Serial) == "" {
		return ErrMissingSerial
	}
	return nil
}

// eventKind classifies the payload for event logging: payloads carrying
// an image descriptor (or an image type hint) record IMAGE events,
// everything else records STATUS.
func (p *Payload) eventKind() EventKind {
	if p.Image != nil && p.Image.Ref() != "" {
		return EventImage
	}
	if strings.HasPrefix(strings.ToLower(p.Type), "image") {
		return EventImage
	}
	return EventStatus
}
