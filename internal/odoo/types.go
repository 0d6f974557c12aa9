package odoo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// FlexString accepts the loose id/text encodings Odoo controllers emit:
// strings, numbers, false/null for "unset" and many2one [id, "name"] pairs
// (which collapse to the id).
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	*f = FlexString(flexValue(data, false))
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int parses the value as an integer, returning 0 when it is not one.
func (f FlexString) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		if fl, ferr := strconv.ParseFloat(strings.TrimSpace(string(f)), 64); ferr == nil {
			return int(fl)
		}
		return 0
	}
	return n
}

// flexValue renders a JSON value as display text. For many2one pairs
// preferName picks the name half instead of the id.
func flexValue(data []byte, preferName bool) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ""
		}
		return s
	case 'n', 'f':
		// null, false
		return ""
	case 't':
		return "true"
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil || len(items) == 0 {
			return ""
		}
		if preferName && len(items) == 2 {
			return flexValue(items[1], false)
		}
		return flexValue(items[0], false)
	case '{':
		return ""
	}
	// number
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return ""
	}
	return n.String()
}

// Option is an id/name pair used by the booking metadata lists.
type Option struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// Patient is a patient record as returned by the meta endpoint.
type Patient struct {
	ID         FlexString `json:"id"`
	Name       string     `json:"name"`
	Mobile     FlexString `json:"mobile"`
	Age        FlexString `json:"age"`
	MFN        FlexString `json:"mfn"`
	MRN        FlexString `json:"mrn"`
	CoupleID   FlexString `json:"coupleId"`
	CoupleName FlexString `json:"coupleName"`
}

// Meta is the booking form's reference data.
type Meta struct {
	Cycles   []Option  `json:"cycles"`
	Doctors  []Option  `json:"doctors"`
	Patients []Patient `json:"patients"`
}

// WriteResult is the acknowledgement of an appointment write.
type WriteResult struct {
	Success bool       `json:"success"`
	Message string     `json:"message,omitempty"`
	ID      FlexString `json:"id,omitempty"`
}

// UpdateRequest moves an appointment. CycleID is only sent when the
// appointment changes lane.
type UpdateRequest struct {
	AppointmentID string `json:"appointment_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	CycleID       string `json:"cycle_id,omitempty"`
}

// SlotsRequest asks for the bookable labels of one cycle on one date.
type SlotsRequest struct {
	Date      string `json:"date"`
	CycleID   string `json:"cycle_id"`
	CycleName string `json:"cycle_name"`
}

// Slots is the server's view of a cycle's day: every slot it knows about,
// the free ones, and the step it books in.
type Slots struct {
	All       []string `json:"all"`
	Available []string `json:"available"`
	// Step is in minutes; 0 when the server did not say.
	Step    int    `json:"step"`
	Service string `json:"service"`
}

// PatientResult is the acknowledgement of a patient creation.
type PatientResult struct {
	Success   bool       `json:"success"`
	PatientID FlexString `json:"patient_id"`
	Name      string     `json:"name,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// HTTPError is a non-2xx response or a transport failure with a status.
type HTTPError struct {
	Status int
	Text   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("odoo API error: %d %s", e.Status, e.Text)
}

// DomainError is an {"error": ...} payload inside an otherwise successful
// response.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return "odoo: " + e.Message
}

// FormValues encodes create-appointment fields the way the Odoo controller
// reads them: strings verbatim, nil as "", everything else (arrays, numbers,
// booleans) JSON-encoded.
func FormValues(fields map[string]any) (url.Values, error) {
	out := make(url.Values, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			out[k] = []string{""}
		case string:
			out[k] = []string{val}
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return nil, fmt.Errorf("encode field %s: %w", k, err)
			}
			out[k] = []string{string(b)}
		}
	}
	return out, nil
}
