package entity

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"
)

// OrderState is the lifecycle position of an order.
type OrderState string

const (
	OrderStateDraft     OrderState = "Draft"
	OrderStateSubmitted OrderState = "Submitted"
)

func (s OrderState) String() string { return string(s) }

// TimestampLayout matches the millisecond UTC form the backend stores.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp renders t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// File is a backend file reference.
type File struct {
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Order is the backend order record as seen by the gateway. Attributes
// holds the record exactly as fetched; on write, only the fields the
// gateway changed are rendered over it.
type Order struct {
	OrderNumber     string
	State           OrderState
	CreationDate    string
	UpdateDate      string
	SubmissionDate  string
	Contents        string
	ProjectNumber   string
	Name            string
	ApplicationForm *File
	Attributes      map[string]json.RawMessage
}

const (
	keyOrderNumber     = "orderNumber"
	keyState           = "state"
	keyCreationDate    = "creationDate"
	keyUpdateDate      = "updateDate"
	keySubmissionDate  = "submissionDate"
	keyContents        = "contents"
	keyProjectNumber   = "projectNumber"
	keyName            = "name"
	keyApplicationForm = "applicationForm"
)

// Clone returns a deep copy.
func (o Order) Clone() Order {
	if o.ApplicationForm != nil {
		form := *o.ApplicationForm
		o.ApplicationForm = &form
	}
	o.Attributes = maps.Clone(o.Attributes)
	return o
}

// Submit moves the order to Submitted at now and reduces the application
// form to its id, which is all the backend accepts on write.
func (o *Order) Submit(now time.Time) {
	ts := Timestamp(now)
	o.State = OrderStateSubmitted
	o.SubmissionDate = ts
	o.UpdateDate = ts
	if o.ApplicationForm != nil {
		if o.ApplicationForm.ID == "" {
			o.ApplicationForm = nil
		} else {
			o.ApplicationForm = &File{ID: o.ApplicationForm.ID}
		}
	}
}

// MarshalJSON renders the order with applicationForm as an object.
func (o Order) MarshalJSON() ([]byte, error) {
	fields := o.fields()
	if o.ApplicationForm != nil {
		fields[keyApplicationForm] = o.ApplicationForm
	}
	return json.Marshal(fields)
}

// MarshalBackend renders the write payload: applicationForm collapses to
// its id and is omitted when absent.
func (o Order) MarshalBackend() ([]byte, error) {
	fields := o.fields()
	delete(fields, keyApplicationForm)
	if o.ApplicationForm != nil && o.ApplicationForm.ID != "" {
		fields[keyApplicationForm] = o.ApplicationForm.ID
	}
	return json.Marshal(fields)
}

func (o Order) fields() map[string]any {
	fields := make(map[string]any, len(o.Attributes)+9)
	for k, v := range o.Attributes {
		fields[k] = v
	}
	o.overlay(fields, keyOrderNumber, o.OrderNumber)
	o.overlay(fields, keyState, string(o.State))
	o.overlay(fields, keyCreationDate, o.CreationDate)
	o.overlay(fields, keyUpdateDate, o.UpdateDate)
	o.overlay(fields, keySubmissionDate, o.SubmissionDate)
	o.overlay(fields, keyContents, o.Contents)
	o.overlay(fields, keyProjectNumber, o.ProjectNumber)
	o.overlay(fields, keyName, o.Name)
	return fields
}

// overlay writes value under key unless the fetched attribute already
// renders to it, so untouched attributes keep the JSON they were fetched with.
func (o Order) overlay(fields map[string]any, key, value string) {
	if value == "" {
		return
	}
	if raw, ok := o.Attributes[key]; ok && text(raw) == value {
		return
	}
	fields[key] = value
}

// UnmarshalJSON accepts applicationForm either as an object or as a bare id.
// Modelled attributes of any JSON type are rendered as text.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Order{
		OrderNumber:    text(raw[keyOrderNumber]),
		State:          OrderState(text(raw[keyState])),
		CreationDate:   text(raw[keyCreationDate]),
		UpdateDate:     text(raw[keyUpdateDate]),
		SubmissionDate: text(raw[keySubmissionDate]),
		Contents:       text(raw[keyContents]),
		ProjectNumber:  text(raw[keyProjectNumber]),
		Name:           text(raw[keyName]),
	}
	if form, ok := raw[keyApplicationForm]; ok {
		out.ApplicationForm = decodeFile(form)
	}
	if len(raw) > 0 {
		out.Attributes = raw
	}
	*o = out
	return nil
}

// text renders a JSON value as a string: strings unquoted, null as empty
// and anything else as its compact JSON.
func text(value json.RawMessage) string {
	if isNull(value) {
		return ""
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return string(bytes.TrimSpace(value))
	}
	return buf.String()
}

// decodeFile reads a file reference given as an object or as a bare id.
// Any other value is ignored.
func decodeFile(value json.RawMessage) *File {
	if isNull(value) {
		return nil
	}
	var id string
	if err := json.Unmarshal(value, &id); err == nil {
		if id == "" {
			return nil
		}
		return &File{ID: id}
	}
	var n json.Number
	if err := json.Unmarshal(value, &n); err == nil {
		return &File{ID: n.String()}
	}
	var f File
	if err := json.Unmarshal(value, &f); err != nil || f == (File{}) {
		return nil
	}
	return &f
}

func isNull(value json.RawMessage) bool {
	trimmed := bytes.TrimSpace(value)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
