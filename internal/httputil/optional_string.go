package httputil

import (
	"bytes"
	"encoding/json"
)

// OptionalString tracks presence and value for JSON merge-patch (RFC 7396):
//   - Present=false: field absent, leave unchanged
//   - Present=true, Value=nil: JSON null, clear the field
//   - Present=true, Value=&"text": set the field
type OptionalString struct {
	Present bool
	Value   *string
}

// UnmarshalJSON is only called when the field is present in the JSON.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Present = true

	if string(bytes.TrimSpace(data)) == "null" {
		o.Value = nil
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	o.Value = &s
	return nil
}

// Patch converts the field into a service-level change: nil when absent,
// a pointer to "" when cleared.
func (o OptionalString) Patch() *string {
	if !o.Present {
		return nil
	}
	if o.Value == nil {
		empty := ""
		return &empty
	}
	return o.Value
}
