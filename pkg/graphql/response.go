package graphql

import (
	"encoding/json"
)

// Response is the execution result envelope returned to clients. Data is
// kept raw so engine output passes through without a decode/encode cycle;
// a nil Data still serializes as an explicit "data": null.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors RequestErrors   `json:"errors,omitempty"`
}

func (r Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// HasErrors reports whether the engine attached at least one error.
func (r Response) HasErrors() bool {
	return len(r.Errors) > 0
}

// HasData reports whether the engine produced a usable result. An absent or
// literal null data value counts as no data.
func (r Response) HasData() bool {
	if len(r.Data) == 0 {
		return false
	}
	return string(r.Data) != "null"
}
