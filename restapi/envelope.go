package restapi

import (
	"net/http"

	"github.com/tidwall/gjson"
)

// Envelope is the normalized result of one HTTP call: the status code and
// the eagerly-read body. Decoding is deferred until the operation knows
// which shape the endpoint produces.
type Envelope struct {
	Status int
	Body   string
}

// Success reports whether the call succeeded. The upstream contract is
// status 200 exactly; 201 and 204 are failures here.
func (e Envelope) Success() bool {
	return e.Status == http.StatusOK
}

// Object decodes the body as a JSON object. ok is false when the body is
// empty or not an object.
func (e Envelope) Object() (gjson.Result, bool) {
	if e.Body == "" {
		return gjson.Result{}, false
	}
	parsed := gjson.Parse(e.Body)
	if !parsed.IsObject() {
		return gjson.Result{}, false
	}
	return parsed, true
}

// Array decodes the body as a JSON array. ok is false when the body is
// empty or not an array.
func (e Envelope) Array() ([]gjson.Result, bool) {
	if e.Body == "" {
		return nil, false
	}
	parsed := gjson.Parse(e.Body)
	if !parsed.IsArray() {
		return nil, false
	}
	return parsed.Array(), true
}
