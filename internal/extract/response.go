package extract

import (
	"encoding/json"
	"strings"
)

// Response is a decoded role reply. Every field is optional; the
// accessors return zero values for missing or mistyped fields and
// callers supply their own defaults.
type Response map[string]any

// Action returns the "action" field, or "" if absent or not a string.
func (r Response) Action() string {
	s, _ := r["action"].(string)
	return s
}

// Content returns the "content" field, or "" if absent or not a string.
func (r Response) Content() string {
	s, _ := r["content"].(string)
	return s
}

// Actions returns the "actions" list and whether the field was present
// as a list. Items may be strings or objects.
func (r Response) Actions() ([]any, bool) {
	list, ok := r["actions"].([]any)
	return list, ok
}

// ItemContent returns the text carried by an actions item: the item
// itself when it is a string, or its "content" field when it is an
// object.
func ItemContent(item any) string {
	switch v := item.(type) {
	case string:
		return v
	case map[string]any:
		s, _ := v["content"].(string)
		return s
	}
	return ""
}

// Result is the outcome of [Parse].
type Result struct {
	Response  Response
	OK        bool   // an object was found and decoded
	Raw       string // the text given to Parse
	Extracted string // the candidate JSON, or Raw when none was found
}

// Parse extracts and decodes the JSON object in text. Result.OK is
// false when no object could be found or the value is not an object.
// Parse never returns a nil Response.
func Parse(text string) Result {
	res := Result{Response: Response{}, Raw: text}

	candidate, found := JSON(text)
	res.Extracted = candidate
	if !found {
		return res
	}

	var obj map[string]any
	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return res
	}
	res.Response = obj
	res.OK = true
	return res
}
