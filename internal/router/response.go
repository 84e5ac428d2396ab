package router

import (
	"bytes"
	"encoding/json"
)

// Result is the vector one space produced.
type Result struct {
	Space      string    `json:"space"`
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
}

// Response is either a single-space envelope or an ordered mapping of
// results keyed by space id.
type Response struct {
	Single *Result
	Multi  []Result
}

type spaceEntry struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
}

// MarshalJSON renders a single result as {vector, space, dimensions} and
// several results as {"spaces": {id: {vector, dimensions}}} with keys in
// registry order.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Single != nil {
		return json.Marshal(r.Single)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"spaces":{`)
	for i, res := range r.Multi {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(res.Space)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(spaceEntry{Vector: res.Vector, Dimensions: res.Dimensions})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

// Results returns every result in order, whatever the shape.
func (r Response) Results() []Result {
	if r.Single != nil {
		return []Result{*r.Single}
	}
	return r.Multi
}

// Get returns the result for a space id.
func (r Response) Get(space string) (Result, bool) {
	for _, res := range r.Results() {
		if res.Space == space {
			return res, true
		}
	}
	return Result{}, false
}
