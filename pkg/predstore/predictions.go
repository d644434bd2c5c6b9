// Package predstore keeps the benchmark runner's resumable state: the
// predictions dictionary (preds.json), the progress marker (progress.json)
// and the line-oriented mirror of the predictions (all-preds.jsonl).
package predstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Prediction is one instance's result.
type Prediction struct {
	ModelNameOrPath string `json:"model_name_or_path"`
	InstanceID      string `json:"instance_id"`
	ModelPatch      string `json:"model_patch"`
}

// Predictions is a dictionary keyed by instance id that remembers insertion
// order, which is also the order it is encoded in.
type Predictions struct {
	order []string
	byID  map[string]Prediction
}

// NewPredictions returns an empty dictionary.
func NewPredictions() *Predictions {
	return &Predictions{byID: map[string]Prediction{}}
}

func (p *Predictions) Len() int { return len(p.order) }

// Has reports whether iid is a key.
func (p *Predictions) Has(iid string) bool {
	_, ok := p.byID[iid]
	return ok
}

// Get returns the prediction stored under iid.
func (p *Predictions) Get(iid string) (Prediction, bool) {
	pred, ok := p.byID[iid]
	return pred, ok
}

// Set stores pred under iid. A new key goes last; an existing one keeps its
// position.
func (p *Predictions) Set(iid string, pred Prediction) {
	if p.byID == nil {
		p.byID = map[string]Prediction{}
	}
	if _, ok := p.byID[iid]; !ok {
		p.order = append(p.order, iid)
	}
	p.byID[iid] = pred
}

// IDs returns the keys in order.
func (p *Predictions) IDs() []string {
	return append([]string(nil), p.order...)
}

// Each calls fn for every entry in order.
func (p *Predictions) Each(fn func(iid string, pred Prediction)) {
	for _, iid := range p.order {
		fn(iid, p.byID[iid])
	}
}

// MarshalJSON encodes the dictionary as an object in insertion order,
// leaving <, > and & unescaped.
func (p *Predictions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, iid := range p.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(iid)
		if err != nil {
			return nil, err
		}
		val, err := marshalNoEscape(p.byID[iid])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keeping its key order. null decodes to an
// empty dictionary.
func (p *Predictions) UnmarshalJSON(data []byte) error {
	p.order = nil
	p.byID = map[string]Prediction{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("predictions: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		iid, ok := tok.(string)
		if !ok {
			return fmt.Errorf("predictions: unexpected key %v", tok)
		}
		var pred Prediction
		if err := dec.Decode(&pred); err != nil {
			return fmt.Errorf("predictions: decoding %s: %w", iid, err)
		}
		p.Set(iid, pred)
	}
	_, err = dec.Token()
	return err
}

// marshalNoEscape is json.Marshal without HTML escaping and without the
// trailing newline an Encoder adds.
func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// marshalIndent renders v as two-space indented JSON without HTML escaping.
func marshalIndent(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
