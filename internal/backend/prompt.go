package backend

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// BindingKey names the top-level template entry that says which nodes receive
// the input image, the mask and the output prefix. It is removed before submission.
const BindingKey = "stable-restyle"

// Binding is the decoded BindingKey entry.
type Binding struct {
	Inputs []string
	Mask   string
	Output string
}

type rawBinding struct {
	Input  json.RawMessage `json:"input"`
	Mask   string          `json:"mask"`
	Output string          `json:"output"`
}

// BuildPrompt fills a job graph template. The input node(s) and the mask node get
// an image_base64 field, and the output node gets filename_prefix.
func BuildPrompt(template []byte, input, mask []byte, prefix string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(template))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse prompt template: %v", ErrJobInvalid, err)
	}

	binding, err := parseBinding(doc[BindingKey])
	if err != nil {
		return nil, err
	}
	delete(doc, BindingKey)

	inputB64 := base64.StdEncoding.EncodeToString(input)
	for _, id := range binding.Inputs {
		if err := setInput(doc, id, "image_base64", inputB64); err != nil {
			return nil, err
		}
	}
	if err := setInput(doc, binding.Mask, "image_base64", base64.StdEncoding.EncodeToString(mask)); err != nil {
		return nil, err
	}
	if err := setInput(doc, binding.Output, "filename_prefix", prefix); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseBinding(v any) (Binding, error) {
	if v == nil {
		return Binding{}, fmt.Errorf("%w: template has no %q entry", ErrJobInvalid, BindingKey)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Binding{}, err
	}

	var raw rawBinding
	if err := json.Unmarshal(data, &raw); err != nil {
		return Binding{}, fmt.Errorf("%w: bad %q entry: %v", ErrJobInvalid, BindingKey, err)
	}

	b := Binding{Mask: raw.Mask, Output: raw.Output}
	var single string
	if err := json.Unmarshal(raw.Input, &single); err == nil {
		b.Inputs = []string{single}
	} else if err := json.Unmarshal(raw.Input, &b.Inputs); err != nil {
		return Binding{}, fmt.Errorf("%w: %q input must be a node id or list of ids", ErrJobInvalid, BindingKey)
	}

	if len(b.Inputs) == 0 || b.Mask == "" || b.Output == "" {
		return Binding{}, fmt.Errorf("%w: %q needs input, mask and output", ErrJobInvalid, BindingKey)
	}
	return b, nil
}

func setInput(doc map[string]any, id, field string, value any) error {
	node, ok := doc[id].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: template has no node %q", ErrJobInvalid, id)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = make(map[string]any)
		node["inputs"] = inputs
	}
	inputs[field] = value
	return nil
}
