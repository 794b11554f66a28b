package session

import "encoding/json"

// UnmarshalJSON accepts either a bare string or an object of the shape
// {"model": "...", "content": "..."} where content is itself either a
// string or a list of {type, text} blocks.
func (p *MessagePayload) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		p.Raw = asString
		return nil
	}

	var obj struct {
		Model   string          `json:"model"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Model = obj.Model

	if len(obj.Content) == 0 {
		return nil
	}

	var asContentString string
	if err := json.Unmarshal(obj.Content, &asContentString); err == nil {
		p.Raw = asContentString
		return nil
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(obj.Content, &blocks); err != nil {
		return err
	}
	p.Content = blocks
	return nil
}

// MarshalJSON renders the payload back to the object shape regardless of
// how it was parsed, so API responses have a stable representation.
func (p MessagePayload) MarshalJSON() ([]byte, error) {
	out := struct {
		Model   string         `json:"model,omitempty"`
		Content []ContentBlock `json:"content,omitempty"`
		Text    string         `json:"text,omitempty"`
	}{
		Model: p.Model,
	}
	if len(p.Content) > 0 {
		out.Content = p.Content
	} else {
		out.Text = p.Raw
	}
	return json.Marshal(out)
}

// Text concatenates the payload's textual content: the raw string if
// present, otherwise the text of every "text" content block in order.
func (p MessagePayload) Text() string {
	if p.Raw != "" {
		return p.Raw
	}
	var out string
	for _, b := range p.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
