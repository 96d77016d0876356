package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies an item by its wire type.
type Kind string

const (
	KindShape   Kind = "shape"
	KindImage   Kind = "image"
	KindText    Kind = "text"
	KindAudio   Kind = "audio"
	KindUnknown Kind = "unknown"
)

// Item is one element of a scrapbook. Only the envelope fields are decoded;
// the original JSON is kept verbatim so position, styling and any field the
// server does not know about survive a load/save cycle unchanged.
type Item struct {
	ID    string
	Type  string
	Src   string
	Image string

	raw json.RawMessage
}

// NewItem builds an item from a field map, as the editor would send it.
func NewItem(fields map[string]any) (Item, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := item.UnmarshalJSON(data); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Kind maps the wire type onto the closed set of item kinds.
func (i Item) Kind() Kind {
	switch i.Type {
	case "rect", "shape":
		return KindShape
	case "image":
		return KindImage
	case "text":
		return KindText
	case "audio":
		return KindAudio
	default:
		return KindUnknown
	}
}

// Raw returns the item's JSON exactly as it will be persisted.
func (i Item) Raw() json.RawMessage {
	return i.raw
}

// UnmarshalJSON keeps a private copy of data. Envelope fields that are
// missing or not strings are left empty instead of failing the document.
func (i *Item) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return errors.New("item is not valid JSON")
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, data); err != nil {
		return err
	}
	*i = Item{raw: compacted.Bytes()}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		// Not an object; nothing to classify, but still preserved.
		return nil
	}
	i.ID = stringField(fields, "id")
	i.Type = stringField(fields, "type")
	i.Src = stringField(fields, "src")
	i.Image = stringField(fields, "image")
	return nil
}

func (i Item) MarshalJSON() ([]byte, error) {
	if len(i.raw) == 0 {
		return []byte("null"), nil
	}
	return i.raw, nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Numeric ids from older clients are still ids.
		var n json.Number
		if key == "id" && json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
		return ""
	}
	return s
}

// DecodeDocument parses a stored or submitted scrapbook. It accepts the bare
// item array and the older wrapper object {"items": [...], ...} whose extra
// protected-asset list is ignored. Empty input and JSON null decode to an
// empty document. The returned slice is never nil.
func DecodeDocument(data []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Item{}, nil
	}

	switch trimmed[0] {
	case '[':
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		if items == nil {
			items = []Item{}
		}
		return items, nil
	case '{':
		var wrapped struct {
			Items *[]Item `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, err
		}
		if wrapped.Items == nil {
			return nil, errors.New(`object document has no "items" array`)
		}
		items := *wrapped.Items
		if items == nil {
			items = []Item{}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unexpected document shape starting with %q", trimmed[0])
	}
}

// EncodeDocument serializes items as a bare JSON array. Items are written
// verbatim, so HTML inside rich text keeps its original escaping.
func EncodeDocument(items []Item) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for n, item := range items {
		if n > 0 {
			buf.WriteByte(',')
		}
		raw, err := item.MarshalJSON()
		if err != nil {
			return nil, err
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("item %d is not valid JSON", n)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
