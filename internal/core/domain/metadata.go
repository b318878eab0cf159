package domain

import (
	"encoding/json"
	"fmt"
)

type MetadataKind string

const (
	MetadataDocument MetadataKind = "document"
	MetadataChat     MetadataKind = "chat"
	MetadataWeb      MetadataKind = "web"
	MetadataUnknown  MetadataKind = "unknown"
)

// Metadata is the source-format-specific payload of a chunk. Exactly one of
// the typed fields is set, selected by Kind.
type Metadata struct {
	Kind     MetadataKind
	Document *DocumentMetadata
	Chat     *ChatMetadata
	Web      *WebMetadata

	raw json.RawMessage
}

type DocumentMetadata struct {
	Title       string `json:"title,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	PageNumbers []int  `json:"pageNumbers,omitempty"`
}

type ChatMetadata struct {
	Channel  string `json:"channel,omitempty"`
	Author   string `json:"author,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
}

type WebMetadata struct {
	Title  string `json:"title,omitempty"`
	Domain string `json:"domain,omitempty"`
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*m = Metadata{Kind: MetadataUnknown}
		return nil
	}

	var head struct {
		Type MetadataKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode metadata type: %w", err)
	}

	out := Metadata{Kind: head.Type}
	var err error
	switch head.Type {
	case MetadataDocument:
		out.Document = &DocumentMetadata{}
		err = json.Unmarshal(data, out.Document)
	case MetadataChat:
		out.Chat = &ChatMetadata{}
		err = json.Unmarshal(data, out.Chat)
	case MetadataWeb:
		out.Web = &WebMetadata{}
		err = json.Unmarshal(data, out.Web)
	default:
		out.Kind = MetadataUnknown
		out.raw = append(json.RawMessage(nil), data...)
	}
	if err != nil {
		return fmt.Errorf("decode %s metadata: %w", head.Type, err)
	}
	*m = out
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case MetadataDocument:
		return marshalTagged(m.Kind, m.Document)
	case MetadataChat:
		return marshalTagged(m.Kind, m.Chat)
	case MetadataWeb:
		return marshalTagged(m.Kind, m.Web)
	default:
		if len(m.raw) > 0 {
			return m.raw, nil
		}
		return []byte(`{"type":"unknown"}`), nil
	}
}

func marshalTagged(kind MetadataKind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if string(body) != "null" {
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, err
		}
	}
	fields["type"], _ = json.Marshal(kind)
	return json.Marshal(fields)
}
