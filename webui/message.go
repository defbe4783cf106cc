package webui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// NativeBinding is the global function a backend must expose to the document.
// The bootstrap script posts messages through it as JSON text.
const NativeBinding = "__plugviewNative"

// Message is the envelope of every message between the document and the plugin
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseMessage decodes a document message
func ParseMessage(payload string) (*Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("invalid document message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("invalid document message: missing type")
	}
	return &msg, nil
}

// Decode unmarshals the message data into v
func (m *Message) Decode(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("message %q has no data", m.Type)
	}
	return json.Unmarshal(m.Data, v)
}

// SchemaValidationError reports message data that does not match the registered schema
type SchemaValidationError struct {
	Type        string `json:"type"`
	MessageType string `json:"message_type"`
	Details     string `json:"details"`
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("Schema validation failed for message '%s': %s", e.MessageType, e.Details)
}

// messageSchema is a compiled JSON schema for the data of one message type
type messageSchema struct {
	messageType string
	schema      *gojsonschema.Schema
}

func compileSchema(messageType, schemaJSON string) (*messageSchema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, &SchemaValidationError{
			Type:        "SchemaCompilation",
			MessageType: messageType,
			Details:     fmt.Sprintf("Failed to compile schema: %v", err),
		}
	}
	return &messageSchema{messageType: messageType, schema: schema}, nil
}

func (s *messageSchema) validate(data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return &SchemaValidationError{
			Type:        "InvalidJson",
			MessageType: s.messageType,
			Details:     fmt.Sprintf("Failed to validate message data: %v", err),
		}
	}

	if !result.Valid() {
		var errorDetails []string
		for _, desc := range result.Errors() {
			errorDetails = append(errorDetails, fmt.Sprintf("  - %s", desc))
		}
		return &SchemaValidationError{
			Type:        "DataValidation",
			MessageType: s.messageType,
			Details:     strings.Join(errorDetails, "\n"),
		}
	}
	return nil
}
