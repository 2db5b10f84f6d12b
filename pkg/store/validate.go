package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cybershield/custody/pkg/contracts"
)

// payloadSchema constrains the source payload union: the discriminator must
// be a known evidence type and the matching variant object must be present.
const payloadSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {
			"enum": [
				"social_media_post", "screenshot", "chat_message", "email",
				"document", "audio", "video", "network_log",
				"database_record", "system_log"
			]
		},
		"raw": {}
	},
	"allOf": [
		{
			"if": {"properties": {"type": {"const": "social_media_post"}}},
			"then": {
				"required": ["social_media"],
				"properties": {
					"social_media": {
						"type": "object",
						"required": ["platform", "post_id"]
					}
				}
			}
		},
		{
			"if": {"properties": {"type": {"const": "chat_message"}}},
			"then": {
				"required": ["chat"],
				"properties": {
					"chat": {"type": "object", "required": ["platform"]}
				}
			}
		},
		{
			"if": {"properties": {"type": {"const": "email"}}},
			"then": {
				"required": ["email"],
				"properties": {
					"email": {"type": "object", "required": ["from"]}
				}
			}
		},
		{
			"if": {"properties": {"type": {"const": "screenshot"}}},
			"then": {"required": ["screenshot"]}
		}
	]
}`

var (
	compiledPayloadSchema *jsonschema.Schema
	compileOnce           sync.Once
	compileErr            error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://custody.schemas.local/source_payload.schema.json"
		if err := c.AddResource(url, strings.NewReader(payloadSchema)); err != nil {
			compileErr = fmt.Errorf("payload schema load failed: %w", err)
			return
		}
		compiledPayloadSchema, compileErr = c.Compile(url)
	})
	return compiledPayloadSchema, compileErr
}

// ValidatePayload checks a source payload against the per-type schema.
// Violations are ErrInvalidInput.
func ValidatePayload(p *contracts.SourcePayload) error {
	if p == nil {
		return fmt.Errorf("%w: source payload is required", ErrInvalidInput)
	}
	if _, err := contracts.ParseEvidenceType(string(p.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: payload not serializable: %v", ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: payload not decodable: %v", ErrInvalidInput, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ValidateCollectFields rejects empty required collection fields before any
// state is created.
func ValidateCollectFields(caseNumber, collectedBy, location, description string) error {
	switch {
	case strings.TrimSpace(caseNumber) == "":
		return fmt.Errorf("%w: case_number is required", ErrInvalidInput)
	case strings.TrimSpace(collectedBy) == "":
		return fmt.Errorf("%w: collected_by is required", ErrInvalidInput)
	case strings.TrimSpace(location) == "":
		return fmt.Errorf("%w: location is required", ErrInvalidInput)
	case strings.TrimSpace(description) == "":
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	return nil
}
