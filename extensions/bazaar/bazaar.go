// Package bazaar implements the bazaar extension: discovery metadata a
// server attaches to its challenges so catalogs can index paid endpoints.
// It plays no role in payment verification or settlement, so validation is
// limited to the generic structural contract.
package bazaar

import (
	"encoding/json"
	"fmt"

	"github.com/x402labs/x402-go"
	"github.com/x402labs/x402-go/extensions"
)

// Key is the well-known extension identifier.
const Key = "bazaar"

// Metadata describes a paid endpoint for discovery catalogs.
type Metadata struct {
	// Name is the display name for the resource.
	Name string `json:"name,omitempty"`

	// Description explains what the resource does.
	Description string `json:"description,omitempty"`

	// Category groups resources (e.g., "data", "automation", "ai").
	Category string `json:"category,omitempty"`

	// Tags are searchable keywords.
	Tags []string `json:"tags,omitempty"`

	// Provider names the entity offering the resource.
	Provider string `json:"provider,omitempty"`

	// Input documents what the endpoint expects.
	Input *SchemaDefinition `json:"input,omitempty"`

	// Output documents what the endpoint returns.
	Output *SchemaDefinition `json:"output,omitempty"`
}

// SchemaDefinition documents one side of an endpoint's contract.
type SchemaDefinition struct {
	// Example is a sample value for documentation and testing.
	Example interface{} `json:"example,omitempty"`

	// Schema is a JSON Schema definition for validation.
	Schema map[string]interface{} `json:"schema,omitempty"`
}

// Declare builds the challenge-side extensions entry for meta.
func Declare(meta Metadata) (map[string]x402.Extension, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bazaar metadata: %w", err)
	}
	var info map[string]interface{}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to marshal bazaar metadata: %w", err)
	}
	return extensions.Declare(Key, info, schema()), nil
}

// schema returns the JSON Schema for the metadata info.
func schema() map[string]interface{} {
	return map[string]interface{}{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]interface{}{
			"name":        map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
			"category":    map[string]interface{}{"type": "string"},
			"tags": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"provider": map[string]interface{}{"type": "string"},
			"input":    map[string]interface{}{"type": "object"},
			"output":   map[string]interface{}{"type": "object"},
		},
	}
}

// Extract returns the metadata declared on a challenge, if any.
func Extract(challenge *x402.PaymentRequired) (*Metadata, error) {
	ext, ok := challenge.Extensions[Key]
	if !ok {
		return nil, nil
	}
	if err := extensions.Validate(ext); err != nil {
		return nil, err
	}
	data, err := json.Marshal(ext.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidExtension, err)
	}
	return &meta, nil
}

// Resource is one entry in a discovery catalog: the protected URL plus
// the payment options and metadata its challenge advertised.
type Resource struct {
	// Resource is the URL of the protected endpoint.
	Resource string `json:"resource"`

	// Type is the resource type; currently always "http".
	Type string `json:"type"`

	// X402Version is the protocol generation the endpoint speaks.
	X402Version int `json:"x402Version"`

	// Accepts lists the endpoint's payment options.
	Accepts []x402.PaymentRequirement `json:"accepts"`

	// LastUpdated is when the entry was last registered, RFC 3339.
	LastUpdated string `json:"lastUpdated,omitempty"`

	// Metadata is the endpoint's declared discovery metadata.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// ListResponse is the paginated catalog listing.
type ListResponse struct {
	X402Version int        `json:"x402Version"`
	Items       []Resource `json:"items"`
	Pagination  Pagination `json:"pagination"`
}

// Pagination carries paging info for a catalog listing.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// FromChallenge builds a catalog entry from a live challenge.
func FromChallenge(resourceURL string, challenge *x402.PaymentRequired) (Resource, error) {
	meta, err := Extract(challenge)
	if err != nil {
		return Resource{}, err
	}
	return Resource{
		Resource:    resourceURL,
		Type:        "http",
		X402Version: challenge.X402Version,
		Accepts:     challenge.Accepts,
		Metadata:    meta,
	}, nil
}
