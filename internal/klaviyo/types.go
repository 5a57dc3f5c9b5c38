package klaviyo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Resource is one JSON:API resource object.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    json.RawMessage         `json:"attributes"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
}

// Relationship holds linkage data; Data is an object or an array of
// resource identifiers.
type Relationship struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// ResourceIdentifier is a {type, id} pair inside relationship data.
type ResourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// One decodes single-object relationship data.
func (r Relationship) One() (ResourceIdentifier, bool) {
	var id ResourceIdentifier
	if len(r.Data) == 0 {
		return id, false
	}
	if err := json.Unmarshal(r.Data, &id); err != nil || id.ID == "" {
		return ResourceIdentifier{}, false
	}
	return id, true
}

// Links carries pagination cursors as full URLs.
type Links struct {
	Self string `json:"self"`
	Next string `json:"next"`
	Prev string `json:"prev"`
}

// NextCursor extracts the page[cursor] value from the next link.
// Empty when pagination is exhausted.
func (l Links) NextCursor() string {
	if l.Next == "" {
		return ""
	}
	u, err := url.Parse(l.Next)
	if err != nil {
		return ""
	}
	return u.Query().Get("page[cursor]")
}

// Response is a decoded JSON:API envelope. Data is normalized to a
// slice whether the upstream returned one resource or many.
type Response struct {
	Data     []Resource
	Included []Resource
	Links    Links
	Meta     json.RawMessage
}

// UnmarshalJSON accepts data as either a single resource object or an
// array of them.
func (r *Response) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data     json.RawMessage `json:"data"`
		Included []Resource      `json:"included"`
		Links    Links           `json:"links"`
		Meta     json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Included = raw.Included
	r.Links = raw.Links
	r.Meta = raw.Meta
	r.Data = nil

	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}
	switch raw.Data[0] {
	case '[':
		return json.Unmarshal(raw.Data, &r.Data)
	case '{':
		var one Resource
		if err := json.Unmarshal(raw.Data, &one); err != nil {
			return err
		}
		r.Data = []Resource{one}
		return nil
	default:
		return fmt.Errorf("json:api data is neither object nor array")
	}
}

// DecodeAttributes decodes a resource's attributes into a typed
// schema, surfacing mismatches as Validation errors with context.
func DecodeAttributes[T any](res Resource) (T, error) {
	var attrs T
	if len(res.Attributes) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
		return attrs, &APIError{
			Kind:   KindValidation,
			Detail: fmt.Sprintf("decoding %s %q attributes: %v", res.Type, res.ID, err),
		}
	}
	return attrs, nil
}

// StatisticsAttrs is the denormalized performance block the upstream
// attaches to campaign-like resources.
type StatisticsAttrs struct {
	Recipients  int64   `json:"recipients"`
	Opens       int64   `json:"opens"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// CampaignAttrs is the attribute schema for campaign resources.
type CampaignAttrs struct {
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Channel    string           `json:"channel"`
	SendTime   *time.Time       `json:"send_time"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Statistics *StatisticsAttrs `json:"statistics"`
}

// FlowAttrs is the attribute schema for flow resources.
type FlowAttrs struct {
	Name        string           `json:"name"`
	Status      string           `json:"status"`
	TriggerType string           `json:"trigger_type"`
	Created     time.Time        `json:"created"`
	Updated     time.Time        `json:"updated"`
	Statistics  *StatisticsAttrs `json:"statistics"`
}

// FormAttrs is the attribute schema for form resources.
type FormAttrs struct {
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	FormType   string           `json:"form_type"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Statistics *StatisticsAttrs `json:"statistics"`
}

// SegmentAttrs is the attribute schema for segment resources.
type SegmentAttrs struct {
	Name         string           `json:"name"`
	IsActive     bool             `json:"is_active"`
	ProfileCount int64            `json:"profile_count"`
	Created      time.Time        `json:"created"`
	Updated      time.Time        `json:"updated"`
	Statistics   *StatisticsAttrs `json:"statistics"`
}

// MetricIntegrationAttrs is the embedded integration descriptor on a
// metric resource.
type MetricIntegrationAttrs struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// MetricAttrs is the attribute schema for metric resources.
type MetricAttrs struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Integration MetricIntegrationAttrs `json:"integration"`
	Created     time.Time              `json:"created"`
	Updated     time.Time              `json:"updated"`
}

// EventAttrs is the attribute schema for event resources. Metric and
// profile linkage arrives via relationships, not attributes.
type EventAttrs struct {
	Datetime   time.Time       `json:"datetime"`
	Value      *float64        `json:"value"`
	Properties json.RawMessage `json:"event_properties"`
}

// ProfileAttrs is the attribute schema for profile resources.
type ProfileAttrs struct {
	Email         *string         `json:"email"`
	PhoneNumber   *string         `json:"phone_number"`
	ExternalID    *string         `json:"external_id"`
	FirstName     *string         `json:"first_name"`
	LastName      *string         `json:"last_name"`
	Properties    json.RawMessage `json:"properties"`
	LastEventDate *time.Time      `json:"last_event_date"`
	Created       time.Time       `json:"created"`
	Updated       time.Time       `json:"updated"`
}
