package domain

import "time"

// RawOrder is an upstream order record as decoded from JSON. Its shape varies
// between payload variants and is only read through the canon helpers.
type RawOrder = map[string]any

// NormalizedModifier stores one aggregated modifier selection on an item.
type NormalizedModifier struct {
	ID          string  `json:"id" yaml:"id"`
	Identifier  string  `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Name        string  `json:"name" yaml:"name"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	GroupName   string  `json:"group_name,omitempty" yaml:"group_name,omitempty"`
	GroupID     string  `json:"group_id,omitempty" yaml:"group_id,omitempty"`
	GroupOrder  *int    `json:"group_order,omitempty" yaml:"group_order,omitempty"`
	OptionOrder *int    `json:"option_order,omitempty" yaml:"option_order,omitempty"`
}

// NormalizedOrderItem stores one line item.
type NormalizedOrderItem struct {
	ID                string               `json:"id" yaml:"id"`
	Name              string               `json:"name" yaml:"name"`
	Quantity          float64              `json:"quantity" yaml:"quantity"`
	Price             *float64             `json:"price,omitempty" yaml:"price,omitempty"`
	Currency          string               `json:"currency,omitempty" yaml:"currency,omitempty"`
	Notes             string               `json:"notes,omitempty" yaml:"notes,omitempty"`
	FulfillmentStatus string               `json:"fulfillment_status,omitempty" yaml:"fulfillment_status,omitempty"`
	Modifiers         []NormalizedModifier `json:"modifiers" yaml:"modifiers"`
}

// NormalizedOrder is the canonical order entity rendered by consumers.
type NormalizedOrder struct {
	ID                string                `json:"id" yaml:"id"`
	DisplayID         string                `json:"display_id,omitempty" yaml:"display_id,omitempty"`
	GUID              string                `json:"guid,omitempty" yaml:"guid,omitempty"`
	Status            string                `json:"status,omitempty" yaml:"status,omitempty"`
	CreatedAt         *time.Time            `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	CreatedAtRaw      string                `json:"created_at_raw,omitempty" yaml:"created_at_raw,omitempty"`
	Total             *float64              `json:"total,omitempty" yaml:"total,omitempty"`
	Currency          string                `json:"currency,omitempty" yaml:"currency,omitempty"`
	CustomerName      string                `json:"customer_name,omitempty" yaml:"customer_name,omitempty"`
	TabName           string                `json:"tab_name,omitempty" yaml:"tab_name,omitempty"`
	DiningOption      string                `json:"dining_option,omitempty" yaml:"dining_option,omitempty"`
	FulfillmentStatus string                `json:"fulfillment_status,omitempty" yaml:"fulfillment_status,omitempty"`
	Notes             string                `json:"notes,omitempty" yaml:"notes,omitempty"`
	Items             []NormalizedOrderItem `json:"items" yaml:"items"`
}

// IsReady reports whether every item is ready, or, for an order without items,
// whether the order-level status is ready.
func (o NormalizedOrder) IsReady() bool {
	if len(o.Items) == 0 {
		return o.FulfillmentStatus == FulfillmentReady
	}
	for _, item := range o.Items {
		if item.FulfillmentStatus != FulfillmentReady {
			return false
		}
	}
	return true
}
