package domain

// Canonical fulfillment statuses, most urgent first.
const (
	FulfillmentCancelled  = "CANCELLED"
	FulfillmentDelayed    = "DELAYED"
	FulfillmentPending    = "PENDING"
	FulfillmentInProgress = "IN_PROGRESS"
	FulfillmentReady      = "READY"
	FulfillmentCompleted  = "COMPLETED"
)

var fulfillmentRank = map[string]int{
	FulfillmentCancelled:  0,
	FulfillmentDelayed:    1,
	FulfillmentPending:    2,
	FulfillmentInProgress: 3,
	FulfillmentReady:      4,
	FulfillmentCompleted:  5,
}

// FulfillmentRank returns the urgency rank of a canonical status.
// Unknown values report ok=false.
func FulfillmentRank(status string) (rank int, ok bool) {
	rank, ok = fulfillmentRank[status]
	return rank, ok
}
