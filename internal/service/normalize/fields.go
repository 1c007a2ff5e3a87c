package normalize

import (
	"time"

	"github.com/mekedron/orderboard/internal/service/canon"
)

var (
	guidPaths      = []string{"guid", "orderGuid", "order_guid", "order.guid", "uuid"}
	looseGUIDPaths = []string{"id", "orderId", "order_id"}
	displayIDPaths = []string{"displayNumber", "display_number", "orderNumber", "order_number", "checks[*].displayNumber", "checks[*].display_number", "number", "id", "orderId", "order_id"}
	rawStatusPaths = []string{"status", "orderStatus", "order_status", "approvalStatus", "state"}
	totalPaths     = []string{"totalAmount", "total_amount", "total", "grandTotal", "grand_total", "amount"}
	checkTotalPath = "checks[*].totalAmount"
	currencyPaths  = []string{"currency", "currencyCode", "currency_code", "checks[*].currency", "restaurant.currency"}
	tabNamePaths   = []string{"tabName", "tab_name", "checks[*].tabName", "checks[*].tab_name"}
	notesPaths     = []string{"notes", "note", "specialInstructions", "special_instructions", "checks[*].notes", "deliveryInfo.notes"}
	customerPaths  = []string{"customer", "checks[*].customer", "guest", "deliveryInfo"}
	customerNames  = []string{"customerName", "customer_name", "guestName", "guest_name"}

	fulfillmentStatusPaths = []string{
		"fulfillmentStatus", "fulfillment_status",
		"status", "orderStatus", "order_status", "state",
		"kitchenStatus", "kitchen_status", "approvalStatus",
		"checks[*].fulfillmentStatus", "checks[*].status", "checks[*].approvalStatus",
		"checks[*].selections[*].fulfillmentStatus",
		"items[*].fulfillmentStatus", "items[*].status",
		"line_items[*].status", "lineItems[*].status",
		"deliveryInfo.deliveryState", "curbsidePickupInfo.status",
		"statusHistory[-1].status", "status_history[-1].status",
	}

	diningIDPaths = []string{
		"diningOption.guid", "diningOption.externalId", "diningOption.id",
		"dining_option.id", "dining_option.guid",
		"diningOptionGuid", "diningOptionId", "dining_option_id",
		"checks[*].diningOption.guid", "checks[*].diningOption.externalId",
	}
	diningLabelPaths = []string{
		"diningOption.name", "diningOption.displayName", "dining_option.name",
		"diningOptionName", "dining_option_name",
		"diningOption", "dining_option",
		"orderType", "order_type", "serviceType", "service_type", "fulfillmentType",
		"diningBehavior", "diningOption.behavior", "checks[*].diningOption.behavior",
	}
)

// timestampTiers lists creation-time fields by priority. Within the first
// tier that yields a plausible value, the earliest value wins.
var timestampTiers = [][]string{
	{
		"createdDate", "created_date", "createdAt", "created_at", "created",
		"openedDate", "opened_date", "openedAt", "opened_at",
		"placedAt", "placed_at", "placedDate",
		"submittedAt", "submitted_at", "submittedDate",
		"orderDate", "order_date",
	},
	{
		"checks[*].createdDate", "checks[*].createdAt", "checks[*].created_at",
		"checks[*].openedDate", "checks[*].openedAt",
	},
	{
		"statusHistory[*].timestamp", "statusHistory[*].createdAt", "statusHistory[*].at",
		"status_history[*].timestamp", "status_history[*].created_at",
		"events[*].timestamp", "events[*].createdAt",
	},
}

// modifiedPaths are consulted, together with the creation fields, when
// advancing the sync cursor.
var modifiedPaths = []string{
	"modifiedDate", "modified_date", "lastModifiedDate", "last_modified_date",
	"updatedAt", "updated_at", "modifiedAt", "modified_at",
	"checks[*].modifiedDate", "checks[*].lastModifiedDate", "checks[*].closedDate",
	"closedDate", "paidDate",
}

var (
	plausibleFrom  = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	plausibleUntil = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

func plausible(ts time.Time) bool {
	return !ts.Before(plausibleFrom) && ts.Before(plausibleUntil)
}

func firstStringAt(source any, paths ...string) string {
	for _, path := range paths {
		for _, value := range canon.ExtractAtPath(source, path) {
			if s, ok := canon.ToStringValue(value); ok {
				return s
			}
		}
	}
	return ""
}

func stringsAt(source any, paths ...string) []string {
	out := []string{}
	for _, path := range paths {
		for _, value := range canon.ExtractAtPath(source, path) {
			if s, ok := canon.ToStringValue(value); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func firstNumberAt(source any, paths ...string) (float64, bool) {
	for _, path := range paths {
		for _, value := range canon.ExtractAtPath(source, path) {
			if n, ok := canon.ToNumber(value); ok {
				return n, true
			}
		}
	}
	return 0, false
}
