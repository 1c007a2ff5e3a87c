// Package output renders snapshots as tables or machine-readable envelopes.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mekedron/orderboard/internal/domain"
)

// Format represents command output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates format values.
func ParseFormat(v string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(v))) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported format %q", v)
	}
}

func newRequestID() string {
	return "req_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Envelope is the machine-output payload.
type Envelope struct {
	Meta     map[string]any `json:"meta" yaml:"meta"`
	Data     any            `json:"data" yaml:"data"`
	Warnings []string       `json:"warnings" yaml:"warnings"`
	Error    map[string]any `json:"error,omitempty" yaml:"error,omitempty"`
}

// BuildEnvelope constructs a response envelope.
func BuildEnvelope(source, restaurant string, data any, warnings []string, errPayload map[string]any) Envelope {
	env := Envelope{
		Meta: map[string]any{
			"request_id":   newRequestID(),
			"generated_at": time.Now().UTC().Truncate(time.Second).Format(time.RFC3339),
			"source":       source,
			"restaurant":   restaurant,
		},
		Data:     data,
		Warnings: warnings,
		Error:    errPayload,
	}
	if env.Warnings == nil {
		env.Warnings = []string{}
	}
	return env
}

// ErrorPayload describes err for the envelope error field.
func ErrorPayload(code string, err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"code": code, "message": err.Error()}
}

// RenderPayload renders payload in json/yaml format.
func RenderPayload(payload Envelope, format Format) (string, error) {
	switch format {
	case FormatJSON:
		bytes, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal json: %w", err)
		}
		return string(bytes), nil
	case FormatYAML:
		bytes, err := yaml.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal yaml: %w", err)
		}
		return string(bytes), nil
	default:
		return "", fmt.Errorf("render payload only supports json/yaml")
	}
}

// WriteOutput writes output to the provided writer and optional file.
func WriteOutput(w io.Writer, text string, outputPath string) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
	}
	if _, err := fmt.Fprintln(w, text); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// RenderTable renders plain text tables.
func RenderTable(title string, headers []string, rows [][]string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
		b.WriteByte('\n')
	}
	if len(headers) > 0 {
		b.WriteString(strings.Join(headers, "\t"))
		b.WriteByte('\n')
	}
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

var orderHeaders = []string{"ORDER", "CREATED", "STATUS", "DINING", "CUSTOMER", "TOTAL", "ITEMS"}

// RenderOrders renders one row per order; the items column lists quantity,
// name and modifiers in display order.
func RenderOrders(title string, orders []domain.NormalizedOrder) string {
	rows := make([][]string, 0, len(orders))
	for _, order := range orders {
		rows = append(rows, []string{
			orderLabel(order),
			formatTime(order.CreatedAt),
			dash(order.FulfillmentStatus),
			dash(order.DiningOption),
			dash(order.CustomerName),
			formatMoney(order.Total, order.Currency),
			formatItems(order.Items),
		})
	}
	return RenderTable(title, orderHeaders, rows)
}

func orderLabel(order domain.NormalizedOrder) string {
	if order.DisplayID != "" {
		return "#" + order.DisplayID
	}
	return order.ID
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Local().Format("15:04:05")
}

func formatMoney(amount *float64, currency string) string {
	if amount == nil {
		return "-"
	}
	return strings.TrimSpace(strconv.FormatFloat(*amount, 'f', 2, 64) + " " + currency)
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatItems(items []domain.NormalizedOrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part := formatQuantity(item.Quantity) + "x " + item.Name
		if len(item.Modifiers) > 0 {
			mods := make([]string, 0, len(item.Modifiers))
			for _, mod := range item.Modifiers {
				if mod.Quantity != 1 {
					mods = append(mods, formatQuantity(mod.Quantity)+"x "+mod.Name)
					continue
				}
				mods = append(mods, mod.Name)
			}
			part += " (" + strings.Join(mods, ", ") + ")"
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "; ")
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
