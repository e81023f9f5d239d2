// internal/render/render.go
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	apperrors "notification-engine/internal/common/errors"
	"notification-engine/internal/models"
)

var (
	ErrPayloadInvalid   = errors.New("job payload is not a JSON object")
	ErrMissingRecipient = errors.New("job payload has no recipient")
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Message is rendered content ready for a provider.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Render fills the template's {{key}} placeholders from the job payload.
// Nested payload objects are addressable with dotted keys, and job_id,
// tenant_id and event_type are always available. Unknown placeholders
// render as empty strings. Email and SMS jobs must carry a string
// "recipient" in their payload; webhook jobs are addressed by config.
func Render(tmpl models.Template, job *models.NotificationJob) (*Message, error) {
	data, err := payloadData(job.Payload)
	if err != nil {
		return nil, apperrors.NewPayloadInvalidError(err.Error()).WithCause(ErrPayloadInvalid)
	}

	recipient, _ := data["recipient"].(string)
	recipient = strings.TrimSpace(recipient)
	if recipient == "" && job.Channel != models.ChannelWebhook {
		return nil, apperrors.NewPayloadInvalidError(fmt.Sprintf("channel %s requires payload.recipient", job.Channel)).
			WithCause(ErrMissingRecipient)
	}

	values := make(map[string]string, len(data)+3)
	flatten("", data, values)
	values["job_id"] = job.ID
	values["tenant_id"] = job.TenantID
	values["event_type"] = job.EventType

	return &Message{
		Recipient: recipient,
		Subject:   Template(tmpl.Subject, values),
		Body:      Template(tmpl.Body, values),
	}, nil
}

// Template substitutes {{key}} placeholders in a single pass, so values
// containing braces are never expanded again.
func Template(tmpl string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		return values[key]
	})
}

func payloadData(raw json.RawMessage) (map[string]interface{}, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]interface{}{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

func flatten(prefix string, data map[string]interface{}, out map[string]string) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = val
		case json.Number:
			out[key] = val.String()
		case bool:
			if val {
				out[key] = "true"
			} else {
				out[key] = "false"
			}
		case map[string]interface{}:
			flatten(key, val, out)
		default:
			b, _ := json.Marshal(val)
			out[key] = string(b)
		}
	}
}
