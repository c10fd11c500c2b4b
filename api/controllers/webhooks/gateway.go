package webhooks

import (
	"context"
	"net/http"

	"github.com/angelmondragon/enrollpay-backend/api/responses"
	"github.com/angelmondragon/enrollpay-backend/api/validators"
	gatewaywebhook "github.com/angelmondragon/enrollpay-backend/internal/webhooks/gateway"
	pkgerrors "github.com/angelmondragon/enrollpay-backend/pkg/errors"
	"github.com/angelmondragon/enrollpay-backend/pkg/logger"
)

// GatewayWebhookService applies one signed gateway delivery.
type GatewayWebhookService interface {
	HandleWithEventID(ctx context.Context, body []byte, sig, headerEventID string) (*gatewaywebhook.Outcome, error)
}

// Headers names the delivery headers carrying the signature and event id.
type Headers struct {
	Signature string
	EventID   string
}

type webhookResponse struct {
	Success    bool   `json:"success"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Ignored    bool   `json:"ignored,omitempty"`
	EventID    string `json:"eventId,omitempty"`
}

// GatewayWebhook handles payment gateway event deliveries. The signature is
// checked over the body exactly as received.
func GatewayWebhook(svc GatewayWebhookService, headers Headers, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMisconfigured, "webhook service unavailable"))
			return
		}

		payload, err := validators.ReadRawBody(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var eventID string
		if headers.EventID != "" {
			eventID = r.Header.Get(headers.EventID)
		}
		outcome, err := svc.HandleWithEventID(ctx, payload, r.Header.Get(headers.Signature), eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookResponse{
			Success:    true,
			Idempotent: outcome.Idempotent,
			Ignored:    outcome.Ignored,
			EventID:    outcome.EventID,
		})
	}
}
