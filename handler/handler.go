// Package handler adapts API Gateway webhook deliveries to the message
// pipeline. The messaging channel cannot render error detail to the end
// user, so the webhook always acknowledges with 200 and an empty TwiML
// response; failures are logged and left to the channel's retry behavior.
package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"chatbot-gateway/internal/domain"
	"chatbot-gateway/internal/usecase"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Processor drives one inbound delivery through the pipeline.
type Processor interface {
	ProcessInbound(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
}

// Handler is the Lambda entrypoint for the webhook API.
type Handler struct {
	proc   Processor
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(proc Processor, logger *zap.Logger) (*Handler, error) {
	if proc == nil {
		return nil, errors.New("handler: processor must not be nil")
	}
	if logger == nil {
		return nil, errors.New("handler: logger must not be nil")
	}
	return &Handler{proc: proc, logger: logger}, nil
}

// Handle routes one API Gateway event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if strings.HasSuffix(req.Path, "/ping") {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/plain"},
			Body:       "pong",
		}, nil
	}
	return h.handleWebhook(ctx, req), nil
}

func (h *Handler) handleWebhook(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	event, err := parseInboundEvent(req)
	if err != nil {
		h.logger.Warn("rejected malformed webhook payload", zap.Error(err))
		return ackResponse()
	}

	out, err := h.proc.ProcessInbound(ctx, usecase.ProcessInput{Event: event})
	if err != nil {
		h.logger.Error("inbound message processing failed",
			zap.String("tenant_address", event.TenantAddress),
			zap.String("conversation_id", out.ConversationID),
			zap.Error(err))
		return ackResponse()
	}

	h.logger.Info("inbound message processed",
		zap.String("conversation_id", out.ConversationID),
		zap.Bool("new_conversation", out.IsNewConversation),
		zap.String("delivery_sid", out.Receipt.MessageSID))
	return ackResponse()
}

// parseInboundEvent decodes the form-encoded webhook body into the
// channel-agnostic event shape.
func parseInboundEvent(req events.APIGatewayProxyRequest) (domain.InboundEvent, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return domain.InboundEvent{}, errors.New("handler: body is not valid base64")
		}
		body = string(decoded)
	}

	form, err := url.ParseQuery(body)
	if err != nil {
		return domain.InboundEvent{}, errors.New("handler: body is not form encoded")
	}

	event := domain.InboundEvent{
		TenantAddress:     form.Get("To"),
		SenderAddress:     form.Get("From"),
		SenderDisplayName: form.Get("ProfileName"),
		Body:              form.Get("Body"),
	}
	if event.TenantAddress == "" || event.SenderAddress == "" {
		return domain.InboundEvent{}, errors.New("handler: missing To or From field")
	}
	return event, nil
}

func ackResponse() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/xml"},
		Body:       emptyTwiML,
	}
}
