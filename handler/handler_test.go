package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatbot-gateway/internal/usecase"
)

type mockProcessor struct {
	out    usecase.ProcessOutput
	err    error
	called bool
	lastIn usecase.ProcessInput
}

func (m *mockProcessor) ProcessInbound(_ context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error) {
	m.called = true
	m.lastIn = in
	return m.out, m.err
}

func webhookRequest(values url.Values) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		Path:       "/webhook/whatsapp",
		HTTPMethod: http.MethodPost,
		Body:       values.Encode(),
	}
}

func inboundForm() url.Values {
	return url.Values{
		"To":          {"whatsapp:+15550001111"},
		"From":        {"whatsapp:+15551112222"},
		"ProfileName": {"Alice"},
		"Body":        {"hello"},
	}
}

func TestHandle_Webhook(t *testing.T) {
	proc := &mockProcessor{out: usecase.ProcessOutput{ConversationID: "conv-1"}}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), webhookRequest(inboundForm()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, emptyTwiML, res.Body)
	require.True(t, proc.called)
	require.Equal(t, "whatsapp:+15550001111", proc.lastIn.Event.TenantAddress)
	require.Equal(t, "whatsapp:+15551112222", proc.lastIn.Event.SenderAddress)
	require.Equal(t, "Alice", proc.lastIn.Event.SenderDisplayName)
	require.Equal(t, "hello", proc.lastIn.Event.Body)
}

func TestHandle_Base64Body(t *testing.T) {
	proc := &mockProcessor{}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	req := webhookRequest(inboundForm())
	req.Body = base64.StdEncoding.EncodeToString([]byte(req.Body))
	req.IsBase64Encoded = true

	res, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.True(t, proc.called)
	require.Equal(t, "hello", proc.lastIn.Event.Body)
}

func TestHandle_ProcessorFailureStillAcks(t *testing.T) {
	proc := &mockProcessor{err: errors.New("intent engine down")}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), webhookRequest(inboundForm()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, emptyTwiML, res.Body)
}

func TestHandle_MalformedBodyStillAcks(t *testing.T) {
	proc := &mockProcessor{}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	req := webhookRequest(url.Values{})
	req.Body = "%%%"

	res, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.False(t, proc.called)
}

func TestHandle_MissingAddressesStillAcks(t *testing.T) {
	proc := &mockProcessor{}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	form := inboundForm()
	form.Del("From")
	res, err := h.Handle(context.Background(), webhookRequest(form))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.False(t, proc.called)
}

func TestHandle_Ping(t *testing.T) {
	proc := &mockProcessor{}
	h, err := NewHandler(proc, zap.NewNop())
	require.NoError(t, err)

	res, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		Path:       "/webhook/ping",
		HTTPMethod: http.MethodGet,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "pong", res.Body)
	require.False(t, proc.called)
}
