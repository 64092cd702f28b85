package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbot-gateway/internal/domain"
	"chatbot-gateway/internal/repository"
)

const (
	defaultNLUTimeout  = 10 * time.Second
	defaultSendTimeout = 10 * time.Second
)

// CredentialSource fetches the encrypted tenant credentials record by the
// bot's channel phone number.
type CredentialSource interface {
	FetchEncryptedCredentials(ctx context.Context, channelNumber string) (domain.TenantCredentials, error)
}

// KeyMaterialFetcher retrieves the externally stored NLU key material.
type KeyMaterialFetcher interface {
	FetchKeyMaterialBlob(ctx context.Context, ref string) ([]byte, error)
}

// SecretOpener turns ciphertext envelopes into cleartext.
// *crypt.Decryptor satisfies this interface.
type SecretOpener interface {
	Decrypt(payload string) (string, error)
}

// ConversationEngine is the session lifecycle surface consumed by the
// pipeline. *session.Engine satisfies this interface.
type ConversationEngine interface {
	ResolveActiveConversation(ctx context.Context, tenantID, customerID, inboundContent string) (domain.Conversation, bool, error)
	AppendMessage(ctx context.Context, conversationID string, author domain.Author, content string, timestamp time.Time) (domain.Message, error)
}

// CustomerResolver maps raw sender addresses to customer identities.
type CustomerResolver interface {
	ResolveCustomer(ctx context.Context, tenantID, rawAddress, displayAlias string) (domain.Customer, error)
}

// IntentDetector is one tenant-scoped NLU session client.
type IntentDetector interface {
	DetectIntent(ctx context.Context, sessionID, utterance string) (string, error)
}

// MessageSender is one tenant-scoped outbound channel client.
type MessageSender interface {
	Send(ctx context.Context, toAddress, text string) (domain.DeliveryReceipt, error)
}

// NLUFactory builds an IntentDetector from the tenant's decrypted key
// material. Called once per request so credentials never outlive it.
type NLUFactory func(keyMaterial []byte) (IntentDetector, error)

// SenderFactory builds a MessageSender from the tenant's decrypted channel
// credentials and the bot's own channel address.
type SenderFactory func(accountSID, authToken, fromAddress string) (MessageSender, error)

// ProcessService drives one inbound webhook delivery through the pipeline:
// credentials, identity, session, intent detection, outbound reply.
type ProcessService struct {
	creds       CredentialSource
	blobs       KeyMaterialFetcher
	secrets     SecretOpener
	identity    CustomerResolver
	engine      ConversationEngine
	newNLU      NLUFactory
	newSender   SenderFactory
	logger      *zap.Logger
	nluTimeout  time.Duration
	sendTimeout time.Duration
}

// ProcessInput is one inbound delivery plus nothing else; all tenant state is
// resolved inside the request.
type ProcessInput struct {
	Event domain.InboundEvent
}

type ProcessOutput struct {
	ConversationID    string
	IsNewConversation bool
	Reply             string
	Receipt           domain.DeliveryReceipt
}

// NewProcessService wires the pipeline. NLU and sender clients are built per
// request through the factories so decrypted tenant secrets are never stored
// on the service.
func NewProcessService(
	creds CredentialSource,
	blobs KeyMaterialFetcher,
	secrets SecretOpener,
	identity CustomerResolver,
	engine ConversationEngine,
	newNLU NLUFactory,
	newSender SenderFactory,
	logger *zap.Logger,
) (*ProcessService, error) {
	if creds == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if blobs == nil {
		return nil, errors.New("usecase: key material fetcher must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("usecase: secret opener must not be nil")
	}
	if identity == nil {
		return nil, errors.New("usecase: customer resolver must not be nil")
	}
	if engine == nil {
		return nil, errors.New("usecase: conversation engine must not be nil")
	}
	if newNLU == nil {
		return nil, errors.New("usecase: nlu factory must not be nil")
	}
	if newSender == nil {
		return nil, errors.New("usecase: sender factory must not be nil")
	}
	if logger == nil {
		return nil, errors.New("usecase: logger must not be nil")
	}
	return &ProcessService{
		creds:       creds,
		blobs:       blobs,
		secrets:     secrets,
		identity:    identity,
		engine:      engine,
		newNLU:      newNLU,
		newSender:   newSender,
		logger:      logger,
		nluTimeout:  defaultNLUTimeout,
		sendTimeout: defaultSendTimeout,
	}, nil
}

// ProcessInbound handles one webhook delivery end to end. The inbound message
// is durably recorded before the NLU or outbound calls run, so downstream
// failures never lose transcript data, only the bot's reply.
func (s *ProcessService) ProcessInbound(ctx context.Context, in ProcessInput) (ProcessOutput, error) {
	ev := in.Event
	if strings.TrimSpace(ev.TenantAddress) == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "missing_tenant_address", nil)
	}
	if strings.TrimSpace(ev.SenderAddress) == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "missing_sender_address", nil)
	}

	tenant, nlu, sender, err := s.resolveTenant(ctx, ev.TenantAddress)
	if err != nil {
		return ProcessOutput{}, err
	}

	customer, err := s.identity.ResolveCustomer(ctx, tenant.TenantID, ev.SenderAddress, ev.SenderDisplayName)
	if err != nil {
		return ProcessOutput{}, newError(ErrorPersistence, "resolve_customer", err)
	}

	conv, isNew, err := s.engine.ResolveActiveConversation(ctx, tenant.TenantID, customer.ID, ev.Body)
	if err != nil {
		return ProcessOutput{}, newError(ErrorPersistence, "resolve_conversation", err)
	}
	if !isNew {
		// The create path embeds the first user message; only the reuse
		// path appends it here.
		if _, err := s.engine.AppendMessage(ctx, conv.ID, domain.AuthorUser, ev.Body, timeNow()); err != nil {
			if errors.Is(err, repository.ErrConversationNotFound) {
				return ProcessOutput{}, newError(ErrorPersistence, "conversation_vanished", err)
			}
			return ProcessOutput{}, newError(ErrorPersistence, "append_user_message", err)
		}
	}

	out := ProcessOutput{ConversationID: conv.ID, IsNewConversation: isNew}

	nluCtx, cancelNLU := context.WithTimeout(ctx, s.nluTimeout)
	defer cancelNLU()
	reply, err := nlu.DetectIntent(nluCtx, conv.ID, ev.Body)
	if err != nil {
		return out, newError(ErrorIntentEngine, "detect_intent", err)
	}
	out.Reply = reply

	if _, err := s.engine.AppendMessage(ctx, conv.ID, domain.AuthorBot, reply, timeNow()); err != nil {
		return out, newError(ErrorPersistence, "append_bot_message", err)
	}

	sendCtx, cancelSend := context.WithTimeout(ctx, s.sendTimeout)
	defer cancelSend()
	receipt, err := sender.Send(sendCtx, NormalizeAddress(ev.SenderAddress), reply)
	if err != nil {
		return out, newError(ErrorDelivery, "send_reply", err)
	}
	out.Receipt = receipt

	return out, nil
}

// resolveTenant fetches and decrypts the tenant's credentials and builds the
// request-scoped NLU and messaging clients.
func (s *ProcessService) resolveTenant(ctx context.Context, tenantAddress string) (domain.TenantCredentials, IntentDetector, MessageSender, error) {
	tenant, err := s.creds.FetchEncryptedCredentials(ctx, NormalizeAddress(tenantAddress))
	if err != nil {
		if errors.Is(err, repository.ErrTenantNotFound) {
			return domain.TenantCredentials{}, nil, nil, newError(ErrorInvalidInput, "unknown_tenant", err)
		}
		return domain.TenantCredentials{}, nil, nil, newError(ErrorPersistence, "fetch_credentials", err)
	}

	accountSID, err := s.secrets.Decrypt(tenant.ChannelAccountSID)
	if err != nil {
		return domain.TenantCredentials{}, nil, nil, newError(ErrorCredentials, "decrypt_account_sid", err)
	}
	authToken, err := s.secrets.Decrypt(tenant.ChannelAuthToken)
	if err != nil {
		return domain.TenantCredentials{}, nil, nil, newError(ErrorCredentials, "decrypt_auth_token", err)
	}

	keyMaterial, err := s.blobs.FetchKeyMaterialBlob(ctx, tenant.NLUCredentialsRef)
	if err != nil {
		return domain.TenantCredentials{}, nil, nil, newError(ErrorCredentials, "fetch_nlu_key_material", err)
	}
	nlu, err := s.newNLU(keyMaterial)
	if err != nil {
		return domain.TenantCredentials{}, nil, nil, newError(ErrorCredentials, "build_nlu_client", err)
	}

	s.logger.Debug("tenant clients resolved", zap.String("tenant_id", tenant.TenantID))

	sender, err := s.newSender(accountSID, authToken, tenantAddress)
	if err != nil {
		return domain.TenantCredentials{}, nil, nil, newError(ErrorCredentials, "build_sender_client", err)
	}

	return tenant, nlu, sender, nil
}

var timeNow = func() time.Time {
	return time.Now().UTC()
}
