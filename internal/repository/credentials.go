package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatbot-gateway/internal/domain"
)

// credentialsAPI is the minimal DynamoDB interface required by
// CredentialStore.
type credentialsAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// CredentialStore reads encrypted tenant credentials, keyed by the bot's
// channel phone number. Records are provisioned out of band and read-only
// here; the secret fields stay ciphertext until internal/crypt opens them.
type CredentialStore struct {
	api       credentialsAPI
	tableName string
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(api credentialsAPI, tableName string) (*CredentialStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &CredentialStore{api: api, tableName: tableName}, nil
}

// FetchEncryptedCredentials returns the credentials record for the channel
// number, or ErrTenantNotFound when no bot is provisioned on that number.
func (s *CredentialStore) FetchEncryptedCredentials(ctx context.Context, channelNumber string) (domain.TenantCredentials, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: channelPK(channelNumber)},
			"SK": &types.AttributeValueMemberS{Value: skCreds},
		},
	})
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("repository: FetchEncryptedCredentials get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.TenantCredentials{}, fmt.Errorf("%w: channel %s", ErrTenantNotFound, channelNumber)
	}

	recordID, err := strAttr(out.Item, "recordId")
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("repository: FetchEncryptedCredentials unmarshal: %w", err)
	}
	tenantID, err := strAttr(out.Item, "tenantId")
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("repository: FetchEncryptedCredentials unmarshal: %w", err)
	}
	sid, err := strAttr(out.Item, "channelAccountSid")
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("repository: FetchEncryptedCredentials unmarshal: %w", err)
	}
	token, err := strAttr(out.Item, "channelAuthToken")
	if err != nil {
		return domain.TenantCredentials{}, fmt.Errorf("repository: FetchEncryptedCredentials unmarshal: %w", err)
	}

	return domain.TenantCredentials{
		RecordID:          recordID,
		TenantID:          tenantID,
		ChannelAccountSID: sid,
		ChannelAuthToken:  token,
		NLUCredentialsRef: optStrAttr(out.Item, "nluCredentialsRef"),
	}, nil
}
