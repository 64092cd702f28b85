package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"chatbot-gateway/internal/domain"
)

// conversationsAPI is the minimal DynamoDB interface required by
// ConversationStore. Defined here for testability.
type conversationsAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ConversationStore wraps the DynamoDB table for conversation transcripts.
//
// Two item families cooperate to keep the at-most-one-open invariant:
// the conversation document (PK=CONV#<id>) holding the full message list,
// and a per-customer open pointer (PK=TENANT#t#CUSTOMER#c, SK=OPEN) that is
// created and deleted in the same transaction as the document transitions.
// A second writer racing to create a conversation loses the conditional put
// on the pointer and observes ErrUniqueViolation.
type ConversationStore struct {
	api       conversationsAPI
	tableName string
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(api conversationsAPI, tableName string) (*ConversationStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &ConversationStore{api: api, tableName: tableName}, nil
}

// FindOpenConversations returns all open conversations for the customer,
// most recently started first. The data model allows at most one; the engine
// treats anything longer as an invariant violation.
func (s *ConversationStore) FindOpenConversations(ctx context.Context, tenantID, customerID string) ([]domain.Conversation, error) {
	out, err := s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(openConversationsIndex),
		KeyConditionExpression: aws.String("openKey = :k"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: customerConversationKey(tenantID, customerID)},
		},
		ScanIndexForward: aws.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: FindOpenConversations query: %w", err)
	}

	convs := make([]domain.Conversation, 0, len(out.Items))
	for _, item := range out.Items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: FindOpenConversations unmarshal: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// CreateConversation persists a new open conversation seeded with its first
// message, and claims the customer's open pointer in the same transaction.
// Returns ErrUniqueViolation when another open conversation already holds
// the pointer.
func (s *ConversationStore) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("repository: CreateConversation: conversation id is required")
	}
	if len(conv.Messages) == 0 {
		return errors.New("repository: CreateConversation: first message is required")
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                conversationItem(conv),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(s.tableName),
					Item: map[string]types.AttributeValue{
						"PK":             &types.AttributeValueMemberS{Value: customerConversationKey(conv.TenantID, conv.CustomerID)},
						"SK":             &types.AttributeValueMemberS{Value: skOpen},
						"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
						"startedAt":      timeValue(conv.StartedAt),
					},
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%w: open conversation already exists for customer %s", ErrUniqueViolation, conv.CustomerID)
		}
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// AppendMessage appends one message to the conversation document's list in a
// single atomic mutation. Concurrent appends to the same conversation never
// overwrite one another.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, msg domain.Message) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skDoc},
		},
		UpdateExpression:    aws.String("SET messages = list_append(messages, :m)"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m": &types.AttributeValueMemberL{Value: []types.AttributeValue{messageItem(msg)}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// CloseConversation stamps endedAt on the document, drops it from the open
// index and releases the customer's open pointer, all in one transaction.
// Closed conversations are terminal; closing an already-closed or missing
// conversation reports ErrConversationNotFound.
func (s *ConversationStore) CloseConversation(ctx context.Context, tenantID, customerID, conversationID string, endedAt time.Time) error {
	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName: aws.String(s.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: conversationPK(conversationID)},
						"SK": &types.AttributeValueMemberS{Value: skDoc},
					},
					UpdateExpression:    aws.String("SET endedAt = :t REMOVE openKey"),
					ConditionExpression: aws.String("attribute_exists(PK) AND attribute_not_exists(endedAt)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":t": timeValue(endedAt),
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName: aws.String(s.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: customerConversationKey(tenantID, customerID)},
						"SK": &types.AttributeValueMemberS{Value: skOpen},
					},
					ConditionExpression: aws.String("conversationId = :id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": &types.AttributeValueMemberS{Value: conversationID},
					},
				},
			},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return fmt.Errorf("repository: CloseConversation: %w", err)
	}
	return nil
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	msgs := make([]types.AttributeValue, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		msgs = append(msgs, messageItem(msg))
	}
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: conversationPK(conv.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skDoc},
		"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
		"tenantId":       &types.AttributeValueMemberS{Value: conv.TenantID},
		"customerId":     &types.AttributeValueMemberS{Value: conv.CustomerID},
		"startedAt":      timeValue(conv.StartedAt),
		"openKey":        &types.AttributeValueMemberS{Value: customerConversationKey(conv.TenantID, conv.CustomerID)},
		"messages":       &types.AttributeValueMemberL{Value: msgs},
	}
	if conv.EndedAt != nil {
		item["endedAt"] = timeValue(*conv.EndedAt)
		delete(item, "openKey")
	}
	return item
}

func messageItem(msg domain.Message) types.AttributeValue {
	fields := map[string]types.AttributeValue{
		"messageId": &types.AttributeValueMemberS{Value: msg.ID},
		"timestamp": timeValue(msg.Timestamp),
		"author":    &types.AttributeValueMemberS{Value: string(msg.Author)},
		"content":   &types.AttributeValueMemberS{Value: msg.Content},
	}
	if msg.DeliveryStatus != "" {
		fields["deliveryStatus"] = &types.AttributeValueMemberS{Value: msg.DeliveryStatus}
	}
	return &types.AttributeValueMemberM{Value: fields}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Conversation{}, err
	}
	tenantID, err := strAttr(item, "tenantId")
	if err != nil {
		return domain.Conversation{}, err
	}
	customerID, err := strAttr(item, "customerId")
	if err != nil {
		return domain.Conversation{}, err
	}
	startedAt, err := timeAttr(item, "startedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	conv := domain.Conversation{
		ID:         id,
		TenantID:   tenantID,
		CustomerID: customerID,
		StartedAt:  startedAt,
	}
	if _, ok := item["endedAt"]; ok {
		endedAt, err := timeAttr(item, "endedAt")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.EndedAt = &endedAt
	}

	list, ok := item["messages"].(*types.AttributeValueMemberL)
	if !ok {
		return domain.Conversation{}, errors.New("repository: messages attribute is not a list")
	}
	for _, raw := range list.Value {
		entry, ok := raw.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Conversation{}, errors.New("repository: message entry is not a map")
		}
		msg, err := itemToMessage(entry.Value)
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func itemToMessage(fields map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(fields, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(fields, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	author, err := strAttr(fields, "author")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		Timestamp:      ts,
		Author:         domain.Author(author),
		Content:        optStrAttr(fields, "content"),
		DeliveryStatus: optStrAttr(fields, "deliveryStatus"),
	}, nil
}
