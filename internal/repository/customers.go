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

// customersAPI is the minimal DynamoDB interface required by CustomerStore.
type customersAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CustomerStore persists customer identities keyed by (tenant, phone).
// The partition key encodes both, so the uniqueness invariant is enforced by
// a conditional put rather than a read-then-write.
type CustomerStore struct {
	api       customersAPI
	tableName string
}

// NewCustomerStore creates a CustomerStore.
func NewCustomerStore(api customersAPI, tableName string) (*CustomerStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &CustomerStore{api: api, tableName: tableName}, nil
}

// FindCustomer looks up a customer by normalized phone. Returns ok=false when
// no record exists.
func (s *CustomerStore) FindCustomer(ctx context.Context, tenantID, phone string) (domain.Customer, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: customerPK(tenantID, phone)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("repository: FindCustomer get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Customer{}, false, nil
	}
	cust, err := itemToCustomer(out.Item)
	if err != nil {
		return domain.Customer{}, false, fmt.Errorf("repository: FindCustomer unmarshal: %w", err)
	}
	return cust, true, nil
}

// CreateCustomer persists a new customer. A concurrent create for the same
// (tenant, phone) loses the conditional put and gets ErrUniqueViolation; the
// caller should re-fetch instead of failing.
func (s *CustomerStore) CreateCustomer(ctx context.Context, cust domain.Customer) error {
	if cust.ID == "" {
		return errors.New("repository: CreateCustomer: customer id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                customerItem(cust),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("%w: customer %s/%s", ErrUniqueViolation, cust.TenantID, cust.Phone)
		}
		return fmt.Errorf("repository: CreateCustomer: %w", err)
	}
	return nil
}

func customerItem(cust domain.Customer) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: customerPK(cust.TenantID, cust.Phone)},
		"SK":           &types.AttributeValueMemberS{Value: skProfile},
		"customerId":   &types.AttributeValueMemberS{Value: cust.ID},
		"tenantId":     &types.AttributeValueMemberS{Value: cust.TenantID},
		"displayAlias": &types.AttributeValueMemberS{Value: cust.DisplayAlias},
		"phone":        &types.AttributeValueMemberS{Value: cust.Phone},
		"registeredAt": timeValue(cust.RegisteredAt),
	}
}

func itemToCustomer(item map[string]types.AttributeValue) (domain.Customer, error) {
	id, err := strAttr(item, "customerId")
	if err != nil {
		return domain.Customer{}, err
	}
	tenantID, err := strAttr(item, "tenantId")
	if err != nil {
		return domain.Customer{}, err
	}
	phone, err := strAttr(item, "phone")
	if err != nil {
		return domain.Customer{}, err
	}
	registeredAt, err := timeAttr(item, "registeredAt")
	if err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		ID:           id,
		TenantID:     tenantID,
		DisplayAlias: optStrAttr(item, "displayAlias"),
		Phone:        phone,
		RegisteredAt: registeredAt,
	}, nil
}
