package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"chatbot-gateway/internal/domain"
)

type fakeDynamo struct {
	queryOut     *dynamodb.QueryOutput
	queryErr     error
	updateErr    error
	txErr        error
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	lastQueryIn  *dynamodb.QueryInput
	lastUpdateIn *dynamodb.UpdateItemInput
	lastTxIn     *dynamodb.TransactWriteItemsInput
	lastGetIn    *dynamodb.GetItemInput
	lastPutIn    *dynamodb.PutItemInput
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryOut == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOut, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpdateIn = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxIn = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetIn = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func conditionalTxCancel() error {
	code := "ConditionalCheckFailed"
	return &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: &code},
		},
	}
}

func sampleConversation() domain.Conversation {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Conversation{
		ID:         "conv-1",
		TenantID:   "tenant-1",
		CustomerID: "cust-1",
		StartedAt:  started,
		Messages: []domain.Message{{
			ID:        "msg-1",
			Timestamp: started,
			Author:    domain.AuthorUser,
			Content:   "hello",
		}},
	}
}

func mustConversationStore(t *testing.T, db *fakeDynamo) *ConversationStore {
	t.Helper()
	s, err := NewConversationStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func TestFindOpenConversations(t *testing.T) {
	item := conversationItem(sampleConversation())
	db := &fakeDynamo{queryOut: &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}}
	s := mustConversationStore(t, db)

	convs, err := s.FindOpenConversations(context.Background(), "tenant-1", "cust-1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, sampleConversation(), convs[0])

	require.NotNil(t, db.lastQueryIn)
	require.Equal(t, openConversationsIndex, *db.lastQueryIn.IndexName)
	key := db.lastQueryIn.ExpressionAttributeValues[":k"].(*types.AttributeValueMemberS)
	require.Equal(t, "TENANT#tenant-1#CUSTOMER#cust-1", key.Value)
}

func TestFindOpenConversations_Empty(t *testing.T) {
	s := mustConversationStore(t, &fakeDynamo{})
	convs, err := s.FindOpenConversations(context.Background(), "tenant-1", "cust-1")
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestCreateConversation(t *testing.T) {
	db := &fakeDynamo{}
	s := mustConversationStore(t, db)

	require.NoError(t, s.CreateConversation(context.Background(), sampleConversation()))
	require.NotNil(t, db.lastTxIn)
	require.Len(t, db.lastTxIn.TransactItems, 2)

	doc := db.lastTxIn.TransactItems[0].Put
	require.Equal(t, "attribute_not_exists(PK)", *doc.ConditionExpression)
	pk := doc.Item["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "CONV#conv-1", pk.Value)
	_, hasOpenKey := doc.Item["openKey"]
	require.True(t, hasOpenKey)

	pointer := db.lastTxIn.TransactItems[1].Put
	require.Equal(t, "attribute_not_exists(PK)", *pointer.ConditionExpression)
	ptrPK := pointer.Item["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "TENANT#tenant-1#CUSTOMER#cust-1", ptrPK.Value)
}

func TestCreateConversation_LostRace(t *testing.T) {
	db := &fakeDynamo{txErr: conditionalTxCancel()}
	s := mustConversationStore(t, db)

	err := s.CreateConversation(context.Background(), sampleConversation())
	require.ErrorIs(t, err, ErrUniqueViolation)
}

func TestCreateConversation_RequiresFirstMessage(t *testing.T) {
	s := mustConversationStore(t, &fakeDynamo{})
	conv := sampleConversation()
	conv.Messages = nil
	require.Error(t, s.CreateConversation(context.Background(), conv))
}

func TestAppendMessage(t *testing.T) {
	db := &fakeDynamo{}
	s := mustConversationStore(t, db)

	msg := domain.Message{
		ID:        "msg-2",
		Timestamp: time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
		Author:    domain.AuthorBot,
		Content:   "hi there",
	}
	require.NoError(t, s.AppendMessage(context.Background(), "conv-1", msg))

	require.NotNil(t, db.lastUpdateIn)
	require.Equal(t, "SET messages = list_append(messages, :m)", *db.lastUpdateIn.UpdateExpression)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdateIn.ConditionExpression)
	list := db.lastUpdateIn.ExpressionAttributeValues[":m"].(*types.AttributeValueMemberL)
	require.Len(t, list.Value, 1)
}

func TestAppendMessage_NotFound(t *testing.T) {
	db := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s := mustConversationStore(t, db)

	err := s.AppendMessage(context.Background(), "gone", domain.Message{ID: "msg-1"})
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestCloseConversation(t *testing.T) {
	db := &fakeDynamo{}
	s := mustConversationStore(t, db)
	endedAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CloseConversation(context.Background(), "tenant-1", "cust-1", "conv-1", endedAt))
	require.NotNil(t, db.lastTxIn)
	require.Len(t, db.lastTxIn.TransactItems, 2)

	update := db.lastTxIn.TransactItems[0].Update
	require.Equal(t, "SET endedAt = :t REMOVE openKey", *update.UpdateExpression)
	require.Equal(t, "attribute_exists(PK) AND attribute_not_exists(endedAt)", *update.ConditionExpression)

	del := db.lastTxIn.TransactItems[1].Delete
	require.Equal(t, "conversationId = :id", *del.ConditionExpression)
}

func TestCloseConversation_AlreadyClosed(t *testing.T) {
	db := &fakeDynamo{txErr: conditionalTxCancel()}
	s := mustConversationStore(t, db)

	err := s.CloseConversation(context.Background(), "tenant-1", "cust-1", "conv-1", time.Now())
	require.ErrorIs(t, err, ErrConversationNotFound)
}

func TestItemRoundTrip_ClosedConversation(t *testing.T) {
	conv := sampleConversation()
	endedAt := conv.StartedAt.Add(26 * time.Hour)
	conv.EndedAt = &endedAt
	conv.Messages = append(conv.Messages, domain.Message{
		ID:             "msg-2",
		Timestamp:      conv.StartedAt.Add(time.Minute),
		Author:         domain.AuthorBot,
		Content:        "hi there",
		DeliveryStatus: "delivered",
	})

	item := conversationItem(conv)
	_, hasOpenKey := item["openKey"]
	require.False(t, hasOpenKey)

	got, err := itemToConversation(item)
	require.NoError(t, err)
	require.Equal(t, conv, got)
}

func TestStoreErrorsWrapped(t *testing.T) {
	storeErr := errors.New("throttled")
	db := &fakeDynamo{queryErr: storeErr, updateErr: storeErr, txErr: storeErr}
	s := mustConversationStore(t, db)

	_, err := s.FindOpenConversations(context.Background(), "t", "c")
	require.ErrorIs(t, err, storeErr)
	require.ErrorIs(t, s.AppendMessage(context.Background(), "c1", domain.Message{ID: "m"}), storeErr)
	require.ErrorIs(t, s.CreateConversation(context.Background(), sampleConversation()), storeErr)
}
