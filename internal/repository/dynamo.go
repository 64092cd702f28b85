// Package repository persists customers, conversations and tenant credentials
// in a single DynamoDB table. Conversation documents embed their ordered
// message list so appends are one atomic list_append mutation.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	skDoc     = "DOC"
	skProfile = "PROFILE"
	skCreds   = "CREDS"
	skOpen    = "OPEN"

	// openConversationsIndex is a sparse GSI keyed by openKey; the
	// attribute is removed when a conversation closes, so only open
	// conversations appear on the index.
	openConversationsIndex = "open-conversations"
)

func conversationPK(conversationID string) string {
	return "CONV#" + conversationID
}

func customerConversationKey(tenantID, customerID string) string {
	return "TENANT#" + tenantID + "#CUSTOMER#" + customerID
}

func customerPK(tenantID, phone string) string {
	return "TENANT#" + tenantID + "#PHONE#" + phone
}

func channelPK(channelNumber string) string {
	return "CHANNEL#" + channelNumber
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

func timeValue(ts time.Time) *types.AttributeValueMemberS {
	return &types.AttributeValueMemberS{Value: ts.UTC().Format(time.RFC3339Nano)}
}

// conditionFailed reports whether err is a lost conditional write, either on
// a single item or inside a transaction.
func conditionFailed(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
