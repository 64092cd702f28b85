// Package paramstore reads bootstrap configuration from AWS SSM Parameter
// Store: the rotating ring of envelope-decryption keys and the NLU and
// messaging endpoints.
package paramstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the minimal AWS SSM interface required by Client.
// *ssm.Client from aws-sdk-go-v2 satisfies this interface.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter is the interface that wraps GetParameter. Consumers should depend
// on this interface rather than the concrete *Client so they remain testable
// without real AWS calls.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client wraps an AWS SSM API for parameter retrieval.
type Client struct {
	api ssmAPI
}

// New creates a Client with the given SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter fetches one decrypted parameter value by name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// LoadKeyRing fetches and decodes the envelope-decryption key ring: a JSON
// array of base64 keys, current key first. Key bytes are returned as-is;
// length validation belongs to the decryptor.
func LoadKeyRing(ctx context.Context, getter Getter, name string) ([][]byte, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return nil, fmt.Errorf("paramstore: key ring %q is not a JSON string array: %w", name, err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("paramstore: key ring %q is empty", name)
	}
	keys := make([][]byte, 0, len(encoded))
	for i, e := range encoded {
		key, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, fmt.Errorf("paramstore: key ring %q entry %d is not base64: %w", name, i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
