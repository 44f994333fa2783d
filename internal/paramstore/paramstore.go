// Package paramstore resolves "ssm:" configuration references through AWS
// Systems Manager Parameter Store.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Prefix marks a config value as a parameter reference.
const Prefix = "ssm:"

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches a single parameter value.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted parameters and caches them for its lifetime.
type Client struct {
	api ssmAPI

	mu    sync.Mutex
	cache map[string]string
}

// New creates a Client.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, cache: make(map[string]string)}, nil
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.cache[name]; ok {
		return v, nil
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
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	c.cache[name] = *out.Parameter.Value
	return *out.Parameter.Value, nil
}

// IsRef reports whether v is a parameter reference.
func IsRef(v string) bool { return strings.HasPrefix(v, Prefix) }

// Resolve returns v unchanged unless it is a reference, in which case the
// referenced parameter is fetched.
func Resolve(ctx context.Context, g Getter, v string) (string, error) {
	if !IsRef(v) {
		return v, nil
	}
	if g == nil {
		return "", fmt.Errorf("paramstore: %q needs a parameter store client", v)
	}
	return g.GetParameter(ctx, strings.TrimPrefix(v, Prefix))
}

// ResolveAll resolves every pointed-to string in place and stops at the
// first failure.
func ResolveAll(ctx context.Context, g Getter, fields ...*string) error {
	for _, f := range fields {
		if f == nil {
			continue
		}
		v, err := Resolve(ctx, g, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
