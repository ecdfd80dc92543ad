// Package auth resolves the LLM API credential from one of three
// sources: an explicit key, the environment, or AWS Secrets Manager.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// EnvAPIKey is the environment variable consulted before the secret
// store.
const EnvAPIKey = "MEDIADIGEST_API_KEY"

var (
	// ErrNoCredential indicates every source came up empty.
	ErrNoCredential = errors.New("no API credential found")

	// ErrBadKeyFormat indicates the resolved key is not an sk- key.
	ErrBadKeyFormat = errors.New("API key must start with sk-")
)

// secretsAPI is the slice of the Secrets Manager client we use.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver looks up the API key. The zero value is not usable; call
// NewResolver.
type Resolver struct {
	secretName string
	region     string

	newClient func(ctx context.Context, region string) (secretsAPI, error)
}

// NewResolver builds a resolver for the given secret name and region.
// Empty values fall back to AWS_SECRET_NAME / AWS_REGION, then to the
// defaults mediadigest/default and eu-west-2.
func NewResolver(secretName, region string) *Resolver {
	if secretName == "" {
		secretName = os.Getenv("AWS_SECRET_NAME")
	}
	if secretName == "" {
		secretName = "mediadigest/default"
	}
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "eu-west-2"
	}
	return &Resolver{
		secretName: secretName,
		region:     region,
		newClient:  newSecretsClient,
	}
}

func newSecretsClient(ctx context.Context, region string) (secretsAPI, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Resolve returns the first credential found, in precedence order:
// the explicit key, the environment, then Secrets Manager.
func (r *Resolver) Resolve(ctx context.Context, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return validate(key)
	}
	if key := strings.TrimSpace(os.Getenv(EnvAPIKey)); key != "" {
		return validate(key)
	}

	key, err := r.fromSecretsManager(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	return validate(key)
}

func (r *Resolver) fromSecretsManager(ctx context.Context) (string, error) {
	client, err := r.newClient(ctx, r.region)
	if err != nil {
		return "", err
	}
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &r.secretName,
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", r.secretName, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s is empty", r.secretName)
	}
	return extractKey(*out.SecretString), nil
}

// extractKey probes JSON-shaped secrets for the usual key names; a
// plain string secret is returned as-is.
func extractKey(secret string) string {
	trimmed := strings.TrimSpace(secret)
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return trimmed
	}
	for _, name := range []string{"api_key", "apikey", "key"} {
		if v, ok := m[name]; ok && v != "" {
			return v
		}
	}
	return trimmed
}

func validate(key string) (string, error) {
	if !strings.HasPrefix(key, "sk-") {
		return "", ErrBadKeyFormat
	}
	return key, nil
}
