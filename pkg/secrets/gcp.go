// Package secrets loads exchange API credentials from GCP Secret Manager so
// keys never live in config files.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/tradeforge/execore/pkg/models"
)

type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager connects to Secret Manager. credentialsFile may be empty
// to use application default credentials.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}
	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)
	req := &secretmanagerpb.AccessSecretVersionRequest{Name: name}
	result, err := g.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}
	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		g.logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return value
}

// GetAPICredentials assembles one exchange's credentials for an account.
// Secrets follow "{exchange}-{account}-api-key" / "-api-secret" /
// "-api-passphrase"; a missing passphrase is fine for venues without one.
func (g *GCPSecretManager) GetAPICredentials(ctx context.Context, exchange models.ExchangeName, accountID int) (models.APICredentials, error) {
	prefix := fmt.Sprintf("%s-%d", exchange, accountID)
	key, err := g.GetSecret(ctx, prefix+"-api-key")
	if err != nil {
		return models.APICredentials{}, err
	}
	secret, err := g.GetSecret(ctx, prefix+"-api-secret")
	if err != nil {
		return models.APICredentials{}, err
	}
	return models.APICredentials{
		APIKey:        key,
		APISecret:     secret,
		APIPassphrase: g.GetSecretWithDefault(ctx, prefix+"-api-passphrase", ""),
	}, nil
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}
