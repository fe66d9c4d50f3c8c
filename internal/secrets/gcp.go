package secrets

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type SecretVersionAccessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// GCPStore reads the latest version of a secret from GCP Secret Manager.
type GCPStore struct {
	client    SecretVersionAccessor
	projectID string
}

func NewGCPStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*GCPStore, *secretmanager.Client, error) {
	if projectID == "" {
		return nil, nil, fmt.Errorf("GCP Project ID is not set")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &GCPStore{client: client, projectID: projectID}, client, nil
}

func (s *GCPStore) GetSecretValue(ctx context.Context, secretID string) ([]byte, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, secretID)

	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, resourceName)
		}
		return nil, fmt.Errorf("%w: failed to access secret version: %v", ErrSecretStoreUnavailable, err)
	}
	return result.Payload.Data, nil
}
