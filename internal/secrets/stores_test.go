package secrets

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretsManager struct {
	out *secretsmanager.GetSecretValueOutput
	err error
}

func (f *fakeSecretsManager) GetSecretValue(context.Context, *secretsmanager.GetSecretValueInput, ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	return f.out, f.err
}

func TestAWSStoreClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "not found", err: &types.ResourceNotFoundException{Message: aws.String("no such secret")}, want: ErrSecretNotFound},
		{name: "other", err: errors.New("AccessDeniedException"), want: ErrSecretStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewAWSStore(&fakeSecretsManager{err: tt.err})
			if _, err := store.GetSecretValue(context.Background(), "orders/db"); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAWSStoreReturnsSecretString(t *testing.T) {
	store := NewAWSStore(&fakeSecretsManager{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(validSecret)}})
	raw, err := store.GetSecretValue(context.Background(), "orders/db")
	if err != nil {
		t.Fatalf("GetSecretValue returned error: %v", err)
	}
	if string(raw) != validSecret {
		t.Fatalf("unexpected secret %q", raw)
	}
}

type fakeAccessor struct {
	name string
	err  error
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.name = req.Name
	if f.err != nil {
		return nil, f.err
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(validSecret)},
	}, nil
}

func TestGCPStore(t *testing.T) {
	accessor := &fakeAccessor{}
	store := &GCPStore{client: accessor, projectID: "shop-prod"}

	raw, err := store.GetSecretValue(context.Background(), "orders-db")
	if err != nil {
		t.Fatalf("GetSecretValue returned error: %v", err)
	}
	if accessor.name != "projects/shop-prod/secrets/orders-db/versions/latest" {
		t.Fatalf("unexpected resource name %s", accessor.name)
	}
	if string(raw) != validSecret {
		t.Fatalf("unexpected payload %q", raw)
	}

	accessor.err = status.Error(codes.NotFound, "secret missing")
	if _, err := store.GetSecretValue(context.Background(), "orders-db"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected ErrSecretNotFound, got %v", err)
	}

	accessor.err = status.Error(codes.PermissionDenied, "denied")
	if _, err := store.GetSecretValue(context.Background(), "orders-db"); !errors.Is(err, ErrSecretStoreUnavailable) {
		t.Fatalf("expected ErrSecretStoreUnavailable, got %v", err)
	}
}
