package secrets

import (
	"context"
	"encoding/json"
)

// StaticStore serves fixed credentials, used with SECRET_BACKEND=env.
type StaticStore struct {
	creds Credentials
}

func NewStaticStore(creds Credentials) *StaticStore {
	return &StaticStore{creds: creds}
}

func (s *StaticStore) GetSecretValue(context.Context, string) ([]byte, error) {
	return json.Marshal(s.creds)
}
