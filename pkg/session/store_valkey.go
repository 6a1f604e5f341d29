package session

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const valkeyKeyPrefix = "zero-gate:session:"

type valkeyStore struct {
	client valkey.Client
}

func NewValkeyStore(client valkey.Client) Store {
	return &valkeyStore{client: client}
}

func (v *valkeyStore) Load(ctx context.Context, id string) (*Record, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(valkeyKeyPrefix+id).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session from valkey: %w", err)
	}
	return unmarshalRecord(data)
}

func (v *valkeyStore) Save(ctx context.Context, id string, record *Record, ttl time.Duration) error {
	data, err := marshalRecord(record)
	if err != nil {
		return err
	}
	cmd := v.client.B().Set().Key(valkeyKeyPrefix + id).Value(valkey.BinaryString(data)).Ex(ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store session in valkey: %w", err)
	}
	return nil
}

func (v *valkeyStore) Delete(ctx context.Context, id string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(valkeyKeyPrefix+id).Build()).Error(); err != nil {
		return fmt.Errorf("delete session from valkey: %w", err)
	}
	return nil
}
