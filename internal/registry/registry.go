// Package registry looks up a device's last reported state from the twin
// snapshots the registry service mirrors into the document store.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oskarhn/gnss-assist/internal/cache/redisstore"
)

// ErrDeviceNotFound is returned when no twin snapshot exists for the device.
var ErrDeviceNotFound = errors.New("device not found in registry")

// Interface is the lookup the ingress enricher depends on.
type Interface interface {
	NetworkMode(ctx context.Context, deviceID string) (string, error)
}

// twinDoc mirrors the registry's reported-state snapshot shape.
type twinDoc struct {
	Reported struct {
		NetworkMode string `json:"networkMode"`
	} `json:"reported"`
}

type RedisRegistry struct {
	store *redisstore.Client
}

func New(store *redisstore.Client) *RedisRegistry {
	return &RedisRegistry{store: store}
}

func (r *RedisRegistry) NetworkMode(ctx context.Context, deviceID string) (string, error) {
	raw, err := r.store.Get(ctx, twinKey(deviceID))
	if errors.Is(err, redisstore.ErrNotFound) {
		return "", ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("registry lookup %q: %w", deviceID, err)
	}
	var doc twinDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("registry decode %q: %w", deviceID, err)
	}
	return doc.Reported.NetworkMode, nil
}

func twinKey(deviceID string) string {
	return "twin:" + deviceID
}
