package msh

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openas4/msh/internal/config"
	"github.com/openas4/msh/internal/storage"
	"github.com/openas4/msh/pkg/pmode"
)

// staticResolver answers every lookup with one URL and records the
// party id it was asked for.
type staticResolver struct {
	url     string
	partyID string
}

func (r *staticResolver) Resolve(ctx context.Context, partyID string) (string, error) {
	r.partyID = partyID
	return r.url, nil
}

func TestSubmitResolvesDynamicEndpoint(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	registry := pmode.NewRegistry()
	pm := &pmode.SendingProcessingMode{
		ID:                "pm-dynamic",
		MepBinding:        pmode.MepBindingPush,
		PushConfiguration: &pmode.PushConfiguration{DynamicDiscovery: true},
	}
	require.NoError(t, registry.AddSending(pm))

	resolver := &staticResolver{url: server.URL}
	m, store := newTestMSH(t, registry, Options{Endpoints: resolver})
	ctx := context.Background()

	id, err := m.Submit(ctx, submission("pm-dynamic"))
	require.NoError(t, err)

	assert.Equal(t, "receiver", resolver.partyID)
	assert.Equal(t, 1, hits)

	stored, err := store.GetOutMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationSent, stored.Operation)

	// The registry entry keeps its unresolved form.
	assert.Empty(t, pm.PushConfiguration.URL)
}

func TestSubmitDynamicEndpointWithoutResolver(t *testing.T) {
	registry := pmode.NewRegistry()
	require.NoError(t, registry.AddSending(&pmode.SendingProcessingMode{
		ID:                "pm-dynamic",
		MepBinding:        pmode.MepBindingPush,
		PushConfiguration: &pmode.PushConfiguration{DynamicDiscovery: true},
	}))

	m, store := newTestMSH(t, registry, Options{})
	ctx := context.Background()

	id, err := m.Submit(ctx, submission("pm-dynamic"))
	require.Error(t, err)

	stored, err := store.GetOutMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, storage.OperationDeadLettered, stored.Operation)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  address: ":9443"
  path: /msh

storage:
  mongodb:
    uri: mongodb://localhost:27017

pulling:
  channels:
    - mpc: urn:test:mpc:orders
      url: https://partner.example.com/as4
      min_interval: 5s
      max_interval: 1m
      auth:
        username: puller
        password: secret
  authorization:
    urn:test:mpc:invoices:
      username: partner
      password: hunter2

reliability:
  poll_interval: 30s
  batch_size: 25

discovery:
  lookup_domain: bdxl.example.org
`))
	require.NoError(t, err)

	opts, err := optionsFromConfig(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, ":9443", opts.ServerAddress)
	assert.Equal(t, "/msh", opts.ServerPath)

	require.Len(t, opts.PullChannels, 1)
	assert.Equal(t, "urn:test:mpc:orders", opts.PullChannels[0].Mpc)
	assert.Equal(t, 5*time.Second, opts.PullChannels[0].MinInterval)

	require.Len(t, opts.PullTargets, 1)
	assert.Equal(t, "https://partner.example.com/as4", opts.PullTargets[0].URL)
	require.NotNil(t, opts.PullTargets[0].Auth)
	assert.Equal(t, "puller", opts.PullTargets[0].Auth.Username)

	assert.Equal(t, "partner", opts.PullAuthorization["urn:test:mpc:invoices"].Username)

	require.NotNil(t, opts.Reliability)
	assert.Equal(t, 30*time.Second, opts.Reliability.PollInterval)
	assert.Equal(t, 25, opts.Reliability.BatchSize)

	assert.NotNil(t, opts.Endpoints, "lookup domain must enable discovery")
}

func TestFromConfigStoreUnavailable(t *testing.T) {
	cfg, err := config.Parse([]byte(`
storage:
  mongodb:
    uri: mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = FromConfig(ctx, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message store")
}
