package eventstream

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/chainsafe/xchain-vault/pkg/config"
	"github.com/chainsafe/xchain-vault/pkg/pgutil"
	"github.com/chainsafe/xchain-vault/pkg/vault"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	pgutil.RequireDockerAccess(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func TestRedisPublisher_Publish(t *testing.T) {
	url := setupRedis(t)
	ctx := context.Background()

	pub, err := NewRedisPublisher(ctx, &config.EventsConfig{RedisURL: url, Stream: "vault:events", MaxLen: 1000}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	id := uint64(0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(ctx,
		&vault.Event{Kind: vault.EventWithdrawalRefunded, Account: owner, PositionID: &id, Amount: big.NewInt(100), CreatedAt: now},
		&vault.Event{Kind: vault.EventBadgeRelocated, Account: owner, Data: map[string]string{"destination_namespace": "solana:mainnet"}, CreatedAt: now},
	))
	require.NoError(t, pub.Publish(ctx))

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	entries, err := client.XRange(ctx, "vault:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, string(vault.EventWithdrawalRefunded), entries[0].Values["kind"])
	assert.Equal(t, owner.Hex(), entries[1].Values["account"])

	var body vault.EventResponse
	require.NoError(t, json.Unmarshal([]byte(entries[1].Values["payload"].(string)), &body))
	assert.Equal(t, vault.EventBadgeRelocated, body.Kind)
	assert.Equal(t, "solana:mainnet", body.Data["destination_namespace"])
}

func TestNewRedisPublisher_InvalidURL(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), &config.EventsConfig{RedisURL: "http://nope"}, zap.NewNop())
	assert.ErrorContains(t, err, "invalid events.redis_url")
}
