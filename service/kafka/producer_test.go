package kafka

import (
	"encoding/json"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, BuildBaseConfig(DefaultConfig(nil)))
	defer func() { require.NoError(t, sp.Close()) }()

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]any
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		assert.Equal(t, "op-1", got["op_id"])
		return nil
	})

	_, _, err := SendJSON(sp, "stock.deltas.dead", "42", map[string]any{"op_id": "op-1"})
	require.NoError(t, err)
}

func TestSendJSONError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, BuildBaseConfig(DefaultConfig(nil)))
	defer func() { _ = sp.Close() }()

	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	_, _, err := SendJSON(sp, "t", "", map[string]any{})
	require.Error(t, err)
}

func TestBuildBaseConfig(t *testing.T) {
	cfg := BuildBaseConfig(Config{ProducerCompression: "lz4", KafkaVersion: sarama.V2_1_0_0})
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, 1, cfg.Producer.Retry.Max)
	assert.True(t, cfg.Producer.Return.Successes)
	require.NoError(t, cfg.Validate())
}

func TestNewClientNeedsBrokers(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
