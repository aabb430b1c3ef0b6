package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := NewJSONCodec()

	t.Run("round trip preserves every field", func(t *testing.T) {
		env := NewEnvelope("orders", json.RawMessage(`{"order":"order-1"}`), PriorityHigh)
		env.DeliveryCount = 2

		data, err := codec.Encode(env)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)

		assert.Equal(t, env.ID, decoded.ID)
		assert.Equal(t, env.QueueName, decoded.QueueName)
		assert.True(t, env.CreatedAt.Equal(decoded.CreatedAt))
		assert.Equal(t, env.Priority, decoded.Priority)
		assert.Equal(t, env.DeliveryCount, decoded.DeliveryCount)
		assert.JSONEq(t, string(env.Payload), string(decoded.Payload))
	})

	t.Run("round trip for normal priority and zero delivery count", func(t *testing.T) {
		env := NewEnvelope("emails", json.RawMessage(`{"to":"a@example.com"}`), PriorityNormal)

		data, err := codec.Encode(env)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)

		assert.Equal(t, PriorityNormal, decoded.Priority)
		assert.Equal(t, 0, decoded.DeliveryCount)
	})

	t.Run("encode stamps the schema version", func(t *testing.T) {
		env := NewEnvelope("orders", json.RawMessage(`1`), PriorityNormal)
		env.SchemaVersion = 0

		data, err := codec.Encode(env)
		require.NoError(t, err)

		decoded, err := codec.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, EnvelopeSchemaVersion, decoded.SchemaVersion)
	})

	t.Run("encode rejects nil envelope", func(t *testing.T) {
		_, err := codec.Encode(nil)
		assert.Error(t, err)
	})
}

func TestJSONCodecDecodeFailures(t *testing.T) {
	codec := NewJSONCodec()

	valid := func() []byte {
		env := NewEnvelope("orders", json.RawMessage(`{"k":1}`), PriorityNormal)
		data, err := codec.Encode(env)
		require.NoError(t, err)
		return data
	}

	t.Run("empty input", func(t *testing.T) {
		_, err := codec.Decode(nil)
		assert.True(t, IsMalformed(err))
	})

	t.Run("truncated input", func(t *testing.T) {
		data := valid()
		_, err := codec.Decode(data[:len(data)/2])
		assert.True(t, IsMalformed(err))
	})

	t.Run("not JSON at all", func(t *testing.T) {
		_, err := codec.Decode([]byte("definitely not json"))
		assert.True(t, IsMalformed(err))
	})

	t.Run("wrong schema version", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(valid(), &raw))
		raw["v"] = 99
		data, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = codec.Decode(data)
		assert.True(t, IsMalformed(err))
	})

	t.Run("missing id", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(valid(), &raw))
		raw["id"] = ""
		data, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = codec.Decode(data)
		assert.True(t, IsMalformed(err))
	})

	t.Run("missing queue name", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(valid(), &raw))
		raw["queueName"] = ""
		data, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = codec.Decode(data)
		assert.True(t, IsMalformed(err))
	})

	t.Run("unknown priority", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(valid(), &raw))
		raw["priority"] = 42
		data, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = codec.Decode(data)
		assert.True(t, IsMalformed(err))
	})

	t.Run("malformed error carries the queue", func(t *testing.T) {
		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(valid(), &raw))
		raw["id"] = ""
		data, err := json.Marshal(raw)
		require.NoError(t, err)

		_, err = codec.Decode(data)
		var malformed *MalformedEnvelopeError
		require.ErrorAs(t, err, &malformed)
		assert.Equal(t, "orders", malformed.Queue)
	})
}

func TestEnvelope(t *testing.T) {
	t.Run("new envelopes get unique ids", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			env := NewEnvelope("orders", json.RawMessage(`1`), PriorityNormal)
			assert.False(t, seen[env.ID], "id %s reused", env.ID)
			seen[env.ID] = true
		}
	})

	t.Run("new envelope starts undelivered", func(t *testing.T) {
		env := NewEnvelope("orders", json.RawMessage(`1`), PriorityHigh)
		assert.Equal(t, 0, env.DeliveryCount)
		assert.Equal(t, "orders", env.QueueName)
		assert.WithinDuration(t, time.Now().UTC(), env.CreatedAt, time.Second)
	})

	t.Run("clone does not share payload bytes", func(t *testing.T) {
		env := NewEnvelope("orders", json.RawMessage(`{"k":1}`), PriorityNormal)
		clone := env.Clone()
		clone.Payload[0] = 'X'
		clone.DeliveryCount = 9

		assert.Equal(t, byte('{'), env.Payload[0])
		assert.Equal(t, 0, env.DeliveryCount)
	})

	t.Run("priority names", func(t *testing.T) {
		assert.Equal(t, "high", PriorityHigh.String())
		assert.Equal(t, "normal", PriorityNormal.String())
		assert.True(t, PriorityHigh.Valid())
		assert.False(t, Priority(42).Valid())
	})
}
