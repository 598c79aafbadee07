package invalidation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{
		Service:      "orders",
		Key:          "orders:123",
		EntryVersion: 42,
		Origin:       uuid.New(),
		TsMs:         1234567890,
	}

	decoded, recognized, err := Decode(Encode(msg))
	require.NoError(t, err)
	require.True(t, recognized)
	require.Equal(t, msg, decoded)
}

func TestDecodeUnrecognizedMagicIgnored(t *testing.T) {
	_, recognized, err := Decode([]byte{0x01, 0x02, 0x01})
	require.NoError(t, err)
	require.False(t, recognized)
}

func TestDecodeTruncatedErrors(t *testing.T) {
	msg := Message{Service: "s", Key: "k", Origin: uuid.New()}
	full := Encode(msg)
	_, _, err := Decode(full[:len(full)-3])
	require.Error(t, err)
}

func TestChannelName(t *testing.T) {
	require.Equal(t, "oxcache.inv.orders", Channel("orders"))
}
