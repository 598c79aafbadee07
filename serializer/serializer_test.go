package serializer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Key   string
	Value int
}

func TestJSONRoundTrip(t *testing.T) {
	s, err := Get("json")
	require.NoError(t, err)

	data, err := s.Serialize(sample{Key: "a", Value: 1})
	require.NoError(t, err)

	var out sample
	require.NoError(t, s.Deserialize(data, &out))
	require.Equal(t, sample{Key: "a", Value: 1}, out)
}

func TestMsgpackRoundTrip(t *testing.T) {
	s, err := Get("msgpack")
	require.NoError(t, err)

	data, err := s.Serialize(sample{Key: "b", Value: 2})
	require.NoError(t, err)

	var out sample
	require.NoError(t, s.Deserialize(data, &out))
	require.Equal(t, sample{Key: "b", Value: 2}, out)
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("yaml")
	require.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(jsonSerializer{})
}
