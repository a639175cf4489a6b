package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tangram/internal/value"
)

func TestJSONRoundTrip(t *testing.T) {
	m := value.NewMap(map[string]value.Value{"a": value.NewNumber(1), "b": value.NewString("x")})
	encoded, err := encodeJSON(m)
	require.NoError(t, err)
	decoded, err := decodeJSON(encoded.String())
	require.NoError(t, err)
	require.Equal(t, float64(1), decoded.Map()["a"].Number())
	require.Equal(t, "x", decoded.Map()["b"].String())
}

func TestYAMLRoundTrip(t *testing.T) {
	m := value.NewMap(map[string]value.Value{"name": value.NewString("tangram")})
	encoded, err := encodeYAML(m)
	require.NoError(t, err)
	decoded, err := decodeYAML(encoded.String())
	require.NoError(t, err)
	require.Equal(t, "tangram", decoded.Map()["name"].String())
}

func TestTOMLRoundTrip(t *testing.T) {
	m := value.NewMap(map[string]value.Value{"version": value.NewString("1.0")})
	encoded, err := encodeTOML(m)
	require.NoError(t, err)
	decoded, err := decodeTOML(encoded.String())
	require.NoError(t, err)
	require.Equal(t, "1.0", decoded.Map()["version"].String())
}
