package accesslog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func requestPhase(b *Builder) *Builder {
	return b.
		DateTime(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)).
		URL("https://static.example.com/crates/serde/serde-1.0.0.crate").
		IP("192.0.2.10").
		Method(ptr("GET"))
}

func TestBuilderComplete(t *testing.T) {
	b := requestPhase(NewBuilder()).Bytes(ptr(int64(120))).Status(ptr(200))

	v1, err := b.Build()
	require.NoError(t, err)
	require.Equal(t, "GET", *v1.Method)
	require.EqualValues(t, 120, *v1.Bytes)
	require.Equal(t, 200, *v1.Status)
	require.Equal(t, "192.0.2.10", v1.IP)
}

func TestBuilderBytesDefaultsToNull(t *testing.T) {
	v1, err := requestPhase(NewBuilder()).Status(ptr(500)).Build()
	require.NoError(t, err)
	require.Nil(t, v1.Bytes)
	require.Equal(t, 500, *v1.Status)
}

func TestBuilderMethodExplicitlyNil(t *testing.T) {
	b := NewBuilder().
		DateTime(time.Now()).
		URL("https://static.example.com/").
		IP("192.0.2.10").
		Method(nil).
		Status(ptr(200))

	v1, err := b.Build()
	require.NoError(t, err)
	require.Nil(t, v1.Method)
}

func TestBuilderMissingRequestPhase(t *testing.T) {
	_, err := NewBuilder().Bytes(ptr(int64(1))).Status(ptr(200)).Build()

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"date_time", "url", "ip", "method"}, missing.Fields)
}

func TestBuilderMissingResponsePhase(t *testing.T) {
	_, err := requestPhase(NewBuilder()).Build()

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"status"}, missing.Fields)
}

func TestBuilderBuildsOnce(t *testing.T) {
	b := requestPhase(NewBuilder()).Status(ptr(200))
	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.Build()
	require.Error(t, err)
}

func TestLogLineJSON(t *testing.T) {
	v1, err := requestPhase(NewBuilder()).Bytes(ptr(int64(120))).Status(ptr(200)).Build()
	require.NoError(t, err)

	data, err := json.Marshal(LogLine{V1: &v1})
	require.NoError(t, err)

	require.JSONEq(t, `{
		"V1": {
			"date_time": "2024-03-01T12:30:00Z",
			"url": "https://static.example.com/crates/serde/serde-1.0.0.crate",
			"ip": "192.0.2.10",
			"method": "GET",
			"bytes": 120,
			"status": 200
		}
	}`, string(data))
}

func TestLogLineJSONNulls(t *testing.T) {
	v1, err := requestPhase(NewBuilder()).Status(ptr(500)).Build()
	require.NoError(t, err)

	data, err := json.Marshal(LogLine{V1: &v1})
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded["V1"], "bytes")
	require.Nil(t, decoded["V1"]["bytes"])
	require.EqualValues(t, 500, decoded["V1"]["status"])
}

func TestLogLineDateTimeIsUTC(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	v1, err := NewBuilder().
		DateTime(time.Date(2024, 3, 1, 22, 30, 0, 0, loc)).
		URL("u").IP("ip").Method(ptr("HEAD")).Status(ptr(304)).
		Build()
	require.NoError(t, err)

	data, err := json.Marshal(LogLine{V1: &v1})
	require.NoError(t, err)
	require.Contains(t, string(data), `"date_time":"2024-03-01T12:30:00Z"`)
}

func TestLogLineWithoutVersion(t *testing.T) {
	_, err := json.Marshal(LogLine{})
	require.Error(t, err)
}
