package cache

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueDecodeNativeAssignable(t *testing.T) {
	v := nativeValue(voice{ID: "v1"})

	var out voice
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, voice{ID: "v1"}, out)
}

func TestValueDecodeNativeConverts(t *testing.T) {
	// an int stored locally can still be read as int64
	v := nativeValue(7)

	var out int64
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, int64(7), out)
}

func TestValueDecodeNativeNil(t *testing.T) {
	out := &voice{ID: "preset"}
	v := nativeValue(nil)

	require.NoError(t, v.Decode(&out))
	assert.Nil(t, out)
}

func TestValueDecodeEncoded(t *testing.T) {
	data, err := marshal(map[string]any{"id": "v2", "name": "Noa"})
	require.NoError(t, err)

	var out voice
	require.NoError(t, encodedValue(data).Decode(&out))
	assert.Equal(t, voice{ID: "v2", Name: "Noa"}, out)
}

func TestValueDecodeErrors(t *testing.T) {
	var out voice

	assert.Error(t, nativeValue(1).Decode(out), "non-pointer target")
	assert.True(t, errors.Is(Value{}.Decode(&out), ErrDecode))
	assert.True(t, errors.Is(encodedValue([]byte{0xc1}).Decode(&out), ErrDecode))
}

func TestLoadTreatsBadDataAsMiss(t *testing.T) {
	ctx := context.Background()
	s := newLocalOnlyStore(t)

	_, err := s.Set(ctx, "k", "not a voice", time.Minute)
	require.NoError(t, err)

	_, ok := Load[voice](ctx, s, "k")
	assert.False(t, ok)

	_, ok = Load[voice](ctx, s, "")
	assert.False(t, ok, "caller errors also read as a miss")
}

func TestLoadTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, s := newRedisStore(t, RemoteOptions{})

	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	_, err := s.Set(ctx, "ts", ts, time.Minute)
	require.NoError(t, err)

	got, ok := Load[time.Time](ctx, s, "ts")
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
}

type stamped struct {
	ID        string         `json:"id"`
	UpdatedAt time.Time      `json:"updated_at"`
	Extra     map[string]any `json:"extra"`
}

func TestRemoteTimesRenderLikeLocal(t *testing.T) {
	// decoded times pick up time.Local unless normalized
	prevLocal := time.Local
	time.Local = time.FixedZone("EDT", -4*60*60)
	t.Cleanup(func() { time.Local = prevLocal })

	ctx := context.Background()
	_, redisStore := newRedisStore(t, RemoteOptions{})
	localStore := newLocalOnlyStore(t)

	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	in := []stamped{{ID: "c1", UpdatedAt: ts, Extra: map[string]any{"seen": ts}}}

	rendered := map[string]string{}
	for name, s := range map[string]*Store{"remote": redisStore, "local": localStore} {
		_, err := s.Set(ctx, "summaries", in, time.Minute)
		require.NoError(t, err)

		got, ok := Load[[]stamped](ctx, s, "summaries")
		require.True(t, ok, name)

		body, err := json.Marshal(got)
		require.NoError(t, err)
		rendered[name] = string(body)
	}

	assert.Equal(t, rendered["local"], rendered["remote"])
	assert.Contains(t, rendered["remote"], `"updated_at":"2026-10-18T12:00:00Z"`)
	assert.Contains(t, rendered["remote"], `"seen":"2026-10-18T12:00:00Z"`)
}

func TestUTCTimesRewritesNestedValues(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))
	ptr := ts

	v := struct {
		At     time.Time
		Ptr    *time.Time
		List   []time.Time
		Any    map[string]any
		hidden time.Time
	}{
		At:     ts,
		Ptr:    &ptr,
		List:   []time.Time{ts},
		Any:    map[string]any{"at": ts, "n": 1},
		hidden: ts,
	}

	utcTimes(reflect.ValueOf(&v))

	for _, got := range []time.Time{v.At, *v.Ptr, v.List[0], v.Any["at"].(time.Time)} {
		assert.Equal(t, time.UTC, got.Location())
		assert.True(t, ts.Equal(got))
	}
	assert.Equal(t, 1, v.Any["n"])
	assert.Equal(t, "CET", v.hidden.Location().String(), "unexported fields are left alone")
}
