package registry

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	profiles map[string]string
	calls    map[string]int
}

func (f *fakeResolver) GetProfileAddress(_ context.Context, userAddress string) (string, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[userAddress]++
	p, ok := f.profiles[userAddress]
	if !ok {
		return "", errors.New("directory: no profile")
	}
	return p, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveCachesForever(t *testing.T) {
	fr := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1"}}
	reg := New(fr, testLogger())

	p, err := reg.Resolve(context.Background(), "0xT1")
	require.NoError(t, err)
	assert.Equal(t, "0xP1", p)

	p, err = reg.Resolve(context.Background(), "0xT1")
	require.NoError(t, err)
	assert.Equal(t, "0xP1", p)

	assert.Equal(t, 1, fr.calls["0xT1"], "resolution must hit the directory once")
}

func TestReverseLookup(t *testing.T) {
	fr := &fakeResolver{profiles: map[string]string{"0xT1": "0xP1", "0xT2": "0xP2"}}
	reg := New(fr, testLogger())

	reg.ResolveAll(context.Background(), []string{"0xT1", "0xT2"})

	target, ok := reg.TargetFor("0xP2")
	require.True(t, ok)
	assert.Equal(t, "0xT2", target)

	_, ok = reg.TargetFor("0xP999")
	assert.False(t, ok)
}

func TestResolveAllIsolatesFailures(t *testing.T) {
	fr := &fakeResolver{profiles: map[string]string{"0xT2": "0xP2"}}
	reg := New(fr, testLogger())

	subs := reg.ResolveAll(context.Background(), []string{"0xBad", "0xT2"})

	require.Len(t, subs, 1, "the failing target must not block the other")
	assert.Equal(t, "0xT2", subs[0].TargetAddress)
	assert.Equal(t, "0xP2", subs[0].ProfileAddress)
	assert.Equal(t, 1, reg.Count())
}
