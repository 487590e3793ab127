package journal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestKeys(t *testing.T) {
	id := uuid.New()

	key := keyPacket(id, 258)
	assert.Equal(t, keyPacketPrefix(id), key[:len(key)-8])

	seq, ok := seqFromKey(key)
	require.True(t, ok)
	assert.Equal(t, uint64(258), seq)

	_, ok = seqFromKey([]byte("short"))
	assert.False(t, ok)
}

func TestAppendAndRead(t *testing.T) {
	s := openMemory(t)
	id := uuid.New()

	require.NoError(t, s.BeginSession(id, "127.0.0.1:5000"))

	payloads := [][]byte{[]byte("one"), {}, []byte("three")}
	for i, p := range payloads {
		require.NoError(t, s.Append(id, uint64(i), p))
	}

	session, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5000", session.RemoteAddr)
	assert.Equal(t, uint64(3), session.Packets)
	assert.Equal(t, uint64(8), session.Bytes)

	var got []string
	err = s.Packets(context.Background(), id, func(seq uint64, payload []byte) error {
		assert.Equal(t, uint64(len(got)), seq)
		got = append(got, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "", "three"}, got)
}

func TestPacketsOrderedPastOneByte(t *testing.T) {
	s := openMemory(t)
	id := uuid.New()
	require.NoError(t, s.BeginSession(id, "peer"))

	// Big-endian sequence keys sort numerically, so 256 comes after 255.
	for _, seq := range []uint64{256, 1, 255, 0} {
		require.NoError(t, s.Append(id, seq, []byte(fmt.Sprint(seq))))
	}

	var seqs []uint64
	require.NoError(t, s.Packets(context.Background(), id, func(seq uint64, _ []byte) error {
		seqs = append(seqs, seq)
		return nil
	}))
	assert.Equal(t, []uint64{0, 1, 255, 256}, seqs)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := openMemory(t)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.BeginSession(a, "a"))
	require.NoError(t, s.BeginSession(b, "b"))
	require.NoError(t, s.Append(a, 0, []byte("from a")))
	require.NoError(t, s.Append(b, 0, []byte("from b")))
	require.NoError(t, s.Append(b, 1, []byte("again b")))

	sessions, err := s.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	packets := map[string]uint64{}
	for _, session := range sessions {
		packets[session.RemoteAddr] = session.Packets
	}
	assert.Equal(t, map[string]uint64{"a": 1, "b": 2}, packets)

	var count int
	require.NoError(t, s.Packets(context.Background(), a, func(uint64, []byte) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestUnknownSession(t *testing.T) {
	s := openMemory(t)
	id := uuid.New()

	assert.ErrorIs(t, s.Append(id, 0, []byte("x")), ErrSessionNotFound)

	_, err := s.Session(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = s.Packets(context.Background(), id, func(uint64, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPacketsStopsOnCallbackError(t *testing.T) {
	s := openMemory(t)
	id := uuid.New()
	require.NoError(t, s.BeginSession(id, "peer"))
	for i := range 5 {
		require.NoError(t, s.Append(id, uint64(i), []byte("x")))
	}

	stop := errors.New("stop")
	var seen int
	err := s.Packets(context.Background(), id, func(uint64, []byte) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	s, err := Open(context.Background(), Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.BeginSession(id, "peer"))
	require.NoError(t, s.Append(id, 0, []byte("durable")))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), Config{Path: dir})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	session, err := s.Session(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), session.Packets)
}

func TestOpenHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Config{})
	assert.ErrorIs(t, err, context.Canceled)
}
