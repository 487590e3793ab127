package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/marmos91/framekit/internal/bufpool"
	"github.com/marmos91/framekit/pkg/refcount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

// failingWriter accepts limit bytes and then fails.
type failingWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return 0, errors.New("connection reset")
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return remaining, errors.New("connection reset")
	}
	return w.buf.Write(p)
}

// ============================================================================
// Packet Tests
// ============================================================================

func TestNewPacket(t *testing.T) {
	t.Run("AllocatesDeclaredLength", func(t *testing.T) {
		for _, n := range []int{0, 1, 10, bufpool.SmallSize + 1, bufpool.LargeSize + 1} {
			p := New(n)
			assert.Equal(t, n, p.Len())
			assert.Len(t, p.Bytes(), n)
			p.Release()
		}
	})

	t.Run("NegativeLengthIsEmpty", func(t *testing.T) {
		p := New(-5)
		assert.Equal(t, 0, p.Len())
		p.Release()
	})

	t.Run("FromBytesCopies", func(t *testing.T) {
		src := []byte("hello")
		p := FromBytes(src)
		src[0] = 'j'
		assert.Equal(t, []byte("hello"), p.Bytes())
		p.Release()
	})
}

func TestPacketReferenceCounting(t *testing.T) {
	refcount.SetAssertions(true)
	defer refcount.SetAssertions(false)

	p := FromBytes([]byte("shared"))
	p.Retain()
	assert.Equal(t, int32(2), p.RefCount())

	assert.False(t, p.Release())
	assert.False(t, p.Freed())
	assert.Equal(t, []byte("shared"), p.Bytes())
	assert.Panics(t, func() { p.CheckReleased("shared") })

	assert.True(t, p.Release())
	assert.True(t, p.Freed())
	assert.NotPanics(t, func() { p.CheckReleased("shared") })
	assert.Nil(t, p.Bytes())

	assert.Panics(t, func() { p.Release() })
}

// ============================================================================
// Framing Tests
// ============================================================================

func TestFrameRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 10, 4096, 70000}

	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		codec := Codec{Order: order}
		for _, n := range sizes {
			var wire bytes.Buffer
			want := payload(n)

			written, err := codec.WriteFrame(&wire, FromBytes(want))
			require.NoError(t, err)
			assert.Equal(t, HeaderSize+n, written)
			assert.Equal(t, codec.Encode(FromBytes(want)), wire.Bytes())

			got, read, err := codec.ReadFrame(&wire)
			require.NoError(t, err)
			assert.Equal(t, HeaderSize+n, read)
			assert.Equal(t, n, got.Len())
			assert.Equal(t, want, got.Bytes())
			got.Release()
		}
	}
}

func TestHeaderByteOrder(t *testing.T) {
	p := FromBytes(payload(10))

	big := Codec{}.Encode(p)
	assert.Equal(t, []byte{0, 0, 0, 10}, big[:HeaderSize])

	little := Codec{Order: binary.LittleEndian}.Encode(p)
	assert.Equal(t, []byte{10, 0, 0, 0}, little[:HeaderSize])
}

func TestReadFrameCleanClose(t *testing.T) {
	p, n, err := Codec{}.ReadFrame(bytes.NewReader(nil))
	assert.Nil(t, p)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFramePartial(t *testing.T) {
	t.Run("ShortHeader", func(t *testing.T) {
		p, n, err := Codec{}.ReadFrame(bytes.NewReader([]byte{0, 0}))
		assert.Nil(t, p)
		assert.Equal(t, 2, n)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("HeaderOnly", func(t *testing.T) {
		p, n, err := Codec{}.ReadFrame(bytes.NewReader([]byte{0, 0, 0, 10}))
		assert.Nil(t, p)
		assert.Equal(t, HeaderSize, n)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("ShortPayload", func(t *testing.T) {
		frame := append([]byte{0, 0, 0, 10}, payload(6)...)
		p, n, err := Codec{}.ReadFrame(bytes.NewReader(frame))
		assert.Nil(t, p)
		assert.Equal(t, HeaderSize+6, n)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestReadFrameTooLarge(t *testing.T) {
	codec := Codec{MaxFrameSize: 8}
	frame := Codec{}.Encode(FromBytes(payload(9)))

	p, _, err := codec.ReadFrame(bytes.NewReader(frame))
	assert.Nil(t, p)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = codec.WriteFrame(io.Discard, FromBytes(payload(9)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestWriteFramePartial(t *testing.T) {
	w := &failingWriter{limit: 7}

	n, err := Codec{}.WriteFrame(w, FromBytes(payload(10)))
	require.Error(t, err)
	assert.Equal(t, 7, n)
}

func TestFrameOverSocket(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	codec := Codec{}
	want := payload(10)

	go func() {
		_, _ = codec.WriteFrame(client, FromBytes(want))
		_ = client.Close()
	}()

	got, _, err := codec.ReadFrame(server)
	require.NoError(t, err)
	assert.Equal(t, want, got.Bytes())

	_, _, err = codec.ReadFrame(server)
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseByteOrder(t *testing.T) {
	tests := []struct {
		input   string
		want    binary.ByteOrder
		wantErr bool
	}{
		{"", binary.BigEndian, false},
		{"big", binary.BigEndian, false},
		{"LITTLE", binary.LittleEndian, false},
		{"native", binary.NativeEndian, false},
		{"middle", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteOrder(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
