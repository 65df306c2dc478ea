package manifestfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodePayloadEscapesDelimiters(t *testing.T) {
	r := AccessReport{
		Op:     OpStat,
		Pid:    10,
		Path:   "/tmp/weird|name\nwith\rbars",
		Status: StatusAllowed,
	}
	payload := EncodePayload(r)
	require.True(t, strings.HasSuffix(string(payload), "\n"))

	fields := strings.Split(strings.TrimSuffix(string(payload), "\n"), "|")
	require.Len(t, fields, 10)
	require.Equal(t, "/tmp/weird!name.with.bars", fields[len(fields)-1])
}

func TestFrameRejectsOversize(t *testing.T) {
	huge := make([]byte, PipeBufSize)
	_, err := Frame(huge)
	require.Error(t, err)
}

func TestFrameAddsLengthPrefix(t *testing.T) {
	payload := []byte("hello\n")
	framed, err := Frame(payload)
	require.NoError(t, err)
	require.Equal(t, byte(len(payload)), framed[0])
	require.Equal(t, payload, framed[4:])
}

func TestTruncateForDebugFits(t *testing.T) {
	huge := make([]byte, PipeBufSize*2)
	for i := range huge {
		huge[i] = 'x'
	}
	huge[len(huge)-1] = '\n'
	truncated := TruncateForDebug(huge)
	require.LessOrEqual(t, len(truncated)+4, PipeBufSize)
	require.True(t, strings.HasSuffix(string(truncated), "\n"))
}
