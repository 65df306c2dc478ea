package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

func TestEmitWritesFramedRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	var reusedFDs []int
	w := New(path, func(fd int) { reusedFDs = append(reusedFDs, fd) })

	err := w.Emit(manifestfmt.AccessReport{
		Op:     manifestfmt.OpStat,
		Pid:    100,
		Path:   "/etc/hosts",
		Status: manifestfmt.StatusAllowed,
	})
	require.NoError(t, err)
	require.Len(t, reusedFDs, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	payloadLen := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	payload := string(data[4 : 4+payloadLen])
	require.True(t, strings.HasSuffix(payload, "\n"))
	require.Contains(t, payload, "stat")
	require.Contains(t, payload, "/etc/hosts")
}

func TestEmitOversizeNonDebugFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	w := New(path, nil)
	err := w.Emit(manifestfmt.AccessReport{
		Op:   manifestfmt.OpStat,
		Path: strings.Repeat("x", manifestfmt.PipeBufSize*2),
	})
	require.ErrorIs(t, err, ErrOversize)
}

func TestEmitOversizeDebugIsTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	w := New(path, nil)
	err := w.Emit(manifestfmt.AccessReport{
		Op:           manifestfmt.OpDebug,
		Path:         strings.Repeat("x", manifestfmt.PipeBufSize*2),
		DebugMessage: true,
	})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.LessOrEqual(t, info.Size(), int64(manifestfmt.PipeBufSize))
}

func TestEmitGroupWritesInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reports.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	w := New(path, nil)
	g := manifestfmt.AccessReportGroup{}
	g.Add(manifestfmt.AccessReport{Op: manifestfmt.OpUnlink, Path: "/out/old"})
	g.Add(manifestfmt.AccessReport{Op: manifestfmt.OpCreate, Path: "/out/new"})

	require.NoError(t, w.EmitGroup(g))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.Index(content, "unlink") < strings.Index(content, "create"))
}
