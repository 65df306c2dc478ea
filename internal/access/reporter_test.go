package access

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Use-Tusk/buildsentry/internal/eventcache"
	"github.com/Use-Tusk/buildsentry/internal/manifest"
	"github.com/Use-Tusk/buildsentry/internal/policy"
	"github.com/Use-Tusk/buildsentry/internal/report"
	"github.com/Use-Tusk/buildsentry/manifestfmt"
)

func newTestReporter(t *testing.T) (*Reporter, string) {
	t.Helper()
	dir := t.TempDir()
	fifoPath := filepath.Join(dir, "reports.log")
	require.NoError(t, os.WriteFile(fifoPath, nil, 0o600))

	raw := manifestfmt.RawManifest{
		Scopes: []manifestfmt.ScopeEntry{
			{Prefix: "/", Policy: manifestfmt.ScopePolicy{AllowProbe: true}},
			{Prefix: "/out", Policy: manifestfmt.ScopePolicy{AllowRead: true, AllowWrite: true, AllowProbe: true}},
			{Prefix: "/etc", Policy: manifestfmt.ScopePolicy{AllowRead: true, AllowProbe: true, ReportExplicitly: true}},
		},
	}
	blob, err := manifestfmt.Encode(raw)
	require.NoError(t, err)
	m, err := manifest.Parse(blob)
	require.NoError(t, err)

	r := &Reporter{
		Engine:  policy.New(m),
		Cache:   eventcache.New(),
		Writer:  report.New(fifoPath, nil),
		PipID:   99,
		RootPid: 1,
	}
	return r, fifoPath
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestReportSuppressesEmptyPath(t *testing.T) {
	r, path := newTestReporter(t)
	r.Report(Event{Pid: 1, Op: manifestfmt.OpStat, Path: "", IsFileBacked: true})
	require.Empty(t, readAll(t, path))
}

func TestReportDeduplicatesRepeatedStat(t *testing.T) {
	r, path := newTestReporter(t)
	for i := 0; i < 5; i++ {
		r.Report(Event{Pid: 1, Op: manifestfmt.OpStat, Path: "/etc/hosts", RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true})
	}
	content := readAll(t, path)
	require.Equal(t, 1, countOccurrences(content, "stat"))
}

func TestReportExecPairOrder(t *testing.T) {
	r, path := newTestReporter(t)
	r.ReportExecPair(42, "cat", "/bin/cat")
	content := readAll(t, path)
	idxBase := indexOf(content, "|cat\n")
	idxResolved := indexOf(content, "|/bin/cat\n")
	require.GreaterOrEqual(t, idxBase, 0)
	require.GreaterOrEqual(t, idxResolved, 0)
	require.Less(t, idxBase, idxResolved)
}

func TestReportForkEncodesParentInPath(t *testing.T) {
	r, path := newTestReporter(t)
	r.ReportFork(10, 11)
	content := readAll(t, path)
	require.Contains(t, content, "fork|11|")
	require.Contains(t, content, "|10\n")
}

func TestFirstAllowWriteCheckOnlyOnce(t *testing.T) {
	r, path := newTestReporter(t)
	r.FirstAllowWriteCheck(1, "/out/new.o", false)
	r.FirstAllowWriteCheck(1, "/out/new.o", true)
	content := readAll(t, path)
	require.Equal(t, 1, countOccurrences(content, "first-allow-write-check"))
}

func TestReportExplicitlyWireFieldReflectsScopeNotShouldReport(t *testing.T) {
	r, path := newTestReporter(t)
	r.Report(Event{Pid: 1, Op: manifestfmt.OpStat, Path: "/etc/passwd", RequestedAccess: manifestfmt.AccessProbe, IsFileBacked: true})
	r.Report(Event{Pid: 1, Op: manifestfmt.OpWrite, Path: "/out/a.o", RequestedAccess: manifestfmt.AccessWrite, IsFileBacked: true})

	lines := strings.Split(strings.TrimRight(readAll(t, path), "\n"), "\n")
	require.Len(t, lines, 2)

	etcFields := strings.Split(lines[0], "|")
	outFields := strings.Split(lines[1], "|")
	require.Equal(t, "1", etcFields[5], "/etc scope sets reportExplicitly")
	require.Equal(t, "0", outFields[5], "/out scope does not set reportExplicitly even though it still reports")
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
