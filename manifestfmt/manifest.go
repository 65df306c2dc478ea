package manifestfmt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ExtraFlags is the manifest-wide bitset.
type ExtraFlags uint32

const (
	FlagMonitorChildren ExtraFlags = 1 << iota
	FlagPtraceEnabled
	FlagPtraceUnconditional
	FlagFailOnUnexpectedAccess
	FlagReportFileAccessesOnly
)

func (f ExtraFlags) Has(flag ExtraFlags) bool { return f&flag != 0 }

// ScopePolicy is the leaf value attached to a policyTree prefix.
type ScopePolicy struct {
	AllowRead        bool
	AllowWrite       bool
	AllowProbe       bool
	ReportExplicitly bool
	IsWriteableMount bool
}

// bits packs a ScopePolicy into a single byte for the wire format.
func (p ScopePolicy) bits() byte {
	var b byte
	if p.AllowRead {
		b |= 1 << 0
	}
	if p.AllowWrite {
		b |= 1 << 1
	}
	if p.AllowProbe {
		b |= 1 << 2
	}
	if p.ReportExplicitly {
		b |= 1 << 3
	}
	if p.IsWriteableMount {
		b |= 1 << 4
	}
	return b
}

func scopePolicyFromBits(b byte) ScopePolicy {
	return ScopePolicy{
		AllowRead:        b&(1<<0) != 0,
		AllowWrite:       b&(1<<1) != 0,
		AllowProbe:       b&(1<<2) != 0,
		ReportExplicitly: b&(1<<3) != 0,
		IsWriteableMount: b&(1<<4) != 0,
	}
}

// ScopeEntry is one (path-prefix, policy) pair in the compiled manifest's
// policy tree.
type ScopeEntry struct {
	Prefix string
	Policy ScopePolicy
}

// RawManifest is the fully-decoded content of a compiled access-manifest
// blob: everything the manifest loader needs before it builds the
// in-memory radix tree.
type RawManifest struct {
	PipID              uint64
	PidOfRootProcess   int32
	ReportPipePath     string
	PreloadLibraryPath string
	PtraceMQName       string
	Flags              ExtraFlags
	ForcedPtraceNames  []string
	ForcedDenyExec     []string
	// ForcedPtracePatterns and ForcedDenyExecPatterns are doublestar glob
	// patterns consulted when the corresponding exact-match set above has
	// no entry: ptrace patterns are matched against the executable's
	// basename (e.g. "*-static"), deny-exec patterns against its resolved
	// path (e.g. "/opt/tools/**") — they let a manifest source name a family
	// of binaries once instead of enumerating every binary by name.
	ForcedPtracePatterns  []string
	ForcedDenyExecPatterns []string
	Scopes                 []ScopeEntry
}

const manifestMagic = uint32(0xBD17FA11)
const manifestVersion = uint32(2)

// Encode serializes m into the binary blob format read by manifest.Load.
// The format is a simple length-prefixed-string / fixed-width-int stream;
// nothing outside this package needs to understand it.
func Encode(m RawManifest) ([]byte, error) {
	var buf bytes.Buffer
	writeUint32(&buf, manifestMagic)
	writeUint32(&buf, manifestVersion)
	writeUint64(&buf, m.PipID)
	writeInt32(&buf, m.PidOfRootProcess)
	writeString(&buf, m.ReportPipePath)
	writeString(&buf, m.PreloadLibraryPath)
	writeString(&buf, m.PtraceMQName)
	writeUint32(&buf, uint32(m.Flags))

	writeUint32(&buf, uint32(len(m.ForcedPtraceNames)))
	for _, name := range m.ForcedPtraceNames {
		writeString(&buf, name)
	}

	writeUint32(&buf, uint32(len(m.ForcedDenyExec)))
	for _, name := range m.ForcedDenyExec {
		writeString(&buf, name)
	}

	writeUint32(&buf, uint32(len(m.ForcedPtracePatterns)))
	for _, pattern := range m.ForcedPtracePatterns {
		writeString(&buf, pattern)
	}

	writeUint32(&buf, uint32(len(m.ForcedDenyExecPatterns)))
	for _, pattern := range m.ForcedDenyExecPatterns {
		writeString(&buf, pattern)
	}

	writeUint32(&buf, uint32(len(m.Scopes)))
	for _, s := range m.Scopes {
		writeString(&buf, s.Prefix)
		buf.WriteByte(s.Policy.bits())
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by Encode. It is deliberately strict: any
// structural problem is a fatal configuration error and the caller is
// expected to abort the process rather than run unmonitored.
func Decode(blob []byte) (RawManifest, error) {
	r := bytes.NewReader(blob)
	var m RawManifest

	magic, err := readUint32(r)
	if err != nil {
		return m, fmt.Errorf("manifestfmt: read magic: %w", err)
	}
	if magic != manifestMagic {
		return m, fmt.Errorf("manifestfmt: bad magic %#x", magic)
	}
	version, err := readUint32(r)
	if err != nil {
		return m, fmt.Errorf("manifestfmt: read version: %w", err)
	}
	if version != manifestVersion {
		return m, fmt.Errorf("manifestfmt: unsupported manifest version %d", version)
	}

	if m.PipID, err = readUint64(r); err != nil {
		return m, err
	}
	if m.PidOfRootProcess, err = readInt32(r); err != nil {
		return m, err
	}
	if m.ReportPipePath, err = readString(r); err != nil {
		return m, err
	}
	if m.PreloadLibraryPath, err = readString(r); err != nil {
		return m, err
	}
	if m.PtraceMQName, err = readString(r); err != nil {
		return m, err
	}
	flags, err := readUint32(r)
	if err != nil {
		return m, err
	}
	m.Flags = ExtraFlags(flags)

	nForced, err := readUint32(r)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < nForced; i++ {
		name, err := readString(r)
		if err != nil {
			return m, err
		}
		m.ForcedPtraceNames = append(m.ForcedPtraceNames, name)
	}

	nDenyExec, err := readUint32(r)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < nDenyExec; i++ {
		name, err := readString(r)
		if err != nil {
			return m, err
		}
		m.ForcedDenyExec = append(m.ForcedDenyExec, name)
	}

	nPtracePatterns, err := readUint32(r)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < nPtracePatterns; i++ {
		pattern, err := readString(r)
		if err != nil {
			return m, err
		}
		m.ForcedPtracePatterns = append(m.ForcedPtracePatterns, pattern)
	}

	nDenyExecPatterns, err := readUint32(r)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < nDenyExecPatterns; i++ {
		pattern, err := readString(r)
		if err != nil {
			return m, err
		}
		m.ForcedDenyExecPatterns = append(m.ForcedDenyExecPatterns, pattern)
	}

	nScopes, err := readUint32(r)
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < nScopes; i++ {
		prefix, err := readString(r)
		if err != nil {
			return m, err
		}
		bitsByte, err := r.ReadByte()
		if err != nil {
			return m, fmt.Errorf("manifestfmt: read scope bits: %w", err)
		}
		m.Scopes = append(m.Scopes, ScopeEntry{Prefix: prefix, Policy: scopePolicyFromBits(bitsByte)})
	}

	return m, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt32(buf *bytes.Buffer, v int32) {
	writeUint32(buf, uint32(v))
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := readFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > MaxPathLen*4 {
		return "", fmt.Errorf("manifestfmt: string field too long (%d)", n)
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n != len(buf) {
		return n, fmt.Errorf("manifestfmt: short read: got %d want %d", n, len(buf))
	}
	return n, nil
}
