//go:build linux

package tracer

import "testing"

func TestBuildTraceFilter_ProducesNonEmptyProgram(t *testing.T) {
	prog, err := BuildTraceFilter(TracedSyscalls)
	if err != nil {
		t.Fatalf("BuildTraceFilter: %v", err)
	}
	if prog.Len == 0 || prog.Filter == nil {
		t.Fatalf("expected a non-empty BPF program, got len=%d", prog.Len)
	}
}

func TestBuildTraceFilter_RejectsUnknownSyscallName(t *testing.T) {
	_, err := BuildTraceFilter([]string{"not_a_real_syscall_name"})
	if err == nil {
		t.Fatalf("expected an error for an unknown syscall name")
	}
}
