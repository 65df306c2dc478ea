package tracerhandoff

import "testing"

func TestFormatStartRoundTrips(t *testing.T) {
	want := StartMessage{Pid: 123, Ppid: 1, ExePath: "/tools/static", ManifestPath: "/tmp/m.bin"}
	got, ok := ParseStart(FormatStart(want))
	if !ok {
		t.Fatalf("ParseStart rejected its own FormatStart output")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestParseStartRejectsWrongKind(t *testing.T) {
	_, ok := ParseStart("exitNotification|123")
	if ok {
		t.Fatalf("expected ParseStart to reject a non-start message")
	}
}

func TestParseStartRejectsMalformedPid(t *testing.T) {
	_, ok := ParseStart("start|notanumber|1|/bin/x|/tmp/m")
	if ok {
		t.Fatalf("expected ParseStart to reject a non-numeric pid")
	}
}

func TestExitNotificationRoundTrips(t *testing.T) {
	got, ok := ParseExitNotification(FormatExitNotification(456))
	if !ok || got != 456 {
		t.Fatalf("got (%d, %v), want (456, true)", got, ok)
	}
}

func TestParseExitNotificationRejectsWrongKind(t *testing.T) {
	_, ok := ParseExitNotification("start|1|1|/bin/x|/tmp/m")
	if ok {
		t.Fatalf("expected ParseExitNotification to reject a start message")
	}
}
