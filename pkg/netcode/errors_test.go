package netcode

import "testing"

func TestResultOk(t *testing.T) {
	t.Parallel()
	r := Ok(5)
	if !r.IsOK() || r.Failed() {
		t.Error("expected Ok result to report IsOK true, Failed false")
	}
	if r.Value != 5 {
		t.Errorf("expected value 5, got %d", r.Value)
	}
}

func TestResultErr(t *testing.T) {
	t.Parallel()
	r := Err[int](InvalidParameter, "bad thing")
	if r.IsOK() || !r.Failed() {
		t.Error("expected Err result to report IsOK false, Failed true")
	}
	if r.Error() != "invalid_parameter: bad thing" {
		t.Errorf("unexpected error string: %s", r.Error())
	}
}

func TestResultErrNoMessage(t *testing.T) {
	t.Parallel()
	r := Err[int](Timeout, "")
	if r.Error() != "timeout" {
		t.Errorf("expected bare code string, got %s", r.Error())
	}
}

func TestEmptyHelpers(t *testing.T) {
	t.Parallel()
	ok := OkEmpty()
	if ok.Failed() {
		t.Error("expected OkEmpty to succeed")
	}
	bad := ErrEmpty(ConnectionClosed, "gone")
	if bad.IsOK() {
		t.Error("expected ErrEmpty to fail")
	}
}

func TestCodeString(t *testing.T) {
	t.Parallel()
	cases := map[Code]string{
		None:                  "none",
		ResourceLimitExceeded: "resource_limit_exceeded",
		HandshakeFailed:       "handshake_failed",
		Code(999):             "unknown",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("Code(%d).String() = %q, want %q", code, got, want)
		}
	}
}
