package proxylog

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestV1GatesAcceptButNotError(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, false)

	l.Accept(1, "127.0.0.1:1234")
	if buf.Len() != 0 {
		t.Fatalf("Accept should be suppressed with v1=false, got %q", buf.String())
	}

	l.Error(1, errors.New("boom"))
	if !strings.Contains(buf.String(), "ER:") {
		t.Fatalf("Error must always log, got %q", buf.String())
	}
}

func TestV2ImpliesFinerDetail(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, false, true)

	l.RelayStart(5)
	if !strings.Contains(buf.String(), "RL:") {
		t.Fatalf("expected RL: tag with v2 enabled, got %q", buf.String())
	}
}

func TestAcceptTagAndSessionID(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true, false)
	l.Accept(42, "10.0.0.1:9999")
	out := buf.String()
	if !strings.Contains(out, "AC:") || !strings.Contains(out, "session=42") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestConnectFailureLogsTarget(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, true, false)
	l.Connect(3, "example.com:443", errors.New("refused"))
	out := buf.String()
	if !strings.Contains(out, "target=example.com:443") || !strings.Contains(out, "failed=refused") {
		t.Fatalf("unexpected output: %q", out)
	}
}
