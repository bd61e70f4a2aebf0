package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/querysync"
)

func TestAttrsAreGroupedAndSorted(t *testing.T) {
	var buf bytes.Buffer
	h := stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})
	l := New(stdslog.New(h))

	l.Debug("hidden", querysync.Fields{"a": 1})
	if buf.Len() != 0 {
		t.Fatalf("debug written below level: %q", buf.String())
	}

	l.Warn("spill rejected", querysync.Fields{"reason": "gen_mismatch", "key": "k"})
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `msg="spill rejected"`) {
		t.Fatalf("line %q", out)
	}
	ki, ri := strings.Index(out, "querysync.key=k"), strings.Index(out, "querysync.reason=gen_mismatch")
	if ki < 0 || ri < 0 || ki > ri {
		t.Fatalf("attrs missing or unsorted: %q", out)
	}
}
