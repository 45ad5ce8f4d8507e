package transfer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCopyWithContext(t *testing.T) {
	var dst bytes.Buffer
	src := strings.NewReader("some data to copy")

	n, err := copyWithContext(context.Background(), &dst, src)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != int64(dst.Len()) || dst.String() != "some data to copy" {
		t.Errorf("copy mismatch: n=%d dst=%q", n, dst.String())
	}
}

func TestCopyWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	_, err := copyWithContext(ctx, &dst, strings.NewReader("data"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProgressWriter(t *testing.T) {
	var dst bytes.Buffer
	var lastTransferred, lastTotal int64
	var node string

	pw := &progressWriter{
		w:     &dst,
		node:  "node1",
		total: 10,
		onProgress: func(n string, transferred, total int64) {
			node = n
			lastTransferred = transferred
			lastTotal = total
		},
	}

	pw.Write([]byte("12345"))
	pw.Write([]byte("67890"))

	if dst.String() != "1234567890" {
		t.Errorf("writes not passed through: %q", dst.String())
	}
	if node != "node1" || lastTransferred != 10 || lastTotal != 10 {
		t.Errorf("progress callback wrong: node=%q transferred=%d total=%d", node, lastTransferred, lastTotal)
	}
}
