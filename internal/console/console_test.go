package console

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestPrinter_PlainWhenNotTerminal(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := New(&buf)

	p.Notice("Deleting existing %s...", "project.zip")
	p.Success("Uploaded project")
	p.Info("plain")

	want := "Deleting existing project.zip...\nUploaded project\nplain\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestPrinter_NilIsSilent(t *testing.T) {
	t.Parallel()
	var p *Printer
	p.Error("should not panic")
}

func TestPrinter_ConcurrentLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := New(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Info("line")
		}()
	}
	wg.Wait()

	if got := strings.Count(buf.String(), "line\n"); got != 20 {
		t.Errorf("Expected 20 intact lines, got %d", got)
	}
}
