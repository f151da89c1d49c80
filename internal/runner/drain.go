package runner

import (
	"bufio"
	"bytes"
	"io"
)

// drainLines reads r line by line, forwarding each line to sink (if set)
// as it arrives while also accumulating the raw bytes into buf. Draining
// concurrently with cmd.Wait avoids the classic pipe-buffer deadlock
// spec.md §4.2 calls out explicitly.
func drainLines(r io.Reader, buf *bytes.Buffer, sink LogSink, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCapturedBytes)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if sink != nil {
			sink(line)
		}
	}
	// A line longer than maxCapturedBytes stops the scanner; keep reading so
	// the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
