package bridge

import "bytes"

// maxLine bounds a single pending line. A peer that streams more than this
// without a newline loses the fragment.
const maxLine = 1 << 20

// LineFramer reassembles newline-delimited frames from a byte stream. The
// trailing partial line is kept until the next Feed.
type LineFramer struct {
	buf      []byte
	overflow int
}

// Feed appends chunk and returns every complete, non-blank line it closed.
// Returned slices are owned by the caller.
func (f *LineFramer) Feed(chunk []byte) [][]byte {
	f.buf = append(f.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(f.buf[:i], []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > maxLine {
		f.buf = nil
		f.overflow++
	}
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Pending is the number of buffered bytes not yet terminated by a newline.
func (f *LineFramer) Pending() int {
	return len(f.buf)
}

// Overflows counts fragments discarded for exceeding the line limit.
func (f *LineFramer) Overflows() int {
	return f.overflow
}
