package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress through a
// callback every interval bytes.
type Reader struct {
	r        io.Reader
	total    int64
	interval int64
	read     int64
	sinceCb  int64
	cb       func(read, total int64)
}

func NewReader(r io.Reader, total, interval int64, cb func(read, total int64)) *Reader {
	if interval <= 0 {
		interval = 1 << 20
	}

	return &Reader{r: r, total: total, interval: interval, cb: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceCb += int64(n)

		if pr.cb != nil && pr.sinceCb >= pr.interval {
			pr.cb(pr.read, pr.total)
			pr.sinceCb = 0
		}
	}

	return n, err
}

// BytesRead reports the cumulative bytes seen so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}
