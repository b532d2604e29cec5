package render

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
)

// NextSerial advances a zone serial after a content change. The result is
// strictly greater than prev and at least today's YYYYMMDD00 base, so a
// zone edited for the first time on a given day jumps to the dated form
// while a zone edited many times the same day keeps counting up.
func NextSerial(prev uint32, now time.Time) uint32 {
	base := dateBase(now)
	next := prev + 1
	if base > next {
		next = base
	}
	return next
}

func dateBase(now time.Time) uint32 {
	y, m, d := now.UTC().Date()
	return uint32(y)*1000000 + uint32(m)*10000 + uint32(d)*100
}

// ErrNoSerial means the data carries no SOA serial line this renderer
// would have produced.
var ErrNoSerial = errors.New("no SOA serial found")

// ParseSerial reads the serial back out of a rendered zone or RPZ file.
// The projection engine uses it to confirm a written file really carries
// the serial it rendered.
func ParseSerial(data []byte) (uint32, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, "; serial")
		if i < 0 {
			continue
		}
		v := strings.TrimSpace(line[:i])
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return 0, ErrNoSerial
		}
		return uint32(n), nil
	}
	return 0, ErrNoSerial
}
