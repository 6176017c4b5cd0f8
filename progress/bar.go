package progress

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/jwiedeman/N64Soul/format"
)

// Bar tracks bytes streamed for one tensor or one pass over the blob. Set
// may be called from any goroutine.
type Bar struct {
	message      string
	messageWidth int

	total   atomic.Uint64
	current atomic.Uint64

	started time.Time
}

func NewBar(message string, total uint64) *Bar {
	b := &Bar{
		message:      message,
		messageWidth: -1,
		started:      time.Now(),
	}
	b.total.Store(total)
	return b
}

func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultTermWidth
}

func (b *Bar) String() string {
	return b.render(termWidth())
}

func (b *Bar) render(width int) string {
	current, total := b.current.Load(), b.total.Load()

	var pre, mid, suf strings.Builder
	if b.message != "" {
		message := strings.TrimSpace(b.message)
		if b.messageWidth > 0 && len(message) > b.messageWidth {
			message = message[:b.messageWidth]
		}

		pre.WriteString(message)
		if pad := b.messageWidth - pre.Len(); pad > 0 {
			pre.WriteString(strings.Repeat(" ", pad))
		}
		pre.WriteString(" ")
	}

	percent := format.Percent(current, total)
	fmt.Fprintf(&pre, "%3d%% ", percent)

	fmt.Fprintf(&suf, "(%s/%s", format.HumanBytes2(current), format.HumanBytes2(total))
	if elapsed := time.Since(b.started); current > 0 && current < total && elapsed > 0 {
		fmt.Fprintf(&suf, ", %d KiB/s", format.KiBPerSecond(current, elapsed))
	}
	suf.WriteString(")")

	// 2 boundary characters and 1 trailing space
	f := width - pre.Len() - suf.Len() - 3
	if f > 0 {
		n := f * int(percent) / 100
		mid.WriteString("▕")
		mid.WriteString(strings.Repeat("█", n))
		mid.WriteString(strings.Repeat(" ", f-n))
		mid.WriteString("▏")
	}

	return pre.String() + mid.String() + suf.String()
}

func (b *Bar) Set(value uint64) {
	b.current.Store(min(value, b.total.Load()))
}

// Update is shaped to be handed to a stream as its progress callback.
func (b *Bar) Update(done, total uint64) {
	b.total.Store(total)
	b.Set(done)
}

func (b *Bar) Done() bool {
	return b.current.Load() >= b.total.Load()
}
