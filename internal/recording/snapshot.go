package recording

import (
	"strings"
	"sync"

	"github.com/hinshun/vt10x"

	"github.com/jterm-dev/jterm/internal/models"
)

// screen feeds recorded output through a vt10x emulator so checkpoints can
// carry a plain-text snapshot of what the terminal looked like at that point.
type screen struct {
	mu   sync.Mutex
	term vt10x.Terminal
	cols int
	rows int
}

func newScreen(size models.TerminalSize) *screen {
	cols, rows := int(size.Cols), int(size.Rows)
	return &screen{
		term: vt10x.New(vt10x.WithSize(cols, rows)),
		cols: cols,
		rows: rows,
	}
}

func (s *screen) write(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term.Write([]byte(data))
}

func (s *screen) resize(size models.TerminalSize) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = int(size.Cols), int(size.Rows)
	s.term.Resize(s.cols, s.rows)
}

// snapshot renders the emulated screen as plain text with trailing blank
// lines removed. Escape sequences are already consumed by the emulator.
func (s *screen) snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for row := 0; row < s.rows; row++ {
		if row > 0 {
			b.WriteByte('\n')
		}
		for col := 0; col < s.cols; col++ {
			cell := s.term.Cell(col, row)
			if cell.Char == 0 {
				b.WriteByte(' ')
			} else {
				b.WriteRune(cell.Char)
			}
		}
	}

	lines := strings.Split(b.String(), "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return ""
	}
	for i := range lines[:last+1] {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.Join(lines[:last+1], "\n")
}
