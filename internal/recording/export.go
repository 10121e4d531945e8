package recording

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jterm-dev/jterm/internal/models"
)

// Format is a supported export encoding.
type Format string

const (
	FormatJSON      Format = "json"
	FormatAsciicast Format = "asciicast"
	FormatHTML      Format = "html"
	FormatText      Format = "text"
)

// ParseFormat validates a format name from user input.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatAsciicast:
		return FormatAsciicast, nil
	case FormatHTML:
		return FormatHTML, nil
	case FormatText, "txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", models.ErrInvalidConfig, s)
}

// ContentType returns the MIME type for downloads of this format.
func (f Format) ContentType() string {
	switch f {
	case FormatAsciicast:
		return "application/x-asciicast"
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatText:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Extension returns the file extension for downloads of this format.
func (f Format) Extension() string {
	switch f {
	case FormatAsciicast:
		return ".cast"
	case FormatHTML:
		return ".html"
	case FormatText:
		return ".txt"
	default:
		return ".json"
	}
}

// Export renders a recording's full event log in the requested format.
func Export(rec *models.Recording, events []models.RecordingEvent, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return exportJSON(rec, events)
	case FormatAsciicast:
		return exportAsciicast(rec, events)
	case FormatHTML:
		return exportHTML(rec, events)
	case FormatText:
		return exportText(events), nil
	}
	return nil, fmt.Errorf("%w: unknown export format %q", models.ErrInvalidConfig, format)
}

func exportJSON(rec *models.Recording, events []models.RecordingEvent) ([]byte, error) {
	doc := struct {
		Recording *models.Recording       `json:"recording"`
		Events    []models.RecordingEvent `json:"events"`
	}{rec, events}
	return json.MarshalIndent(doc, "", "  ")
}

// exportAsciicast produces asciicast v2: a JSON header line followed by one
// JSON array per event, [elapsedSeconds, code, data]. Input is "i", output is
// "o", resizes become "r" events with "COLSxROWS" data.
func exportAsciicast(rec *models.Recording, events []models.RecordingEvent) ([]byte, error) {
	header := map[string]interface{}{
		"version":   2,
		"width":     rec.TerminalSize.Cols,
		"height":    rec.TerminalSize.Rows,
		"timestamp": rec.StartTime.Unix(),
		"title":     fmt.Sprintf("session %s", rec.SessionID),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(header); err != nil {
		return nil, err
	}

	for _, ev := range events {
		var code string
		data := ev.Data
		switch ev.Type {
		case models.EventOutput:
			code = "o"
		case models.EventInput:
			code = "i"
		case models.EventResize:
			code = "r"
		default:
			continue
		}
		elapsed := ev.Timestamp.Sub(rec.StartTime).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		if err := enc.Encode([]interface{}{elapsed, code, data}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

var ansiPattern = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07]*(\x07|\x1b\\)|[()][0-9A-B]|[><=MDEHc78])`)

// exportText renders a plain transcript: output events with escape sequences
// stripped, input and command events as annotated lines.
func exportText(events []models.RecordingEvent) []byte {
	var b strings.Builder
	for _, ev := range events {
		switch ev.Type {
		case models.EventOutput:
			b.WriteString(ansiPattern.ReplaceAllString(ev.Data, ""))
		case models.EventCommand:
			exit := ev.Metadata["exitCode"]
			fmt.Fprintf(&b, "\n[command: %s (exit %s)]\n", ev.Data, exit)
		case models.EventResize:
			fmt.Fprintf(&b, "\n[resized to %s]\n", ev.Data)
		}
	}
	return []byte(strings.ReplaceAll(b.String(), "\r\n", "\n"))
}

// exportHTML produces a self-contained player page. The event log is embedded
// as JSON and replayed into an xterm.js instance with play, pause, stop, and
// speed controls.
func exportHTML(rec *models.Recording, events []models.RecordingEvent) ([]byte, error) {
	type frame struct {
		T int64  `json:"t"` // offset milliseconds
		C string `json:"c"` // i|o|r
		D string `json:"d"`
	}
	frames := make([]frame, 0, len(events))
	for _, ev := range events {
		var code string
		switch ev.Type {
		case models.EventOutput:
			code = "o"
		case models.EventInput:
			code = "i"
		case models.EventResize:
			code = "r"
		default:
			continue
		}
		off := ev.Timestamp.Sub(rec.StartTime).Milliseconds()
		if off < 0 {
			off = 0
		}
		frames = append(frames, frame{T: off, C: code, D: ev.Data})
	}

	framesJSON, err := json.Marshal(frames)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, htmlPlayerPage,
		rec.SessionID,
		rec.SessionID,
		rec.StartTime.Format("2006-01-02 15:04:05 MST"),
		rec.TerminalSize.Cols,
		rec.TerminalSize.Rows,
		framesJSON,
	)
	return buf.Bytes(), nil
}

const htmlPlayerPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>jterm recording %s</title>
<link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/xterm@5.3.0/css/xterm.css">
<script src="https://cdn.jsdelivr.net/npm/xterm@5.3.0/lib/xterm.js"></script>
<style>
  body { background: #1e1e1e; color: #ddd; font-family: monospace; margin: 2em; }
  #controls { margin-bottom: 1em; }
  #controls button, #controls select {
    background: #333; color: #ddd; border: 1px solid #555; padding: 4px 12px;
    font-family: inherit; cursor: pointer;
  }
  #meta { color: #888; margin-bottom: 1em; }
</style>
</head>
<body>
<div id="meta">session %s · recorded %s</div>
<div id="controls">
  <button id="play">Play</button>
  <button id="pause">Pause</button>
  <button id="stop">Stop</button>
  <select id="speed">
    <option value="0.5">0.5x</option>
    <option value="1" selected>1x</option>
    <option value="2">2x</option>
    <option value="4">4x</option>
  </select>
</div>
<div id="terminal"></div>
<script>
var term = new Terminal({ cols: %d, rows: %d, convertEol: false });
term.open(document.getElementById('terminal'));
var frames = %s;
var idx = 0, timer = null, speed = 1;

function scheduleNext() {
  if (idx >= frames.length) { timer = null; return; }
  var delay = idx === 0 ? frames[0].t : frames[idx].t - frames[idx - 1].t;
  timer = setTimeout(function () {
    var f = frames[idx++];
    if (f.c === 'o') {
      term.write(f.d);
    } else if (f.c === 'r') {
      var parts = f.d.split('x');
      term.resize(parseInt(parts[0], 10), parseInt(parts[1], 10));
    }
    scheduleNext();
  }, Math.max(0, delay / speed));
}

document.getElementById('play').onclick = function () {
  if (!timer) scheduleNext();
};
document.getElementById('pause').onclick = function () {
  if (timer) { clearTimeout(timer); timer = null; }
};
document.getElementById('stop').onclick = function () {
  if (timer) { clearTimeout(timer); timer = null; }
  idx = 0;
  term.reset();
};
document.getElementById('speed').onchange = function (e) {
  speed = parseFloat(e.target.value);
};
</script>
</body>
</html>
`
