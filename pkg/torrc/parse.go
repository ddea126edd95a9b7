package torrc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

type applyFunc func(c *Config, arg string)

// grammar maps a directive keyword to the field it populates.
var grammar = buildGrammar()

func buildGrammar() map[Directive]applyFunc {
	g := map[Directive]applyFunc{
		UseBridges: func(c *Config, arg string) { c.UseBridge = arg == "1" },
		Bridge: func(c *Config, arg string) {
			c.BridgeConfig.Bridges = append(c.BridgeConfig.Bridges, arg)
		},
	}
	for _, d := range proxyDirectives {
		field := proxyFields[d]
		g[d] = func(c *Config, arg string) {
			list := field(&c.ProxyConfig)
			*list = append(*list, arg)
		}
	}
	return g
}

// matchDirective splits a raw line into a recognized keyword and its trimmed argument.
// The keyword must start the line and be followed by exactly one space.
func matchDirective(line string) (applyFunc, string, bool) {
	keyword, arg, found := strings.Cut(line, " ")
	if !found {
		return nil, "", false
	}
	apply, ok := grammar[Directive(keyword)]
	if !ok {
		return nil, "", false
	}
	return apply, strings.TrimSpace(arg), true
}

func isMarker(line string) bool {
	return line == StartMarker || line == EndMarker
}

func parseLine(c *Config, line string) {
	if apply, arg, ok := matchDirective(line); ok {
		apply(c, arg)
		return
	}
	trimmed := strings.TrimSpace(line)
	if isMarker(trimmed) {
		return
	}
	c.Others = append(c.Others, trimmed)
}

// maxLineSize bounds a single torrc line.
const maxLineSize = 1 << 20

// scanLines splits on "\n", "\r\n" and a lone "\r". The terminator is
// not part of the token.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if !atEOF {
			// a "\n" may still follow
			return 0, nil, nil
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Parse reads a torrc from r. Recognized directives fill their fields in file
// order, markers are dropped and every other line lands in Others, trimmed.
func Parse(r io.Reader) (*Config, error) {
	cfg := New()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	sc.Split(scanLines)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		parseLine(cfg, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", lineNo+1, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
