package torrc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

func writeDirective(w *bufio.Writer, d Directive, values []string) {
	for _, v := range values {
		w.WriteString(string(d))
		w.WriteByte(' ')
		w.WriteString(v)
		w.WriteByte('\n')
	}
}

// Encode writes c in torrc form: the managed region between the two markers,
// followed by Others joined with newlines. Empty lists produce no lines.
func Encode(w io.Writer, c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(StartMarker + "\n")
	if c.UseBridge {
		bw.WriteString(string(UseBridges) + " 1\n")
	}
	writeDirective(bw, Bridge, c.BridgeConfig.Bridges)
	for _, d := range proxyDirectives {
		writeDirective(bw, d, c.ProxyConfig.Values(d))
	}
	bw.WriteString(EndMarker + "\n")
	bw.WriteString(strings.Join(c.Others, "\n"))

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write torrc: %w", err)
	}
	return nil
}

func Marshal(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
