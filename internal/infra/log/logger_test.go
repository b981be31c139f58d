package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	prod := newLogger(&buf, "prod")
	prod.Debug().Msg("скрыто")
	if buf.Len() != 0 {
		t.Fatalf("debug не должен писаться вне dev")
	}
	dev := newLogger(&buf, "dev")
	dev.Debug().Str("component", "batch").Msg("видно")
	if !strings.Contains(buf.String(), `"component":"batch"`) {
		t.Fatalf("ожидали структурированное поле, получили %s", buf.String())
	}
}
