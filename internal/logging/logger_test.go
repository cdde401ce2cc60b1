package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestFormatterSortsFields(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(&Formatter{SystemName: "taskline"})
	logger.WithFields(logrus.Fields{"task_id": "t1", "op": "relink"}).Warn("repair needed")
	line := buf.String()
	if !strings.Contains(line, "[taskline] WARNING repair needed op=relink task_id=t1") {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	logger, err := New(Config{Level: "debug"})
	if err != nil || logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("unexpected %v %v", logger, err)
	}
}
