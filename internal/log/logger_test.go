package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWriter_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Info().Uint("room_id", 7).Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if line["message"] != "hello" {
		t.Errorf("message = %v, want hello", line["message"])
	}
	if line["service"] != "chat" {
		t.Errorf("service = %v, want chat", line["service"])
	}
}

func TestInitWriter_ProdSkipsDebug(t *testing.T) {
	var buf bytes.Buffer
	InitWriter("prod", &buf)
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Debug().Msg("noise")
	if buf.Len() != 0 {
		t.Errorf("debug log written in prod: %q", buf.String())
	}
}
