package logging_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"montage/internal/logging"
)

func TestTeeLoggerDuplicatesRecords(t *testing.T) {
	var first, second bytes.Buffer
	base := slog.New(logging.NewConsoleHandler(&first, slog.LevelInfo, false))
	tee := logging.TeeLogger(base, logging.NewConsoleHandler(&second, slog.LevelInfo, false))

	tee.Info("fan out", logging.String("k", "v"))

	for name, buf := range map[string]*bytes.Buffer{"first": &first, "second": &second} {
		if !strings.Contains(buf.String(), "fan out") {
			t.Fatalf("%s sink missing record: %q", name, buf.String())
		}
		if !strings.Contains(buf.String(), "k=v") {
			t.Fatalf("%s sink missing attr: %q", name, buf.String())
		}
	}
}

func TestTeeLoggerRespectsPerSinkLevels(t *testing.T) {
	var verbose, quiet bytes.Buffer
	logger := logging.TeeLogger(nil,
		logging.NewConsoleHandler(&verbose, slog.LevelDebug, false),
		logging.NewConsoleHandler(&quiet, slog.LevelWarn, false),
	)

	logger.Debug("noise")
	logger.Warn("signal")

	if !strings.Contains(verbose.String(), "noise") {
		t.Fatalf("verbose sink should carry debug records: %q", verbose.String())
	}
	if strings.Contains(quiet.String(), "noise") {
		t.Fatalf("quiet sink should drop debug records: %q", quiet.String())
	}
	if !strings.Contains(quiet.String(), "signal") {
		t.Fatalf("quiet sink should carry warn records: %q", quiet.String())
	}
}

func TestTeeLoggerCarriesWithAttrsToEverySink(t *testing.T) {
	var first, second bytes.Buffer
	base := slog.New(logging.NewConsoleHandler(&first, slog.LevelInfo, false))
	tee := logging.TeeLogger(base, logging.NewConsoleHandler(&second, slog.LevelInfo, false))

	tee.With(logging.String("storyboard_id", "sb-9")).Info("claimed")

	for name, buf := range map[string]*bytes.Buffer{"first": &first, "second": &second} {
		if !strings.Contains(buf.String(), "storyboard_id=sb-9") {
			t.Fatalf("%s sink missing inherited attr: %q", name, buf.String())
		}
	}
}
