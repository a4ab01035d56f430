// cdnsd consumes matched DNS transactions from a collector feed on standard
// input and writes them as compressed C-DNS capture files. The feed is
// newline-delimited JSON with base64 raw DNS messages; capture, parsing and
// matching live in the collector, not here.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/haukened/cdns/internal/cdns/common/clock"
	"github.com/haukened/cdns/internal/cdns/common/log"
	"github.com/haukened/cdns/internal/cdns/config"
	"github.com/haukened/cdns/internal/cdns/domain"
	"github.com/haukened/cdns/internal/cdns/writer"
)

const (
	version = "0.1.0-dev"
	appName = "cdnsd"

	// maxFeedLine bounds one feed record: two base64 messages plus
	// metadata fits comfortably under a megabyte.
	maxFeedLine = 1 << 20
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML configuration file")
	live := pflag.Bool("live", true, "stamp block times from wall clock")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Configure(cfg.Env, cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Logging error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *live); err != nil {
		log.Error(map[string]any{"error": err.Error()}, "capture failed")
		os.Exit(1)
	}
}

func run(cfg *config.Configuration, live bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := writer.New(cfg, clock.RealClock{}, live)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			log.Error(map[string]any{"error": cerr.Error()}, "error closing capture file")
		}
	}()

	var stats domain.PacketStatistics

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxFeedLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			log.Info(nil, "shutdown requested, closing capture")
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rec, err := parseFeedLine(line)
		if err != nil {
			stats.MalformedMessageCount++
			log.Warn(map[string]any{"error": err.Error()}, "skipping malformed feed record")
			continue
		}
		switch rec.Type {
		case "qr":
			if err := ingestTransaction(w, cfg, rec, &stats); err != nil {
				return err
			}
		case "ae":
			ae, err := rec.toAddressEvent()
			if err != nil {
				log.Warn(map[string]any{"error": err.Error()}, "skipping bad address event")
				continue
			}
			w.WriteAE(ae, stats)
		default:
			log.Warn(map[string]any{"type": rec.Type}, "skipping unknown feed record type")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading feed: %w", err)
	}
	return nil
}

func ingestTransaction(w *writer.BlockCborWriter, cfg *config.Configuration, rec *feedRecord, stats *domain.PacketStatistics) error {
	qr, err := rec.toQueryResponse()
	if err != nil {
		stats.MalformedMessageCount++
		log.Warn(map[string]any{"error": err.Error()}, "skipping unparseable transaction")
		return nil
	}

	if qr.HasQuery() {
		stats.ProcessedMessageCount++
	}
	if qr.HasResponse() {
		stats.ProcessedMessageCount++
	}
	switch {
	case qr.HasQuery() && qr.HasResponse():
		stats.QRPairCount++
	case qr.HasQuery():
		stats.QueryWithoutResponseCount++
	default:
		stats.ResponseWithoutQueryCount++
	}

	ts := qr.Message().Timestamp
	if err := w.CheckForRotation(ts); err != nil {
		return err
	}
	if err := w.StartRecord(qr); err != nil {
		return err
	}
	if err := w.WriteBasic(qr, *stats); err != nil {
		return err
	}
	if cfg.OutputQuerySections && qr.HasQuery() {
		if err := writeSections(w, qr.Query, true); err != nil {
			return err
		}
	}
	if cfg.OutputResponseSections && qr.HasResponse() {
		if err := writeSections(w, qr.Response, false); err != nil {
			return err
		}
	}
	if err := w.EndRecord(qr); err != nil {
		if errors.Is(err, writer.ErrMissingTimestamp) {
			log.Warn(nil, "dropping record without timestamp")
			return nil
		}
		return err
	}
	return nil
}

// writeSections stores one message's question and record sections beyond
// the summarized first question.
func writeSections(w *writer.BlockCborWriter, m *domain.DNSMessage, query bool) error {
	var err error
	if query {
		err = w.StartExtendedQueryGroup()
	} else {
		err = w.StartExtendedResponseGroup()
	}
	if err != nil {
		return err
	}

	w.StartQuestionsSection()
	if len(m.Questions) > 1 {
		for _, q := range m.Questions[1:] {
			if err := w.WriteQuestionRecord(q); err != nil {
				return err
			}
		}
	}
	w.StartAnswersSection()
	for _, rr := range m.Answers {
		if err := w.WriteResourceRecord(rr); err != nil {
			return err
		}
	}
	w.StartAuthoritySection()
	for _, rr := range m.Authority {
		if err := w.WriteResourceRecord(rr); err != nil {
			return err
		}
	}
	w.StartAdditionalSection()
	for _, rr := range m.Additional {
		if err := w.WriteResourceRecord(rr); err != nil {
			return err
		}
	}
	return w.EndExtendedGroup()
}
