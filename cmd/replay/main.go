// Command replay feeds captured webhook bodies, one JSON document per line,
// through the ingest path. With -dry-run it only prints the normalized form
// of each line, which is the quickest way to see how a new device payload is
// interpreted.
//
// Usage:
//
//	go run ./cmd/replay -input captures.jsonl -dry-run
//	DB_PATH=data/uplinks.db go run ./cmd/replay -input captures.jsonl
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/uplink-ingest-service/internal/config"
	"github.com/couchcryptid/uplink-ingest-service/internal/normalize"
	"github.com/couchcryptid/uplink-ingest-service/internal/observability"
	"github.com/couchcryptid/uplink-ingest-service/internal/pipeline"
	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
)

const (
	sourceReplay = "replay"
	maxLineBytes = 4 << 20
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	input := flag.String("input", "-", "newline-delimited JSON file, - for stdin")
	dryRun := flag.Bool("dry-run", false, "print normalized uplinks instead of storing them")
	flag.Parse()

	in := io.Reader(os.Stdin)
	if *input != "-" {
		f, err := os.Open(*input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	if *dryRun {
		return printNormalized(in, os.Stdout)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ingester := pipeline.NewIngester(st, nil, logger, observability.NewMetrics())
	tally, err := replay(ctx, in, ingester)
	log.Printf("stored=%d dropped=%d errors=%d", tally.stored, tally.dropped, tally.errors)
	return err
}

// printNormalized writes one normalized JSON object per input line. Lines
// that are not JSON produce {"error": ...} so output lines stay aligned with
// input lines.
func printNormalized(in io.Reader, out io.Writer) error {
	enc := json.NewEncoder(out)
	return eachLine(in, func(line []byte) error {
		doc, err := resolve.Parse(line)
		if err != nil {
			return enc.Encode(map[string]string{"error": err.Error()})
		}
		return enc.Encode(normalize.Normalize(doc))
	})
}

type tally struct {
	stored, dropped, errors int
}

func replay(ctx context.Context, in io.Reader, h pipeline.Handler) (tally, error) {
	var t tally
	err := eachLine(in, func(line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := h.Ingest(ctx, sourceReplay, line)
		switch res.Outcome {
		case pipeline.OutcomeStored:
			t.stored++
		case pipeline.OutcomeDropped:
			t.dropped++
		default:
			t.errors++
			log.Printf("ingest failed: %v", err)
		}
		return nil
	})
	return t, err
}

// eachLine calls fn for every non-blank line.
func eachLine(in io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
