// Command bbrender renders a BBCode userpage from a file or stdin and
// writes the HTML to stdout.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/realistikosu/userpages/pkg/bbcode"
	"github.com/realistikosu/userpages/pkg/sanitize"
)

// defaultMaxBytes is well above the longest userpage the service accepts.
const defaultMaxBytes = 256 << 10

var errInputTooLarge = errors.New("input too large")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bbrender", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: bbrender [flags] [file]")
		fs.PrintDefaults()
	}

	twitchParent := fs.String("twitch-parent", bbcode.DefaultTwitchParent, "Host passed as the parent of twitch embeds")
	sanitized := fs.Bool("sanitize", false, "Run the rendered HTML through the userpage sanitizer")
	maxBytes := fs.Int64("max-bytes", defaultMaxBytes, "Refuse sources longer than this many bytes")
	debug := fs.Bool("debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *maxBytes <= 0 {
		fmt.Fprintln(stderr, "bbrender: -max-bytes must be positive")
		fs.Usage()
		return 2
	}

	lvl := slog.LevelWarn
	if *debug {
		lvl = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lvl}))

	src, name, err := readSource(fs.Arg(0), stdin, *maxBytes)
	if err != nil {
		logger.Error("failed to read source", slog.String("input", name), slog.String("error", err.Error()))
		return 1
	}

	start := time.Now()
	out := bbcode.New(bbcode.WithTwitchParent(*twitchParent)).Render(src)
	if *sanitized {
		out = sanitize.Userpage(out)
	}
	logger.Debug("rendered",
		slog.String("input", name),
		slog.Int("source_bytes", len(src)),
		slog.Int("html_bytes", len(out)),
		slog.Bool("sanitized", *sanitized),
		slog.Duration("duration", time.Since(start)),
	)

	if _, err := io.WriteString(stdout, out); err != nil {
		logger.Error("failed to write output", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

// readSource reads at most limit bytes from path, or from stdin when path
// is empty or "-".
func readSource(path string, stdin io.Reader, limit int64) (string, string, error) {
	name, r := "stdin", stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", path, err
		}
		defer f.Close()
		name, r = path, f
	}

	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", name, err
	}
	if int64(len(b)) > limit {
		return "", name, fmt.Errorf("%w: limit is %d bytes", errInputTooLarge, limit)
	}
	return string(b), name, nil
}
