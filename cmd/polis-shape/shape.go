package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-shape/pkg/logging"
	"github.com/polisai/polis-shape/pkg/optimizer"
)

// shapeOptions are the inputs of the shape command.
type shapeOptions struct {
	Input       string
	Output      string
	Fields      string
	MaxDepth    int
	RemoveEmpty bool
	Encoding    string
	Quiet       bool
}

func newShapeCmd() *cobra.Command {
	opts := &shapeOptions{}
	cmd := &cobra.Command{
		Use:   "shape [file]",
		Short: "Optimize a JSON document read from a file or stdin",
		Long: `Runs a JSON document through projection, sanitization, serialization and
compression, writing the result to stdout or --out. A summary is printed to
stderr unless --quiet is set.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Input = args[0]
			}
			return runShape(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&opts.Fields, "fields", "f", "", "Comma separated dot paths to keep")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", 10, "Maximum nesting depth before values are replaced")
	cmd.Flags().BoolVar(&opts.RemoveEmpty, "remove-empty", false, "Drop null, undefined and empty containers")
	cmd.Flags().StringVarP(&opts.Encoding, "encoding", "e", "", "Accept-Encoding value to negotiate, e.g. \"br, gzip\"")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "Write the result to a file instead of stdout")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Do not print the summary")
	return cmd
}

func runShape(ctx context.Context, opts *shapeOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	in := stdin
	if opts.Input != "" && opts.Input != "-" {
		f, err := os.Open(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	payload, err := decodeDocument(in)
	if err != nil {
		return err
	}

	cfg := optimizer.DefaultConfig()
	cfg.MaxDepth = opts.MaxDepth
	cfg.RemoveEmpty = opts.RemoveEmpty

	// Summaries and warnings belong on stderr; the document goes to stdout.
	logger := logging.NewLogger(logging.Config{Level: "warn", Pretty: true, Output: stderr})
	opt, err := optimizer.New(cfg, logger)
	if err != nil {
		return err
	}

	resp, err := opt.Optimize(ctx, payload, optimizer.Request{
		Fields:         optimizer.ParseFields(opts.Fields),
		AcceptEncoding: opts.Encoding,
	})
	if err != nil {
		return err
	}

	out := stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	written, err := writeResponse(out, resp)
	if err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if !opts.Quiet {
		printSummary(stderr, resp, written)
	}
	return nil
}

func decodeDocument(r io.Reader) (any, error) {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse JSON input: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, errors.New("failed to parse JSON input: trailing data after document")
	}
	return payload, nil
}

func writeResponse(w io.Writer, resp *optimizer.Response) (int, error) {
	if resp.Stream == nil {
		return w.Write(resp.Body)
	}

	total := 0
	for chunk := range resp.Stream.All() {
		n, err := io.WriteString(w, chunk)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, resp.Stream.Err()
}

func printSummary(w io.Writer, resp *optimizer.Response, written int) {
	encoding := resp.Result.Algorithm.String()
	if !resp.Result.Compressed {
		encoding = "identity"
	}
	_, _ = fmt.Fprintf(w, "strategy=%s encoding=%s original=%s written=%s",
		resp.Strategy, encoding,
		humanize.IBytes(uint64(max(resp.Result.OriginalSize, 0))),
		humanize.IBytes(uint64(written)),
	)
	if resp.Result.Compressed {
		_, _ = fmt.Fprintf(w, " saved=%.1f%%", resp.Result.Ratio*100)
	}
	_, _ = fmt.Fprintln(w)
	if resp.Warning.Oversized {
		_, _ = fmt.Fprintf(w, "warning: %s\n", resp.Warning.Recommendation)
	}
}
