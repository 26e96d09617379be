package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/email-analyzer/decoder"
	"github.com/dhcgn/email-analyzer/filter"
	"github.com/dhcgn/email-analyzer/mbox"
	"github.com/dhcgn/email-analyzer/model"
	"github.com/dhcgn/email-analyzer/parser"
	"github.com/dhcgn/email-analyzer/stats"
)

// InspectOptions drives a local, offline run of the parser.
type InspectOptions struct {
	Path    string
	Format  string
	Decoder string
	Filter  filter.Options
}

// Report is the result of inspecting one file.
type Report struct {
	Format   parser.Format
	Decoder  string
	Total    int
	Records  []model.DecodedMessage
	Senders  map[string]int
	Filter   *filter.Filter
	Filtered bool
}

// Skipped is the number of records rejected by the filter.
func (r Report) Skipped() int {
	return r.Total - len(r.Records)
}

// NewInspectCommand returns the "inspect" subcommand.
func NewInspectCommand() *cobra.Command {
	var (
		opts InspectOptions
		topN int
	)

	c := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Parse a local mbox or .eml file and print every decoded message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]

			report, err := Inspect(cmd.Context(), opts)
			if err != nil {
				return err
			}

			return render(cmd.OutOrStdout(), report, topN)
		},
	}

	flags := c.Flags()
	flags.StringVarP(&opts.Format, "format", "f", "auto", "Input format: mbox, eml or auto (by file extension)")
	flags.StringVar(&opts.Decoder, "decoder", decoder.Default, fmt.Sprintf("MIME decoder backend (%s)", strings.Join(decoder.Names(), ", ")))
	flags.IntVarP(&topN, "top", "t", 10, "Number of top senders to display")
	flags.StringArrayVar(&opts.Filter.IncludeHeader, "include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.Filter.IncludeBody, "include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArrayVar(&opts.Filter.ExcludeHeader, "exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArrayVar(&opts.Filter.ExcludeBody, "exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")

	return c
}

// Inspect parses the file at opts.Path with the same parser the HTTP
// endpoints use.
func Inspect(ctx context.Context, opts InspectOptions) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	format, err := resolveFormat(opts.Format, opts.Path)
	if err != nil {
		return Report{}, err
	}

	dec, err := decoder.New(opts.Decoder)
	if err != nil {
		return Report{}, err
	}

	var parserOpts []parser.Option
	report := Report{Format: format, Decoder: dec.Name(), Senders: make(map[string]int)}
	if opts.Filter.Active() {
		f, err := filter.New(opts.Filter)
		if err != nil {
			return Report{}, fmt.Errorf("create filter: %w", err)
		}
		report.Filter = f
		report.Filtered = true
		parserOpts = append(parserOpts, parser.WithFilter(f))
	}

	file, err := os.Open(opts.Path)
	if err != nil {
		return Report{}, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	defer file.Close()

	report.Total = 1
	if format == parser.Mbox {
		if report.Total, err = mbox.Count(file); err != nil {
			return Report{}, fmt.Errorf("count messages: %w", err)
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return Report{}, fmt.Errorf("rewind %s: %w", opts.Path, err)
		}
	}

	report.Records, err = parser.New(dec, parserOpts...).Parse(ctx, file, format)
	if err != nil {
		return Report{}, fmt.Errorf("parse %s: %w", opts.Path, err)
	}

	for _, rec := range report.Records {
		for _, addr := range rec.From {
			report.Senders[strings.ToLower(addr)]++
		}
	}

	return report, nil
}

func resolveFormat(name, path string) (parser.Format, error) {
	if name == "" || strings.EqualFold(name, "auto") {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".mbox", ".mbx", ".mbs":
			return parser.Mbox, nil
		default:
			return parser.SingleMessage, nil
		}
	}
	return parser.ParseFormat(name)
}

func render(w io.Writer, report Report, topN int) error {
	fmt.Fprint(w, pterm.DefaultSection.Sprintln("Messages"))
	fmt.Fprint(w, pterm.Info.Sprintf("Format: %s, decoder: %s\n", report.Format, report.Decoder))
	fmt.Fprint(w, pterm.Info.Sprintf("Decoded %d of %d messages (skipped %d by filters)\n", len(report.Records), report.Total, report.Skipped()))

	data := pterm.TableData{{"#", "Subject", "From", "To", "Attachments"}}
	for i, rec := range report.Records {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			rec.SubjectOrEmpty(),
			strings.Join(rec.From, ", "),
			strings.Join(rec.To, ", "),
			strconv.FormatBool(rec.HasAttachments),
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, table)

	if report.Filtered {
		fmt.Fprint(w, pterm.DefaultSection.Sprintln("Filter hits"))
		fs := report.Filter.Stats()
		printFilterHits(w, "Include header", fs.IncludeHeaderHits)
		printFilterHits(w, "Include body", fs.IncludeBodyHits)
		printFilterHits(w, "Exclude header", fs.ExcludeHeaderHits)
		printFilterHits(w, "Exclude body", fs.ExcludeBodyHits)
	}

	if topN > 0 && len(report.Senders) > 0 {
		fmt.Fprint(w, pterm.DefaultSection.Sprintf("Top %d senders\n", topN))
		stats.FprintTop(w, report.Senders, topN)
	}

	return nil
}

func printFilterHits(w io.Writer, title string, hits map[string]int) {
	if len(hits) == 0 {
		return
	}
	patterns := make([]string, 0, len(hits))
	for p := range hits {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	fmt.Fprintln(w, title+":")
	for _, p := range patterns {
		if hits[p] > 0 {
			fmt.Fprint(w, pterm.Success.Sprintf("%s: %d hits\n", p, hits[p]))
		} else {
			fmt.Fprint(w, pterm.Warning.Sprintf("%s: 0 hits\n", p))
		}
	}
}
