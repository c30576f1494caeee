// bcopt - post-compilation optimizer for class pool images
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/bcopt/config"
	"github.com/chazu/bcopt/image"
	"github.com/chazu/bcopt/pipeline"
	"github.com/chazu/bcopt/report"
)

// invocation collects the command line settings that override the
// configuration file.
type invocation struct {
	configDir   string
	input       string
	output      string
	reportPath  string
	database    string
	parallelism int
	verbose     bool
}

func main() {
	var inv invocation
	flag.StringVar(&inv.configDir, "C", ".", "Directory to search for bcopt.toml (walks up)")
	flag.StringVar(&inv.output, "o", "", "Output image (default: [image] output, else the input)")
	flag.StringVar(&inv.reportPath, "report", "", "Write the run report as CBOR to this path")
	flag.StringVar(&inv.database, "db", "", "Store the run report in this SQLite database")
	flag.IntVar(&inv.parallelism, "j", 0, "Number of classes optimized at once")
	flag.BoolVar(&inv.verbose, "v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bcopt [options] [input.image]\n")
		fmt.Fprintf(os.Stderr, "       bcopt runs -db path\n")
		fmt.Fprintf(os.Stderr, "       bcopt summary -db path <run-id>\n\n")
		fmt.Fprintf(os.Stderr, "Optimizes a class pool image.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bcopt app.image                 # Optimize app.image in place\n")
		fmt.Fprintf(os.Stderr, "  bcopt -o out.image app.image    # Write the result elsewhere\n")
		fmt.Fprintf(os.Stderr, "  bcopt -db runs.db app.image     # Keep a history of runs\n")
		fmt.Fprintf(os.Stderr, "  bcopt runs -db runs.db          # List stored runs\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) > 0 && (args[0] == "runs" || args[0] == "summary") {
		if err := handleQueryCommand(args[0], args[1:], inv.database, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if len(args) > 1 {
		flag.Usage()
		os.Exit(2)
	}
	if len(args) == 1 {
		inv.input = args[0]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := optimize(ctx, inv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSummary(os.Stdout, r)
}

// loadConfig finds bcopt.toml above dir and applies the command line on top
// of it.
func loadConfig(inv invocation) (*config.Config, error) {
	c, err := config.FindAndLoad(inv.configDir)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = config.Default()
		c.ApplyEnv()
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	if inv.input != "" {
		c.Image.Input = inv.input
	} else {
		c.Image.Input = c.Path(c.Image.Input)
	}
	if inv.output != "" {
		c.Image.Output = inv.output
	} else {
		c.Image.Output = c.Path(c.Image.Output)
	}
	if c.Image.Output == "" {
		c.Image.Output = c.Image.Input
	}
	if inv.reportPath != "" {
		c.Report.Output = inv.reportPath
	} else {
		c.Report.Output = c.Path(c.Report.Output)
	}
	if inv.database != "" {
		c.Report.Database = inv.database
	} else {
		c.Report.Database = c.Path(c.Report.Database)
	}
	if inv.parallelism > 0 {
		c.Run.Parallelism = inv.parallelism
	}
	if inv.verbose {
		c.Run.Verbose = true
	}
	if c.Image.Input == "" {
		return nil, fmt.Errorf("no input image: pass one or set [image] input in %s", config.FileName)
	}
	return c, nil
}

// optimize runs the whole pipeline for one invocation: read the image,
// optimize it, write it back and store the report.
func optimize(ctx context.Context, inv invocation) (*report.Report, error) {
	c, err := loadConfig(inv)
	if err != nil {
		return nil, err
	}
	verbosity := 0
	if c.Run.Verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	pool, err := image.ReadFile(c.Image.Input)
	if err != nil {
		return nil, err
	}

	r, err := pipeline.New(pool, pipeline.OptionsFromConfig(c)).Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := image.WriteFile(c.Image.Output, pool); err != nil {
		return nil, err
	}
	if c.Report.Output != "" {
		if err := report.WriteFile(c.Report.Output, r); err != nil {
			return nil, err
		}
	}
	if c.Report.Database != "" {
		sink, err := report.OpenSQLite(c.Report.Database)
		if err != nil {
			return nil, err
		}
		defer sink.Close()
		if err := sink.Write(ctx, r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func printSummary(w io.Writer, r *report.Report) {
	fmt.Fprintf(w, "run %s: %d classes in %s\n", r.RunID, r.Classes, r.Elapsed)
	for _, pass := range []string{
		report.PassTailRecursion,
		report.PassGeneralizeField,
		report.PassGeneralizeMethod,
		report.PassInitializerRename,
		report.PassDuplicateInitializer,
		report.PassInitializerCall,
	} {
		if n := r.Count(pass); n > 0 {
			fmt.Fprintf(w, "  %-22s %d\n", pass, n)
		}
	}
}

// handleQueryCommand processes the `bcopt runs` and `bcopt summary`
// subcommands.
func handleQueryCommand(cmd string, args []string, defaultDB string, w io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	database := fs.String("db", defaultDB, "SQLite database written by earlier runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *database == "" {
		return fmt.Errorf("%s requires -db", cmd)
	}
	sink, err := report.OpenSQLite(*database)
	if err != nil {
		return err
	}
	defer sink.Close()

	ctx := context.Background()
	switch cmd {
	case "runs":
		ids, err := sink.Runs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(w, id)
		}
	case "summary":
		if fs.NArg() != 1 {
			return fmt.Errorf("summary requires a run ID")
		}
		counts, err := sink.Summary(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			if _, err := sink.Load(ctx, fs.Arg(0)); err != nil {
				return err
			}
		}
		for _, pc := range counts {
			fmt.Fprintf(w, "%-22s %d\n", pc.Pass, pc.Count)
		}
	}
	return nil
}
