// Package main provides the modlimitfix CLI tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/apex/log"
	logcli "github.com/apex/log/handlers/cli"
	"github.com/fatih/color"

	"github.com/ZacharyZcR/modlimitfix/internal/cli"
	"github.com/ZacharyZcR/modlimitfix/internal/config"
	"github.com/ZacharyZcR/modlimitfix/internal/patch"
	"github.com/ZacharyZcR/modlimitfix/internal/profile"
)

var (
	dir            = flag.String("dir", ".", "directory containing the executable")
	configPath     = flag.String("config", "", "limit file (default: <dir>/modlimitfix.conf)")
	profilePath    = flag.String("profile", "", "target profile file (.toml, .yaml)")
	limitFlag      = flag.Uint("limit", 0, "mod limit to write, overrides the limit file")
	dryRun         = flag.Bool("dry-run", false, "locate the patch address without writing")
	showInfo       = flag.Bool("info", false, "show details about the target and exit (implies -dry-run)")
	updateChecksum = flag.Bool("update-checksum", false, "recalculate the PE checksum after patching")
	noWait         = flag.Bool("no-wait", false, "do not wait for ENTER before exiting")
	verbose        = flag.Bool("v", false, "verbose output")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	setupLogging(*verbose)

	code := run()

	if !*noWait {
		cli.WaitForEnter(os.Stdin, os.Stdout)
	}
	os.Exit(code)
}

func run() int {
	red := color.New(color.FgRed, color.Bold)

	prof, err := loadProfile()
	if err != nil {
		_, _ = red.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		return cli.ExitCode(err)
	}

	limit, err := resolveLimit(prof)
	if err != nil {
		_, _ = red.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		return cli.ExitCode(err)
	}

	reporter := cli.NewReporter(os.Stdout, prof)
	reporter.SetVerbose(*verbose || *showInfo)
	reporter.PrintLimit(limit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	out, err := patch.Run(ctx, patch.Options{
		Dir:            *dir,
		Profile:        prof,
		Limit:          limit,
		DryRun:         *dryRun || *showInfo,
		UpdateChecksum: *updateChecksum,
	})
	reporter.PrintResult(out, err)

	return cli.ExitCode(err)
}

func setupLogging(verbose bool) {
	log.SetHandler(logcli.New(os.Stderr))
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.WarnLevel)
	}
}

func loadProfile() (profile.Profile, error) {
	if *profilePath == "" {
		return profile.Witcher3(), nil
	}
	p, err := profile.Load(*profilePath)
	if err != nil {
		return profile.Profile{}, err
	}
	log.WithFields(log.Fields{"profile": p.Name, "executable": p.Executable}).Debug("loaded profile")
	return p, nil
}

// resolveLimit picks the -limit flag, then the limit file, then the profile default.
func resolveLimit(p profile.Profile) (config.Limit, error) {
	if *limitFlag != 0 {
		if *limitFlag > math.MaxUint32 {
			return config.Limit{}, fmt.Errorf("limit %d does not fit in 32 bits", *limitFlag)
		}
		return config.Limit{Value: uint32(*limitFlag), FromConfig: true}, nil
	}

	path := *configPath
	if path == "" {
		path = filepath.Join(*dir, p.ConfigFile)
	}
	limit, err := config.LoadLimit(path, p.DefaultLimit)
	if err != nil {
		return config.Limit{}, err
	}
	if limit.Warning != nil {
		log.WithError(limit.Warning).WithField("path", path).Warn("ignoring limit file")
	}
	return limit, nil
}

func printUsage() {
	cyan := color.New(color.FgCyan, color.Bold)
	_, _ = cyan.Println("\nmodlimitfix - raises the Witcher 3 mod limit")

	fmt.Println("\nUsage:")
	fmt.Println("  modlimitfix [options]")
	fmt.Println("\nRun it from the bin/x64 directory, or point -dir at it. The limit is read")
	fmt.Println("from modlimitfix.conf (a single number) when present, 500 otherwise.")
	fmt.Println("The original executable is saved as witcher3.exe.orig before patching.")
	fmt.Println("\nOptions:")
	flag.PrintDefaults()

	fmt.Println("\nExit codes:")
	fmt.Println("  0  patched, or already patched")
	fmt.Println("  2  executable not found")
	fmt.Println("  3  executable too small")
	fmt.Println("  4  patch address not found (unsupported version)")
	fmt.Println("  5  backup file already exists")
	fmt.Println("  6  backup failed")
	fmt.Println("  7  end of file while writing")
	fmt.Println("  8  write failed")
	fmt.Println("  9  invalid profile")

	fmt.Println("\nExamples:")
	fmt.Println("  modlimitfix")
	fmt.Println("  modlimitfix -limit 1000")
	fmt.Println("  modlimitfix -info -dir \"C:\\Games\\The Witcher 3\\bin\\x64\"")
	fmt.Println("  modlimitfix -profile witcher3-gog.toml -no-wait")
	fmt.Println()
}
