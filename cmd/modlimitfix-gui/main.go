// Package main provides the modlimitfix GUI application.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/fatih/color"

	"github.com/ZacharyZcR/modlimitfix/internal/cli"
	"github.com/ZacharyZcR/modlimitfix/internal/config"
	"github.com/ZacharyZcR/modlimitfix/internal/patch"
	"github.com/ZacharyZcR/modlimitfix/internal/profile"
)

func main() {
	color.NoColor = true
	prof := profile.Witcher3()

	myApp := app.New()
	myWindow := myApp.NewWindow("modlimitfix - Witcher 3 mod limit patcher")
	myWindow.Resize(fyne.NewSize(640, 420))

	// Game directory
	dirEntry := widget.NewEntry()
	dirEntry.SetPlaceHolder("The Witcher 3\\bin\\x64")

	limitEntry := widget.NewEntry()
	limitEntry.SetText(strconv.FormatUint(uint64(prof.DefaultLimit), 10))

	output := widget.NewMultiLineEntry()
	output.SetPlaceHolder("Results will be shown here...")
	output.Disable()

	statusLabel := widget.NewLabel("Ready")

	// loaded is what the entry was pre-filled with, and where it came from.
	loaded := config.Limit{Value: prof.DefaultLimit}

	loadLimit := func(dir string) {
		limit, err := config.LoadLimit(filepath.Join(dir, prof.ConfigFile), prof.DefaultLimit)
		if err != nil {
			dialog.ShowError(err, myWindow)
			return
		}
		loaded = limit
		limitEntry.SetText(strconv.FormatUint(uint64(limit.Value), 10))
		if limit.Warning != nil {
			statusLabel.SetText(fmt.Sprintf("Ignoring %s: %v", prof.ConfigFile, limit.Warning))
		}
	}

	dirButton := widget.NewButton("Browse", func() {
		dialog.ShowFolderOpen(func(uri fyne.ListableURI, err error) {
			if err != nil || uri == nil {
				return
			}
			dirEntry.SetText(uri.Path())
			loadLimit(uri.Path())
		}, myWindow)
	})

	runPatch := func(dryRun bool) {
		if dirEntry.Text == "" {
			dialog.ShowError(errors.New("select the bin/x64 directory first"), myWindow)
			return
		}
		limit := entryLimit(limitEntry.Text, loaded, prof.DefaultLimit)
		if limit.Warning != nil {
			dialog.ShowError(fmt.Errorf("invalid mod limit: %w", limit.Warning), myWindow)
			return
		}

		statusLabel.SetText("Patching...")
		text, err := patchDir(dirEntry.Text, prof, limit, dryRun)
		output.SetText(text)

		switch {
		case err == nil && dryRun:
			statusLabel.SetText("Check complete")
		case err == nil:
			statusLabel.SetText("Patched")
			dialog.ShowInformation("Success", fmt.Sprintf("Patched %s with a limit of %d", prof.Executable, limit.Value), myWindow)
		case cli.ExitCode(err) == cli.ExitOK:
			statusLabel.SetText("Already patched")
		default:
			statusLabel.SetText("Patch failed")
			dialog.ShowError(err, myWindow)
		}
	}

	checkButton := widget.NewButton("Check", func() { runPatch(true) })
	patchButton := widget.NewButton("Patch", func() { runPatch(false) })

	// Layout
	dirBox := container.NewBorder(nil, nil, nil, dirButton, dirEntry)

	mainContent := container.NewBorder(
		container.NewVBox(
			widget.NewLabel("Game directory (bin/x64):"),
			dirBox,
			container.NewGridWithColumns(2,
				widget.NewLabel("Mod limit:"),
				limitEntry,
			),
			container.NewGridWithColumns(2, checkButton, patchButton),
			widget.NewSeparator(),
		),
		container.NewVBox(
			widget.NewSeparator(),
			statusLabel,
		),
		nil,
		nil,
		container.NewVScroll(output),
	)

	myWindow.SetContent(mainContent)
	myWindow.ShowAndRun()
}

// entryLimit resolves the limit entry. An untouched entry keeps the source it
// was loaded from; an edited one is parsed like the limit file, so 0 or an
// empty entry means the default.
func entryLimit(text string, loaded config.Limit, def uint32) config.Limit {
	if strings.TrimSpace(text) == strconv.FormatUint(uint64(loaded.Value), 10) {
		loaded.Warning = nil
		return loaded
	}
	return config.ParseLimit(text, def)
}

// patchDir runs the patch and returns the report the CLI would print.
func patchDir(dir string, prof profile.Profile, limit config.Limit, dryRun bool) (string, error) {
	var buf bytes.Buffer
	reporter := cli.NewReporter(&buf, prof)
	reporter.SetVerbose(true)
	reporter.PrintLimit(limit)

	out, err := patch.Run(context.Background(), patch.Options{
		Dir:     dir,
		Profile: prof,
		Limit:   limit,
		DryRun:  dryRun,
	})
	reporter.PrintResult(out, err)

	return buf.String(), err
}
