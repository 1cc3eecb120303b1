// Package cli provides command-line interface utilities.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/ZacharyZcR/modlimitfix/internal/config"
	"github.com/ZacharyZcR/modlimitfix/internal/locate"
	"github.com/ZacharyZcR/modlimitfix/internal/patch"
	"github.com/ZacharyZcR/modlimitfix/internal/pe"
	"github.com/ZacharyZcR/modlimitfix/internal/profile"
)

// Exit codes, one per failure class.
const (
	ExitOK            = 0
	ExitError         = 1
	ExitTargetMissing = 2
	ExitTooSmall      = 3
	ExitNotFound      = 4
	ExitBackupExists  = 5
	ExitBackupFailed  = 6
	ExitWriteEOF      = 7
	ExitWriteFailed   = 8
	ExitBadProfile    = 9
)

// ExitCode maps a Run error to the process exit status. An already patched
// executable is not a failure.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, patch.ErrAlreadyPatched):
		return ExitOK
	case errors.Is(err, patch.ErrTargetMissing):
		return ExitTargetMissing
	case errors.Is(err, patch.ErrTargetTooSmall):
		return ExitTooSmall
	case errors.Is(err, patch.ErrPatchPointNotFound):
		return ExitNotFound
	case errors.Is(err, patch.ErrBackupExists):
		return ExitBackupExists
	case errors.Is(err, patch.ErrBackupFailed):
		return ExitBackupFailed
	case errors.Is(err, patch.ErrUnexpectedEOF):
		return ExitWriteEOF
	case errors.Is(err, patch.ErrWriteFailed):
		return ExitWriteFailed
	case errors.Is(err, locate.ErrCandidateOutOfRange),
		errors.Is(err, locate.ErrInvalidSequence),
		errors.Is(err, profile.ErrInvalidProfile):
		return ExitBadProfile
	default:
		return ExitError
	}
}

// Reporter prints user-facing status messages.
type Reporter struct {
	out     io.Writer
	profile profile.Profile
	verbose bool
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer, p profile.Profile) *Reporter {
	return &Reporter{out: out, profile: p}
}

// SetVerbose enables details about the located patch point.
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// PrintLimit reports where the patch value came from.
func (r *Reporter) PrintLimit(limit config.Limit) {
	cyan := color.New(color.FgCyan)
	if limit.FromConfig {
		_, _ = cyan.Fprintln(r.out, "Using configuration for mod limit value...")
	} else {
		_, _ = cyan.Fprintln(r.out, "Using defaults for mod limit values...")
	}
	if limit.Warning != nil {
		yellow := color.New(color.FgYellow)
		_, _ = yellow.Fprintf(r.out, "Ignoring %s: %v\n", r.profile.ConfigFile, limit.Warning)
	}
	_, _ = cyan.Fprintf(r.out, "Patching with a limit of %d...\n", limit.Value)
}

// PrintResult reports the outcome of a run. err is the error Run returned.
func (r *Reporter) PrintResult(out *patch.Outcome, err error) {
	if r.verbose && out != nil {
		r.printDetails(out)
	}

	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed, color.Bold)
	exe := r.profile.Executable

	switch {
	case err == nil && out != nil && !out.Patched:
		_, _ = green.Fprintf(r.out, "Found patch address 0x%X (current value %d), nothing written.\n",
			out.Result.Offset, out.Previous)
	case err == nil:
		_, _ = green.Fprintln(r.out, "Successfully patched.")
	case errors.Is(err, patch.ErrAlreadyPatched):
		_, _ = yellow.Fprintln(r.out, "It seems the executable is already patched")
	case errors.Is(err, patch.ErrTargetMissing):
		_, _ = red.Fprintf(r.out, "Could not find %s file, make sure you are running this in the bin/x64 directory.\n", exe)
	case errors.Is(err, patch.ErrTargetTooSmall):
		_, _ = red.Fprintf(r.out, "%s is unexpectedly small, aborting patching.\n", exe)
	case errors.Is(err, patch.ErrPatchPointNotFound):
		_, _ = red.Fprintln(r.out, "Did not find the address to patch, possibly an unexpected version of executable.")
	case errors.Is(err, patch.ErrBackupExists):
		_, _ = red.Fprintf(r.out, "Backup file %s already exists. Rename it or delete it (might be left over from previous patch attempt).\n",
			r.profile.BackupName())
	case errors.Is(err, patch.ErrBackupFailed):
		_, _ = red.Fprintf(r.out, "Failed to create backup file, try running as administrator. (%v)\n", err)
	case errors.Is(err, patch.ErrUnexpectedEOF):
		_, _ = red.Fprintln(r.out, "Unexpectedly encountered file end when writing patch.")
	case errors.Is(err, patch.ErrWriteFailed):
		_, _ = red.Fprintf(r.out, "Failed to write patch (%v)\n", err)
	default:
		_, _ = red.Fprintf(r.out, "Error: %v\n", err)
	}
}

func (r *Reporter) printDetails(out *patch.Outcome) {
	if out.Result.Kind != locate.Found {
		return
	}

	fmt.Fprintf(r.out, "  %-16s: 0x%X\n", "Patch address", out.Result.Offset)
	fmt.Fprintf(r.out, "  %-16s: %d\n", "Current value", out.Previous)

	if info := out.Info; info != nil {
		if info.FileVersion != "" {
			fmt.Fprintf(r.out, "  %-16s: %s\n", "File version", info.FileVersion)
		}
		fmt.Fprintf(r.out, "  %-16s: %d bytes\n", "File size", info.FileSize)
		fmt.Fprintf(r.out, "  %-16s: %s\n", "Architecture", info.Architecture)
		fmt.Fprintf(r.out, "  %-16s: %s\n", "Subsystem", info.Subsystem)
		fmt.Fprintf(r.out, "  %-16s: 0x%X\n", "Image base", info.ImageBase)
		fmt.Fprintf(r.out, "  %-16s: %s (%s) RVA 0x%X\n", "Section",
			info.PatchSection.Name, info.PatchSection.Permissions, info.PatchRVA)
		fmt.Fprintf(r.out, "  %-16s: %.2f\n", "Entropy", info.PatchSection.Entropy)
		r.printChecksum(info.Checksum)
		r.printSignature(info.Signature)
	}
	if out.Checksum != 0 {
		fmt.Fprintf(r.out, "  %-16s: 0x%08X\n", "New checksum", out.Checksum)
	}
}

func (r *Reporter) printChecksum(c *pe.ChecksumInfo) {
	if c == nil {
		return
	}
	switch {
	case c.Stored == 0:
		fmt.Fprintf(r.out, "  %-16s: not set\n", "Checksum")
	case c.Valid:
		_, _ = color.New(color.FgGreen).Fprintf(r.out, "  %-16s: valid (0x%08X)\n", "Checksum", c.Stored)
	default:
		_, _ = color.New(color.FgRed).Fprintf(r.out, "  %-16s: invalid (stored 0x%08X, computed 0x%08X)\n",
			"Checksum", c.Stored, c.Computed)
	}
}

func (r *Reporter) printSignature(sig *pe.SignatureInfo) {
	if sig == nil || !sig.IsSigned {
		fmt.Fprintf(r.out, "  %-16s: none\n", "Signature")
		return
	}

	yellow := color.New(color.FgYellow)
	_, _ = yellow.Fprintf(r.out, "  %-16s: signed, patching invalidates the signature\n", "Signature")
	fmt.Fprintf(r.out, "  %-16s: 0x%X (%d bytes)\n", "Cert table", sig.Offset, sig.Size)
	if sig.DigestAlgorithm != "" {
		fmt.Fprintf(r.out, "  %-16s: %s\n", "Digest", sig.DigestAlgorithm)
	}
	// The signer certificate comes first in the chain.
	if len(sig.Certificates) > 0 {
		cert := sig.Certificates[0]
		fmt.Fprintf(r.out, "  %-16s: %s\n", "Signer", cert.Subject)
		fmt.Fprintf(r.out, "  %-16s: %s\n", "Issuer", cert.Issuer)
		fmt.Fprintf(r.out, "  %-16s: %s to %s\n", "Valid",
			cert.NotBefore.Format("2006-01-02"), cert.NotAfter.Format("2006-01-02"))
	}
}

// WaitForEnter keeps a double-clicked console window open until the user
// presses ENTER. It returns immediately when stdin is not a terminal.
func WaitForEnter(in *os.File, out io.Writer) {
	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return
	}
	fmt.Fprintln(out, "Please press ENTER or close the window to terminate the program")
	_, _ = bufio.NewReader(in).ReadString('\n')
}
