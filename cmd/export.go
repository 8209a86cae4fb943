package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v2"

	"grimm.is/rse/internal/store"
)

var errDiffers = errors.New("profile differs")

// RunExport prints the profile as HCL or YAML.
func (a *App) RunExport(args []string) error {
	var t target
	fs := newFlagSet("export", a.out)
	t.bind(fs)
	format := fs.String("format", "hcl", "Output format (hcl or yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := a.profile(t.profile)
	if err != nil {
		return err
	}
	rec := store.NewProfileRecord(p)

	switch *format {
	case "hcl":
		_, err = a.out.Write(store.EncodeHCL(rec))
		return err
	case "yaml":
		data, err := yaml.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		_, err = a.out.Write(data)
		return err
	}
	return fmt.Errorf("%w: unknown format %q", errUsage, *format)
}

// RunDiff compares the live profile with an HCL profile file. Both sides
// are normalized through the encoder so only content differences show.
func (a *App) RunDiff(args []string) error {
	var t target
	fs := newFlagSet("diff", a.out)
	t.bind(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "FILE"); err != nil {
		return err
	}
	p, err := a.profile(t.profile)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	fileRec, err := store.DecodeHCL(fs.Arg(0), data)
	if err != nil {
		return err
	}
	live := string(store.EncodeHCL(store.NewProfileRecord(p)))
	file := string(store.EncodeHCL(fileRec))

	if live == file {
		a.printf("No changes detected.\n")
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(file),
		B:        difflib.SplitLines(live),
		FromFile: fs.Arg(0),
		ToFile:   p.Name(),
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Errorf("diff: %w", err)
	}
	a.printf("%s", text)
	return errDiffers
}
