package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// RunHistory prints the stored changes of a profile, oldest first.
func (a *App) RunHistory(args []string) error {
	var t target
	fs := newFlagSet("history", a.out)
	t.bind(fs)
	since := fs.Uint64("since", 0, "Only show changes after this version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.Store == nil {
		return errNoHistory
	}
	p, err := a.profile(t.profile)
	if err != nil {
		return err
	}
	info, err := a.Store.Info(p.Name())
	if err != nil {
		return err
	}
	changes, err := a.Store.History(p.Name(), *since)
	if err != nil {
		return err
	}

	a.printf("%s at version %d (%s)\n", p.Name(), info.Version, info.UpdatedAt.Format(time.RFC3339))
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCHANGE\tKEY")
	for _, c := range changes {
		fmt.Fprintf(w, "%d\t%s\t%s\n", c.Version, c.Type, c.Key)
	}
	return w.Flush()
}

// RunBackup writes a snapshot of the store to a file.
func (a *App) RunBackup(args []string) error {
	fs := newFlagSet("backup", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "FILE"); err != nil {
		return err
	}
	if a.Store == nil {
		return errNoHistory
	}
	f, err := os.Create(fs.Arg(0))
	if err != nil {
		return err
	}
	snap, err := a.Store.Backup(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	a.printf("backed up %d profiles at version %d\n", len(snap.Buckets), snap.Version)
	return nil
}

// RunRestore replaces the store content with a backup. Commands run
// afterwards see the restored profiles.
func (a *App) RunRestore(args []string) error {
	fs := newFlagSet("restore", a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "FILE"); err != nil {
		return err
	}
	if a.Store == nil {
		return errNoHistory
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	snap, err := a.Store.Restore(f)
	if err != nil {
		return err
	}
	a.printf("restored %d profiles from version %d\n", len(snap.Buckets), snap.Version)
	return nil
}
