package cmd

import (
	"fmt"
	"text/tabwriter"
)

const defaultConsumer = "default"

// RunRefs dispatches the refs subcommands.
func (a *App) RunRefs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: refs list|add|remove", errUsage)
	}
	var t target
	fs := newFlagSet("refs "+args[0], a.out)
	t.bind(fs)

	switch args[0] {
	case "list":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		p, err := a.profile(t.profile)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONSUMER\tREFERENCE\tSTATE\tPOOL")
		for _, rm := range p.Consumers() {
			for _, r := range rm.References() {
				resolved := "-"
				if pool := r.Resolve(); pool != nil {
					resolved = pool.ReferenceName()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", rm.Name(), r.ReferenceName(), r.State(), resolved)
			}
		}
		return w.Flush()

	case "add", "remove":
		consumer := fs.String("consumer", defaultConsumer, "Consumer name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 1, "REF"); err != nil {
			return err
		}
		p, err := a.profile(t.profile)
		if err != nil {
			return err
		}
		name := fs.Arg(0)

		if args[0] == "add" {
			rm := p.AddConsumer(*consumer, t.configID)
			if rm.GetReferenceByName(name) != nil {
				return fmt.Errorf("%s already references %s", rm.Name(), name)
			}
			r := rm.AddReferenceByName(name)
			if err := p.Commit(); err != nil {
				return err
			}
			a.printf("added reference %s (%s)\n", name, r.State())
			if r.Resolve() == nil {
				a.printf("warning: %s does not resolve to a pool\n", name)
			}
			return nil
		}

		rm := p.Consumer(*consumer)
		if rm == nil {
			return fmt.Errorf("no such consumer: %s", *consumer)
		}
		r := rm.GetReferenceByName(name)
		if r == nil || !rm.RemoveReference(r) {
			return fmt.Errorf("%s has no reference %s", rm.Name(), name)
		}
		if err := p.Commit(); err != nil {
			return err
		}
		a.printf("removed reference %s\n", name)
		return nil
	}
	return fmt.Errorf("%w: unknown refs subcommand %q", errUsage, args[0])
}
