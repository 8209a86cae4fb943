package cmd

import (
	"fmt"
	"text/tabwriter"

	"grimm.is/rse/internal/filters"
)

// RunPools dispatches the pools subcommands.
func (a *App) RunPools(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: pools list|create|rename|copy|move|delete", errUsage)
	}
	var t target
	fs := newFlagSet("pools "+args[0], a.out)
	t.bind(fs)

	switch args[0] {
	case "list":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return a.listPools(t)

	case "create":
		fixed := fs.Bool("fixed", false, "Create a pool that cannot be deleted")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 1, "NAME"); err != nil {
			return err
		}
		m, err := a.manager(t.profile, t.configID, true)
		if err != nil {
			return err
		}
		pool, err := m.CreatePool(fs.Arg(0), !*fixed)
		if err != nil {
			return err
		}
		if pool == nil {
			return fmt.Errorf("%w: pool %s", filters.ErrDuplicateName, fs.Arg(0))
		}
		a.printf("created pool %s\n", pool.ReferenceName())
		return nil

	case "rename":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 2, "NAME NEW"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		if err := m.RenamePool(pool, fs.Arg(1)); err != nil {
			return err
		}
		a.printf("renamed pool %s to %s\n", fs.Arg(0), pool.Name())
		return nil

	case "copy", "move":
		toProfile := fs.String("to-profile", "", "Destination profile (default: same)")
		toConfig := fs.String("to-c", "", "Destination sub-configuration (default: same)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if args[0] == "copy" {
			if err := needArgs(fs, 2, "NAME NEW"); err != nil {
				return err
			}
		} else if err := needArgs(fs, 1, "NAME [NEW]"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		dest := t
		if *toProfile != "" {
			dest.profile = *toProfile
		}
		if *toConfig != "" {
			dest.configID = *toConfig
		}
		tm, err := a.manager(dest.profile, dest.configID, true)
		if err != nil {
			return err
		}
		newName := fs.Arg(1)
		if newName == "" {
			newName = pool.Name()
		}

		var out *filters.Pool
		if args[0] == "copy" {
			out, err = m.CopyPool(tm, pool, newName)
		} else {
			out, err = m.MovePool(tm, pool, newName)
		}
		if err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("%w: pool %s in %s", filters.ErrDuplicateName, newName, tm.Name())
		}
		a.printf("%s %s to %s\n", pastTense(args[0]), fs.Arg(0), out.ReferenceName())
		return nil

	case "delete":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 1, "NAME"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		if err := m.DeletePool(pool); err != nil {
			return err
		}
		a.printf("deleted pool %s\n", fs.Arg(0))
		return nil
	}
	return fmt.Errorf("%w: unknown pools subcommand %q", errUsage, args[0])
}

func pastTense(verb string) string {
	if verb == "copy" {
		return "copied"
	}
	return "moved"
}

func (a *App) lookupPool(t target, name string) (*filters.PoolManager, *filters.Pool, error) {
	m, err := a.manager(t.profile, t.configID, false)
	if err != nil {
		return nil, nil, err
	}
	pool, err := a.pool(m, name)
	if err != nil {
		return nil, nil, err
	}
	return m, pool, nil
}

func (a *App) listPools(t target) error {
	m, err := a.manager(t.profile, t.configID, false)
	if err != nil {
		return err
	}
	sys := a.Registry.System()

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFILTERS\tDELETABLE\tDEFAULT\tREFERENCES")
	for _, pool := range m.Pools() {
		fmt.Fprintf(w, "%s\t%d\t%t\t%t\t%d\n",
			pool.Name(), pool.FilterCount(), pool.IsDeletable(), pool.IsDefault(), len(sys.ReferencesTo(pool)))
	}
	return w.Flush()
}
