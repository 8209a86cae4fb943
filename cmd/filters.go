package cmd

import (
	"fmt"
	"strings"

	"grimm.is/rse/internal/filters"
)

func splitPath(s string) []string {
	return strings.Split(s, "/")
}

// RunFilters dispatches the filters subcommands.
func (a *App) RunFilters(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: filters list|create|rename|delete|order|match", errUsage)
	}
	var t target
	fs := newFlagSet("filters "+args[0], a.out)
	t.bind(fs)

	switch args[0] {
	case "list":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 1, "POOL"); err != nil {
			return err
		}
		_, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		for _, f := range pool.Filters() {
			a.printFilter(f, 0)
		}
		return nil

	case "create":
		in := fs.String("in", "", "Parent filter path (a/b) for a nested filter")
		typ := fs.String("type", "", "Filter type")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 2, "POOL NAME [STRING...]"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		name, values := fs.Arg(1), fs.Args()[2:]

		var f *filters.Filter
		if *in != "" {
			parent, err := a.filter(pool, splitPath(*in))
			if err != nil {
				return err
			}
			f, err = m.CreateNestedFilter(parent, name, values)
			if err != nil {
				return err
			}
		} else {
			f, err = m.CreateFilter(pool, name, values)
			if err != nil {
				return err
			}
		}
		if f == nil {
			return fmt.Errorf("%w: filter %s", filters.ErrDuplicateName, name)
		}
		if *typ != "" {
			f.SetType(*typ)
			if err := f.Commit(); err != nil {
				return err
			}
		}
		a.printf("created filter %s\n", f.FullName())
		return nil

	case "rename":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 3, "POOL FILTER NEW"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		f, err := a.filter(pool, splitPath(fs.Arg(1)))
		if err != nil {
			return err
		}
		if err := m.RenameFilter(f, fs.Arg(2)); err != nil {
			return err
		}
		a.printf("renamed filter %s\n", f.FullName())
		return nil

	case "delete":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 2, "POOL FILTER"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		f, err := a.filter(pool, splitPath(fs.Arg(1)))
		if err != nil {
			return err
		}
		if err := m.DeleteFilter(f); err != nil {
			return err
		}
		a.printf("deleted filter %s/%s\n", pool.Name(), fs.Arg(1))
		return nil

	case "order":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 2, "POOL NAME..."); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		if err := m.OrderFilters(pool, fs.Args()[1:]); err != nil {
			return err
		}
		a.printf("%s\n", strings.Join(pool.FilterNames(), " "))
		return nil

	case "match":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 2, "POOL CANDIDATE"); err != nil {
			return err
		}
		_, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		for _, f := range pool.Filters() {
			if f.Matches(fs.Arg(1)) {
				a.printf("%s\n", f.FullName())
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown filters subcommand %q", errUsage, args[0])
}

func (a *App) printFilter(f *filters.Filter, depth int) {
	indent := strings.Repeat("  ", depth)
	a.printf("%s%s", indent, f.Name())
	if f.Type() != "" {
		a.printf(" (%s)", f.Type())
	}
	a.printf("\n")
	for _, fs := range f.Strings() {
		a.printf("%s  - %s\n", indent, fs.Value())
	}
	for _, nested := range f.Filters() {
		a.printFilter(nested, depth+1)
	}
}

// RunStrings dispatches the strings subcommands. Adding honors the filter's
// duplicate and single-string policies.
func (a *App) RunStrings(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: strings add|remove", errUsage)
	}
	var t target
	fs := newFlagSet("strings "+args[0], a.out)
	t.bind(fs)

	switch args[0] {
	case "add":
		pos := fs.Int("pos", -1, "Insert position (default: append)")
		typ := fs.String("type", "", "String type")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 3, "POOL FILTER VALUE"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		f, err := a.filter(pool, splitPath(fs.Arg(1)))
		if err != nil {
			return err
		}
		value := fs.Arg(2)
		if err := filters.CheckStringPolicy(f, value); err != nil {
			return err
		}
		str, err := m.AddFilterString(f, value, *pos)
		if err != nil {
			return err
		}
		if *typ != "" {
			str.SetType(*typ)
			if err := str.Commit(); err != nil {
				return err
			}
		}
		a.printf("added %q to %s\n", value, f.FullName())
		return nil

	case "remove":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if err := needArgs(fs, 3, "POOL FILTER VALUE"); err != nil {
			return err
		}
		m, pool, err := a.lookupPool(t, fs.Arg(0))
		if err != nil {
			return err
		}
		f, err := a.filter(pool, splitPath(fs.Arg(1)))
		if err != nil {
			return err
		}
		str, err := m.RemoveFilterString(f, fs.Arg(2))
		if err != nil {
			return err
		}
		if str == nil {
			return fmt.Errorf("%s has no string %q", f.FullName(), fs.Arg(2))
		}
		a.printf("removed %q from %s\n", fs.Arg(2), f.FullName())
		return nil
	}
	return fmt.Errorf("%w: unknown strings subcommand %q", errUsage, args[0])
}
