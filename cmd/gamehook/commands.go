package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stevedomin/termtable"

	"github.com/k2io/gamehook"
	"github.com/k2io/gamehook/internal/config"
	"github.com/k2io/gamehook/internal/logging"
	"github.com/k2io/gamehook/internal/module"
	"github.com/k2io/gamehook/internal/raytrace"
	"github.com/k2io/gamehook/internal/scan"
)

// load maps the executable and builds a locator over it.
func load(path string) (*module.Image, *scan.Locator, error) {
	img, err := module.LoadImage(path)
	if err != nil {
		return nil, nil, err
	}
	logging.For(log, "CLI").Debugf("%s mapped @ %x (%x bytes, %d functions)",
		filepath.Base(path), img.Region.Base, img.Region.Size, len(img.Functions))
	return img, scan.NewLocator(img.Mem, img.Region, img.Functions), nil
}

func newTable(header ...string) *termtable.Table {
	t := termtable.NewTable(nil, &termtable.TableOptions{Padding: 2})
	t.SetHeader(header)
	return t
}

func newStrRefCmd() *cobra.Command {
	var wide bool
	cmd := &cobra.Command{
		Use:   "strref <exe> <literal>",
		Short: "Find the code referencing a string literal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, loc, err := load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			str, ok := loc.FindString(args[1], wide)
			if !ok {
				return fmt.Errorf("string %q not found", args[1])
			}
			fmt.Fprintf(out, "string    %x\n", str)
			ref, ok := loc.FindStringRef(args[1], wide)
			if !ok {
				return fmt.Errorf("string %q is not referenced", args[1])
			}
			fmt.Fprintf(out, "reference %x\n", ref)
			if fn, ok := loc.FindFunctionStart(ref); ok {
				fmt.Fprintf(out, "function  %x\n", fn)
			}
			if fn, ok := loc.FindFunctionStartWithCall(ref); ok {
				fmt.Fprintf(out, "called    %x\n", fn)
			}
			if fn, ok := loc.FindVirtualFunctionStart(ref); ok {
				fmt.Fprintf(out, "virtual   %x\n", fn)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wide, "wide", false, "search the UTF-16 encoding")
	return cmd
}

func newSigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sig <exe> <pattern>",
		Short: `Find the first match of a byte pattern such as "48 8B ?? CE"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := scan.ParseSignature(args[1])
			if err != nil {
				return err
			}
			_, loc, err := load(args[0])
			if err != nil {
				return err
			}
			addr, ok := loc.FindSignature(sig)
			if !ok {
				return fmt.Errorf("signature %s not found", sig)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", addr)
			return nil
		},
	}
}

func newRTOffsetCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rtoffset <exe>",
		Short: "Run the ray trace discovery and print the mode offset votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := variantFor(name, args[0])
			if err != nil {
				return err
			}
			_, loc, err := load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			d, err := raytrace.Discover(loc, v)
			fmt.Fprintf(out, "variant   %s\n", v.Name)
			if len(d.Votes) > 0 {
				t := newTable("OFFSET", "COUNT")
				for _, vote := range d.Votes {
					t.AddRow([]string{fmt.Sprintf("%x", vote.Offset), fmt.Sprint(vote.Count)})
				}
				fmt.Fprintln(out, t.Render())
			}
			if d.DrawImpl != 0 {
				fmt.Fprintf(out, "draw impl %x\nmode      %x\n", d.DrawImpl, d.ModeField.Offset)
			}
			if d.Draw != 0 {
				fmt.Fprintf(out, "draw      %x\n", d.Draw)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&name, "variant", "", "build variant, detected from the file name when empty")
	return cmd
}

func variantFor(name, exe string) (*config.Variant, error) {
	if name == "" {
		return config.Detect(exe)
	}
	v, ok := config.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", name)
	}
	return v, nil
}

func newVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the supported game builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := config.Variants()
			if err != nil {
				return err
			}
			t := newTable("NAME", "TDB", "ASPECT", "RT", "CRASH FIX", "EXECUTABLES")
			for _, n := range config.Names(all) {
				v := all[n]
				t.AddRow([]string{
					n,
					fmt.Sprint(v.TDB),
					fmt.Sprintf("%.4f-%.4f", v.MinAspect, v.MaxAspect),
					fmt.Sprint(v.RayTracing),
					fmt.Sprint(v.CrashFix),
					strings.Join(v.Executables, ","),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func newSymbolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "symbols <object> [name...]",
		Short: "Print symbol addresses of an ELF or PE file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syms, err := gamehook.GetSymbols(args[0])
			if err != nil {
				return err
			}
			names := args[1:]
			if len(names) == 0 {
				for n := range syms {
					names = append(names, n)
				}
				sort.Strings(names)
			}
			out := cmd.OutOrStdout()
			for _, n := range names {
				addr, ok := syms[n]
				if !ok {
					return fmt.Errorf("symbol %q not found", n)
				}
				fmt.Fprintf(out, "%016x %s\n", addr, n)
			}
			return nil
		},
	}
}
