// cmd/gridctl/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gridctl/internal/configrepo"
	"gridctl/internal/device"
	"gridctl/internal/errcode"
	"gridctl/internal/link"
	"gridctl/internal/logging"
	"gridctl/internal/usbenum"
	"gridctl/internal/wire"
)

const discoveryTimeout = 3 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := logging.Default()
	if len(args) == 0 {
		usage()
		return 2
	}

	var err error
	switch args[0] {
	case "devices":
		err = cmdDevices()
	case "clear":
		err = cmdClear(args[1:])
	case "pull":
		err = cmdPull(args[1:])
	case "push":
		err = cmdPush(args[1:])
	default:
		usage()
		return 2
	}
	if err != nil {
		log.Error(err, "%s failed", args[0])
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: gridctl <devices|clear|pull|push> [flags]")
}

func cmdDevices() error {
	devs, err := usbenum.Enumerate(usbenum.NewSysfsLister())
	if err != nil {
		return err
	}
	for _, d := range devs {
		fmt.Printf("%s\t%s\t%s\t%s\n", d.Path, d.VidPid, d.Product, d.SerialNumber)
	}
	return nil
}

func pageFilterFlags(fs *flag.FlagSet) *pageFilterFlagValues {
	v := &pageFilterFlagValues{}
	fs.StringVar(&v.pages, "pages", "", "comma-separated page list or ranges")
	fs.StringVar(&v.skipPages, "skip-pages", "", "comma-separated page list or ranges to exclude")
	return v
}

type pageFilterFlagValues struct {
	pages, skipPages string
}

func (v *pageFilterFlagValues) resolve() (device.PageFilter, error) {
	var f device.PageFilter
	var err error
	if v.pages != "" {
		if f.Include, err = device.ParsePageList(v.pages); err != nil {
			return f, err
		}
	}
	if v.skipPages != "" {
		if f.Exclude, err = device.ParsePageList(v.skipPages); err != nil {
			return f, err
		}
	}
	return f, nil
}

func openDevice(path string) (*link.Link, *device.Device, error) {
	lnk, err := link.Open(link.Options{Path: path, Codec: wire.NewBRCCodec()})
	if err != nil {
		return nil, nil, err
	}
	dev := device.Open(lnk, wire.NewBRCCodec(), logging.Default())
	return lnk, dev, nil
}

func resolvePortPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	devs, err := usbenum.Enumerate(usbenum.NewSysfsLister())
	if err != nil {
		return "", err
	}
	if len(devs) == 0 {
		return "", errcode.New(errcode.Connection, "gridctl", "no Grid device found")
	}
	return devs[0].Path, nil
}

func cmdClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "report without erasing")
	path := fs.String("d", "", "serial device path")
	fs.Parse(args)

	portPath, err := resolvePortPath(*path)
	if err != nil {
		return err
	}
	if *dryRun {
		fmt.Printf("would erase NVM on %s\n", portPath)
		return nil
	}
	lnk, dev, err := openDevice(portPath)
	if err != nil {
		return err
	}
	defer lnk.Close()
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return dev.EraseNvm(ctx)
}

func cmdPull(args []string) error {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)
	path := fs.String("d", "", "serial device path")
	force := fs.Bool("f", false, "overwrite existing directory contents")
	filterFlags := pageFilterFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		return errcode.New(errcode.Config, "gridctl.pull", "pull requires a destination directory")
	}
	dir := rest[0]
	if !*force {
		if _, err := os.Stat(dir); err == nil {
			entries, _ := os.ReadDir(dir)
			if len(entries) > 0 {
				return errcode.New(errcode.Config, "gridctl.pull", "destination not empty; pass -f to overwrite")
			}
		}
	}

	filter, err := filterFlags.resolve()
	if err != nil {
		return err
	}
	portPath, err := resolvePortPath(*path)
	if err != nil {
		return err
	}
	lnk, dev, err := openDevice(portPath)
	if err != nil {
		return err
	}
	defer lnk.Close()
	defer dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	modules := dev.WaitForModules(ctx, discoveryTimeout)
	cancel()

	repo := configrepo.New(dir)
	for i, mod := range modules {
		fetchCtx, fetchCancel := context.WithTimeout(context.Background(), time.Minute)
		cfg, err := dev.FetchModuleConfig(fetchCtx, mod, filter, nil)
		fetchCancel()
		if err != nil {
			return err
		}
		if err := repo.WriteModule(i+1, cfg, time.Now()); err != nil {
			return err
		}
		fmt.Printf("pulled %s (%d,%d)\n", mod.TypeName, mod.DX, mod.DY)
	}
	return nil
}

func cmdPush(args []string) error {
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	path := fs.String("d", "", "serial device path")
	dryRun := fs.Bool("dry-run", false, "validate without sending")
	clearFirst := fs.Bool("clear", false, "erase NVM before pushing")
	noStore := fs.Bool("no-store", false, "skip the final store-to-flash")
	filterFlags := pageFilterFlags(fs)
	fs.Parse(args)

	rest := fs.Args()
	if len(rest) != 1 {
		return errcode.New(errcode.Config, "gridctl.push", "push requires a source directory")
	}
	dir := rest[0]
	filter, err := filterFlags.resolve()
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errcode.Wrap(errcode.Config, "gridctl.push", err)
	}
	repo := configrepo.New(dir)
	var configs []device.ModuleConfig
	var diags []errcode.Diagnostic
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfg, warnings, err := repo.ReadModule(e.Name())
		if err != nil {
			diags = append(diags, errcode.Diagnostic{Path: e.Name(), Msg: err.Error()})
			continue
		}
		for _, w := range warnings {
			diags = append(diags, errcode.Diagnostic{Path: e.Name(), Msg: w})
		}
		cfg = filterConfigPages(cfg, filter)
		configs = append(configs, cfg)
	}
	if len(diags) > 0 {
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d.String())
		}
	}
	if *dryRun {
		fmt.Printf("would push %d module(s)\n", len(configs))
		return nil
	}

	portPath, err := resolvePortPath(*path)
	if err != nil {
		return err
	}
	lnk, dev, err := openDevice(portPath)
	if err != nil {
		return err
	}
	defer lnk.Close()
	defer dev.Close()

	if *clearFirst {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		err := dev.EraseNvm(ctx)
		cancel()
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	known := dev.WaitForModules(ctx, discoveryTimeout)
	cancel()
	byPosition := map[device.ModuleKey]device.ModuleInfo{}
	for _, m := range known {
		byPosition[m.Key()] = m
	}

	for _, cfg := range configs {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Minute)
		target := cfg.Module
		if match, ok := byPosition[cfg.Module.Key()]; ok {
			target = match
		}
		err := dev.SendModuleConfig(sendCtx, cfg, &target)
		sendCancel()
		if err != nil {
			return err
		}
		fmt.Printf("pushed %s (%d,%d)\n", cfg.Module.TypeName, cfg.Module.DX, cfg.Module.DY)
	}

	if !*noStore {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := dev.StoreToFlash(ctx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// filterConfigPages elides pages not selected by filter, keeping
// push's page-filter law in agreement with fetch's (spec.md §8 property 4).
func filterConfigPages(cfg device.ModuleConfig, filter device.PageFilter) device.ModuleConfig {
	selected := map[int]bool{}
	for _, p := range filter.Resolve() {
		selected[p] = true
	}
	var pages []device.PageConfig
	for _, p := range cfg.Pages {
		if selected[p.Page] {
			pages = append(pages, p)
		}
	}
	cfg.Pages = pages
	return cfg
}
