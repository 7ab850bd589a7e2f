// Command qsynth prints or runs the QEMU command line of a guest definition.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/hostres"
	"github.com/onkernel/qsynth/lib/launch"
	"github.com/onkernel/qsynth/lib/logger"
	"github.com/onkernel/qsynth/lib/paths"
	"github.com/onkernel/qsynth/lib/synth"
)

type options struct {
	guest      string
	capsFile   string
	probe      string
	version    string
	dataDir    string
	arch       string
	format     string
	exec       string
	detach     bool
	dryRun     bool
	paused     bool
	privileged bool
	verbose    bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("qsynth", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.guest, "guest", "", "guest definition (YAML or JSON); - reads stdin")
	fs.StringVar(&o.capsFile, "caps", "", "capability file")
	fs.StringVar(&o.probe, "probe", "", "QMP socket of a running QEMU to probe for capabilities")
	fs.StringVar(&o.version, "qemu-version", "", "QEMU version for the built-in capability table (default: ask -exec, else 8.2)")
	fs.StringVar(&o.dataDir, "data-dir", "/var/lib/qsynth", "qsynth data directory")
	fs.StringVar(&o.arch, "arch", "", "host architecture (default: this host)")
	fs.StringVar(&o.format, "format", "shell", "output format: shell, lines or json")
	fs.StringVar(&o.exec, "exec", "", "run this QEMU binary with the synthesized command line; auto finds it")
	fs.BoolVar(&o.detach, "detach", false, "with -exec, start QEMU in the background and print its pid")
	fs.BoolVar(&o.dryRun, "dry-run", true, "use placeholders instead of host resources")
	fs.BoolVar(&o.paused, "paused", false, "start with vCPUs stopped (-S)")
	fs.BoolVar(&o.privileged, "privileged", os.Geteuid() == 0, "system deployment")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.guest == "" {
		return nil, fmt.Errorf("-guest is required")
	}
	if o.exec != "" && o.dryRun {
		return nil, fmt.Errorf("-exec needs -dry-run=false")
	}
	if o.detach && o.exec == "" {
		return nil, fmt.Errorf("-detach needs -exec")
	}
	switch o.format {
	case "shell", "lines", "json":
	default:
		return nil, fmt.Errorf("unknown format %q", o.format)
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "qsynth: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	ctx = logger.AddToContext(ctx, log)

	def, err := readGuest(o.guest, stdin)
	if err != nil {
		return err
	}

	arch := o.arch
	if arch == "" {
		arch = domain.HostArch()
	}
	if o.exec == "auto" {
		if o.exec, err = launch.FindBinary(arch); err != nil {
			return err
		}
	}

	src := synth.CapsSource{File: o.capsFile, ProbeSocket: o.probe, Version: o.version}
	if o.version == "" {
		src.Binary = o.exec
		src.Version = "8.2"
	}
	p := paths.New(o.dataDir)
	set, err := synth.LoadCapabilities(ctx, src)
	if err != nil {
		return err
	}

	mgr := synth.NewManager(p, set, synth.Config{
		Arch:       arch,
		FIPS:       synth.DetectFIPS(""),
		Privileged: o.privileged,
		Sandbox:    true,
	}, hostres.New(hostres.Options{}))

	res, err := mgr.Synthesize(ctx, def, synth.Request{DryRun: o.dryRun, StartPaused: o.paused})
	if err != nil {
		return err
	}
	defer res.Close()

	if o.detach {
		sock, err := p.GuestMonitorSocket(def.Name)
		if err != nil {
			return err
		}
		dir, err := p.GuestDir(def.Name)
		if err != nil {
			return err
		}
		pid, err := launch.Start(ctx, res, launch.Options{
			Binary:        o.exec,
			MonitorSocket: sock,
			LogFile:       filepath.Join(dir, "qemu.log"),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, pid)
		return nil
	}
	if o.exec != "" {
		cmd := res.Command(ctx, o.exec)
		cmd.Stdout, cmd.Stderr = stdout, stderr
		return cmd.Run()
	}

	switch o.format {
	case "json":
		files := make([]string, len(res.Files))
		for i, f := range res.Files {
			files[i] = f.Name()
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"argv": res.Argv(), "env": res.Env, "files": files})
	case "lines":
		for _, a := range res.Args {
			fmt.Fprintln(stdout, a.String())
		}
	default:
		quoted := make([]string, 0, len(res.Env)+len(res.Args)*2)
		for _, e := range res.Env {
			quoted = append(quoted, shellQuote(e))
		}
		for _, a := range res.Argv() {
			quoted = append(quoted, shellQuote(a))
		}
		fmt.Fprintln(stdout, strings.Join(quoted, " \\\n  "))
	}
	for i, f := range res.Files {
		fmt.Fprintf(stderr, "fd %d: %s\n", 3+i, f.Name())
	}
	return nil
}

func readGuest(path string, stdin io.Reader) (*domain.Guest, error) {
	if path != "-" {
		return domain.LoadFile(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return domain.Parse(data)
}

// shellQuote single-quotes s when it holds anything a shell would interpret.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_=.,:/@+%", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
