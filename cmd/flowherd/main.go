package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"flowherd/pkg/config"
	"flowherd/pkg/container"
	"flowherd/pkg/environment"
	"flowherd/pkg/progress"
	"flowherd/pkg/task"
	"flowherd/pkg/translate"
	"flowherd/pkg/version"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  flowherd run     -wf <workflow.sh> [-id <tid>] [-inputs <inputs.json>] [-env <id>] [-dir <outdir>] [-validate ...]")
	fmt.Fprintln(os.Stderr, "  flowherd resume  -dir <outdir>")
	fmt.Fprintln(os.Stderr, "  flowherd watch   -dir <outdir>")
	fmt.Fprintln(os.Stderr, "  flowherd abort   -dir <outdir>")
	fmt.Fprintln(os.Stderr, "  flowherd inspect -dir <outdir>")
	fmt.Fprintln(os.Stderr, "  flowherd version")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "resume":
		resumeCmd(os.Args[2:])
	case "watch":
		watchCmd(os.Args[2:])
	case "abort":
		abortCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	case "version", "-v":
		log.Printf("flowherd version=%s", version.Build)
	default:
		usage()
	}
}

// loadSetup loads the configuration and builds the environment registry. The
// config path comes from the flag or the FLOWHERD_CONFIG env var.
func loadSetup(cfgPath string) (config.Config, *environment.Registry) {
	if cfgPath == "" {
		cfgPath = os.Getenv("FLOWHERD_CONFIG")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	reg, err := environment.NewRegistry(cfg.Environments)
	if err != nil {
		log.Fatalf("build environment registry: %v", err)
	}
	return cfg, reg
}

// openStore opens the progress ledger for a task directory using the
// configured backend.
func openStore(cfg config.Config, dir string) progress.Store {
	var (
		store progress.Store
		err   error
	)
	if cfg.Store == "consul" {
		store, err = progress.NewConsul(cfg.ConsulAddr, dir)
	} else {
		store, err = progress.Open(dir)
	}
	if err != nil {
		log.Fatalf("open progress store in %s: %v", dir, err)
	}
	return store
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path (env FLOWHERD_CONFIG)")
	wfPath := fs.String("wf", "", "workflow source file (required)")
	tid := fs.String("id", "", "task id (generated when empty)")
	inputsPath := fs.String("inputs", "", "JSON inputs file")
	containers := fs.String("containers", "", "comma separated container references")
	envID := fs.String("env", envDefault(), "environment id (env FLOWHERD_ENV)")
	dir := fs.String("dir", "", "task output directory (defaults to ./tasks/<id>)")
	hints := fs.String("hints", "", "comma separated scheduling hints, k=v")
	validate := fs.Bool("validate", false, "run the validation-wrapped variant as well")
	truth := fs.String("truth", "", "validation truth set (with -validate)")
	reference := fs.String("reference", "", "validation reference (with -validate)")
	intervals := fs.String("intervals", "", "validation intervals (optional, with -validate)")
	fields := fs.String("fields", "", "comma separated output fields to validate (with -validate)")
	_ = fs.Parse(args)

	if *wfPath == "" {
		log.Fatal("workflow source file is required (flag -wf)")
	}

	cfg, reg := loadSetup(*cfgPath)
	env, err := reg.Get(*envID)
	if err != nil {
		log.Fatalf("resolve environment: %v", err)
	}

	wf := loadWorkflow(*wfPath, *tid, *inputsPath, *containers)
	if *dir == "" {
		*dir = filepath.Join("tasks", wf.ID)
	}

	var val *translate.ValidationRequirements
	if *validate {
		if *truth == "" || *reference == "" || *fields == "" {
			log.Fatal("-validate requires -truth, -reference and -fields")
		}
		val = &translate.ValidationRequirements{
			Truth:     *truth,
			Reference: *reference,
			Intervals: *intervals,
			Fields:    splitAndTrim(*fields),
		}
	}

	translator := translate.ShellTranslator{}
	if cfg.PinDigests {
		translator.Digests = container.NewDockerHub()
	}

	m, err := task.Create(task.Params{
		TID:          wf.ID,
		Dir:          *dir,
		Env:          env,
		Store:        openStore(cfg, *dir),
		Translator:   translator,
		PollInterval: cfg.Interval(),
	}, val != nil)
	if err != nil {
		log.Fatalf("create task: %v", err)
	}
	defer m.Close()

	opts := translate.Options{Hints: parseHints(*hints)}
	if err := m.Run(wf, val, opts); err != nil {
		log.Fatalf("task %s: %v", m.TID(), err)
	}
}

func resumeCmd(args []string) {
	m := managerFromDir("resume", args)
	defer m.Close()
	if err := m.Resume(); err != nil {
		log.Fatalf("task %s: %v", m.TID(), err)
	}
}

func watchCmd(args []string) {
	m := managerFromDir("watch", args)
	defer m.Close()
	if err := m.Watch(); err != nil {
		log.Fatalf("task %s: %v", m.TID(), err)
	}
}

func abortCmd(args []string) {
	m := managerFromDir("abort", args)
	defer m.Close()
	if err := m.Abort(); err != nil {
		log.Fatalf("task %s: %v", m.TID(), err)
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path (env FLOWHERD_CONFIG)")
	dir := fs.String("dir", "", "task output directory (required)")
	_ = fs.Parse(args)
	if *dir == "" {
		log.Fatal("task directory is required (flag -dir)")
	}

	cfg, _ := loadSetup(*cfgPath)
	store := openStore(cfg, *dir)
	defer store.Close()

	infoKeys := []progress.InfoKey{
		progress.InfoTaskID, progress.InfoEnvironment, progress.InfoEngine,
		progress.InfoEngineTID, progress.InfoValidating, progress.InfoStatus,
		progress.InfoError,
	}
	for _, key := range infoKeys {
		v, err := store.GetInfo(key)
		if err != nil {
			log.Fatalf("read ledger: %v", err)
		}
		if v != "" {
			fmt.Printf("%-12s %s\n", key+":", v)
		}
	}
	fmt.Println("steps:")
	for _, step := range progress.Steps() {
		done, err := store.HasCompleted(step)
		if err != nil {
			log.Fatalf("read ledger: %v", err)
		}
		mark := " "
		if done {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, step)
	}
	if err := progress.Validate(store); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

// managerFromDir rehydrates a task from its directory for the resume-style
// subcommands; environment and engine task id come from the ledger.
func managerFromDir(name string, args []string) *task.Manager {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "", "config file path (env FLOWHERD_CONFIG)")
	dir := fs.String("dir", "", "task output directory (required)")
	_ = fs.Parse(args)
	if *dir == "" {
		log.Fatal("task directory is required (flag -dir)")
	}

	cfg, reg := loadSetup(*cfgPath)
	m, err := task.FromPath(*dir, reg, task.Params{
		Store:        openStore(cfg, *dir),
		PollInterval: cfg.Interval(),
	})
	if err != nil {
		log.Fatalf("rehydrate task from %s: %v", *dir, err)
	}
	return m
}

func loadWorkflow(wfPath, tid, inputsPath, containers string) *translate.Workflow {
	src, err := os.ReadFile(wfPath)
	if err != nil {
		log.Fatalf("read workflow source: %v", err)
	}
	if tid == "" {
		base := filepath.Base(wfPath)
		tid = strings.TrimSuffix(base, filepath.Ext(base))
	}
	wf := &translate.Workflow{
		ID:         tid,
		Source:     string(src),
		Containers: splitAndTrim(containers),
	}
	if inputsPath != "" {
		b, err := os.ReadFile(inputsPath)
		if err != nil {
			log.Fatalf("read inputs file: %v", err)
		}
		if err := json.Unmarshal(b, &wf.Inputs); err != nil {
			log.Fatalf("parse inputs file: %v", err)
		}
	}
	return wf
}

func envDefault() string {
	if v := os.Getenv("FLOWHERD_ENV"); v != "" {
		return v
	}
	return "local"
}

func parseHints(s string) map[string]string {
	pairs := splitAndTrim(s)
	if len(pairs) == 0 {
		return nil
	}
	hints := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			log.Fatalf("bad hint %q, want k=v", p)
		}
		hints[k] = v
	}
	return hints
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
