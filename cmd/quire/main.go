package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"text/template"

	"github.com/vampirenirmal/quire/internal/config"
	"github.com/vampirenirmal/quire/internal/session"
	"github.com/vampirenirmal/quire/internal/storage"
	"github.com/vampirenirmal/quire/internal/terminal"
	"github.com/vampirenirmal/quire/internal/web"
	"github.com/vampirenirmal/quire/internal/workers"
	"github.com/vampirenirmal/quire/pkg/quire/document"
	"github.com/vampirenirmal/quire/pkg/quire/hook"
	"github.com/vampirenirmal/quire/pkg/quire/render"
	"github.com/vampirenirmal/quire/pkg/quire/story"
)

//go:embed templates/*
var templates embed.FS

const usage = `Usage: quire [-config path] <command> [arguments]

Commands:
  play <story|file.md>   play a story in the terminal
  serve                  serve the library over HTTP
  check [-no-hooks] <file.md>...
                         parse stories and compile their templates and hooks
  new <title>            add a starter story to the library
  list                   list the stories in the library
  sessions               list saved checkpoints
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, terminal.ErrQuit) || errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     *config.Config
	store   *storage.FileSystem
	library *storage.Library
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
}

func run(args []string, in io.Reader, out io.Writer) error {
	global := flag.NewFlagSet("quire", flag.ContinueOnError)
	configPath := global.String("config", "", "config file path")
	global.Usage = func() { fmt.Fprint(global.Output(), usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store := storage.NewFileSystem(cfg.Library.Dir)
	a := &app{
		cfg:     cfg,
		store:   store,
		library: storage.NewLibrary(store),
		logger:  newLogger(cfg.Log, os.Stderr),
		in:      in,
		out:     out,
	}
	slog.SetDefault(a.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "play":
		return a.play(ctx, rest)
	case "serve":
		return a.serve(ctx, rest)
	case "check":
		return a.check(ctx, rest)
	case "new":
		return a.scaffold(ctx, rest)
	case "list":
		return a.list(ctx)
	case "sessions":
		return a.sessions(ctx)
	default:
		global.Usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) checkpoints() *session.CheckpointManager {
	if !a.cfg.Play.Checkpoints {
		return nil
	}
	return session.NewCheckpointManager(a.store)
}

func (a *app) formatter() render.Formatter {
	if a.cfg.Play.Format == "html" {
		return render.HTML()
	}
	return render.Markdown()
}

// readStory accepts a library name or a path to a story file and returns the
// name checkpoints are filed under together with the document text.
func (a *app) readStory(ctx context.Context, ref string) (string, string, error) {
	if strings.HasSuffix(ref, ".md") {
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", "", fmt.Errorf("reading story file: %w", err)
		}
		return storage.Slug(strings.TrimSuffix(filepath.Base(ref), ".md")), string(data), nil
	}
	text, err := a.library.Read(ctx, ref)
	if err != nil {
		return "", "", err
	}
	return ref, text, nil
}

func (a *app) play(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	resume := fs.String("resume", "", "resume the saved session with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("play needs exactly one story")
	}

	name, text, err := a.readStory(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	s, err := story.Load(text, story.WithFormatter(a.formatter()), story.WithLogger(a.logger))
	if err != nil {
		return err
	}

	promptOpts := []terminal.Option{terminal.WithWordWrap(a.cfg.Play.Width)}
	if a.cfg.Play.Format == "html" {
		promptOpts = append(promptOpts, terminal.WithPlainText())
	}
	p, err := terminal.New(a.in, a.out, promptOpts...)
	if err != nil {
		return err
	}

	var playOpts []story.PlayOption
	cm := a.checkpoints()
	if cm != nil {
		playOpts = append(playOpts, story.WithCheckpointer(cm.For(name)))
	}
	if *resume != "" {
		if cm == nil {
			return errors.New("resuming needs checkpoints enabled in the config")
		}
		record, err := cm.MarkAsResumed(ctx, *resume)
		if err != nil {
			return err
		}
		if record.Story != name {
			return fmt.Errorf("session %s belongs to story %q", *resume, record.Story)
		}
		playOpts = append(playOpts, story.ResumeFrom(record.Checkpoint))
	}

	globals, err := s.Play(ctx, p, playOpts...)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(globals, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding globals: %w", err)
	}
	fmt.Fprintf(a.out, "The end.\n%s\n", data)
	return nil
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", a.cfg.Server.Addr, "listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := a.cfg.Server
	cfg.Addr = *addr
	opts := []web.Option{web.WithLogger(a.logger)}
	if cm := a.checkpoints(); cm != nil {
		opts = append(opts, web.WithCheckpoints(cm))
	}

	return web.New(cfg, a.library, opts...).Run(ctx)
}

// check parses every file, compiles its templates and binds its hooks, and
// reports the first failure per file.
func (a *app) check(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	noHooks := fs.Bool("no-hooks", false, "skip compiling hook scripts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	files := fs.Args()
	if len(files) == 0 {
		return errors.New("check needs at least one file")
	}

	storyOpts := []story.Option{story.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	if *noHooks {
		storyOpts = append(storyOpts, story.WithBinder(hook.Ignore))
	}

	pool := workers.New[string, checkResult](workers.WithWorkers(runtime.NumCPU()), workers.WithLogger(a.logger))
	results, err := pool.Process(ctx, files, func(_ context.Context, file string) (checkResult, error) {
		return checkResult{err: checkFile(file, storyOpts...)}, nil
	})
	if err != nil {
		return err
	}

	failed := 0
	for i, file := range files {
		if err := results[i].err; err != nil {
			failed++
			fmt.Fprintf(a.out, "FAIL %s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(a.out, "ok   %s\n", file)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d stories failed", failed, len(files))
	}
	return nil
}

type checkResult struct {
	err error
}

func checkFile(file string, opts ...story.Option) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	body, err := document.Parse(string(data))
	if err != nil {
		return err
	}

	sources := make([]string, 0, len(body.Order))
	for _, id := range body.Order {
		chapter, ok := body.Chapter(id)
		if !ok {
			return fmt.Errorf("chapter %q is listed but missing", id)
		}
		sources = append(sources, chapter.Template)
	}
	if err := render.Check(sources); err != nil {
		return err
	}

	_, err = story.New(body, opts...)
	return err
}

type starter struct {
	Title  string
	Author string
}

func (a *app) scaffold(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("new needs a title")
	}
	data := starter{
		Title:  strings.Join(args, " "),
		Author: os.Getenv("USER"),
	}

	name := storage.Slug(data.Title)
	if name == "" {
		return fmt.Errorf("title %q has no usable characters", data.Title)
	}
	if _, err := a.library.Read(ctx, name); err == nil {
		return fmt.Errorf("story %q already exists", name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	text, err := generate("templates/story.md.tmpl", data)
	if err != nil {
		return err
	}
	if _, err := a.library.Write(ctx, name, text); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Created %s\n", filepath.Join(a.store.BaseDir(), name+".md"))
	fmt.Fprintf(a.out, "Play it with: quire play %s\n", name)
	return nil
}

func generate(path string, data starter) (string, error) {
	content, err := templates.ReadFile(path)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(filepath.Base(path)).
		Delims("[[", "]]").
		Funcs(template.FuncMap{"quote": strconv.Quote}).
		Parse(string(content))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (a *app) list(ctx context.Context) error {
	names, err := a.library.Names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(a.out, name)
	}
	return nil
}

func (a *app) sessions(ctx context.Context) error {
	cm := session.NewCheckpointManager(a.store)
	records, err := cm.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		chapter := r.Checkpoint.Chapter
		if chapter == "" {
			chapter = "(ended)"
		}
		fmt.Fprintf(a.out, "%s  %-20s turn %-3d %-20s %s\n",
			r.Checkpoint.SessionID, r.Story, r.Checkpoint.Turn, chapter,
			r.Checkpoint.Timestamp.Format("2006-01-02 15:04"))
	}
	return nil
}
