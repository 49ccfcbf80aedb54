package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"taskboard/board-api/domain"
	"taskboard/board-client/viewmodel"
)

var errUsage = errors.New("usage")

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("load .env")
	}
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type config struct {
	endpoint    string
	loadTimeout time.Duration
	width       int
	debug       bool
}

func (c *config) addFlags(fs *pflag.FlagSet) {
	endpoint := os.Getenv("BOARD_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:5001"
	}
	fs.StringVar(&c.endpoint, "endpoint", endpoint, "board server URL (env BOARD_ENDPOINT)")
	fs.DurationVar(&c.loadTimeout, "load-timeout", 3*time.Second, "how long to wait for the first snapshot")
	fs.IntVar(&c.width, "width", 0, "column width in cells")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging")
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errUsage
	}
	name, args := args[0], args[1:]

	var cfg config
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cfg.addFlags(fs)

	var action func(ctx context.Context, s *session) error
	switch name {
	case "watch":
		action = watch
	case "create":
		title := fs.String("title", "", "task title")
		description := fs.String("description", "", "task description")
		priority := fs.String("priority", domain.PriorityMedium, "Low, Medium or High")
		category := fs.String("category", domain.CategoryFeature, "Bug, Feature or Enhancement")
		attach := fs.StringSlice("attach", nil, "files to list as attachments (metadata only)")
		action = func(ctx context.Context, s *session) error {
			files, err := fileInfos(*attach)
			if err != nil {
				return err
			}
			for field, value := range map[string]string{
				viewmodel.FieldTitle:       *title,
				viewmodel.FieldDescription: *description,
				viewmodel.FieldPriority:    *priority,
				viewmodel.FieldCategory:    *category,
			} {
				if err := s.vm.SetDraftField(field, value); err != nil {
					return err
				}
			}
			s.vm.AttachFiles(files)
			return s.mutate(ctx, s.vm.CreateTask)
		}
	case "edit":
		title := fs.String("title", "", "new title")
		description := fs.String("description", "", "new description")
		priority := fs.String("priority", "", "new priority")
		category := fs.String("category", "", "new category")
		action = func(ctx context.Context, s *session) error {
			id, err := argAt(fs, 0, "edit <id>")
			if err != nil {
				return err
			}
			if err := s.vm.StartEdit(id); err != nil {
				return err
			}
			for field, value := range map[string]*string{
				viewmodel.FieldTitle:       title,
				viewmodel.FieldDescription: description,
				viewmodel.FieldPriority:    priority,
				viewmodel.FieldCategory:    category,
			} {
				if fs.Changed(field) {
					if err := s.vm.EditField(id, field, *value); err != nil {
						return err
					}
				}
			}
			return s.mutate(ctx, func(ctx context.Context) error { return s.vm.SaveEdit(ctx, id) })
		}
	case "move":
		action = func(ctx context.Context, s *session) error {
			id, err := argAt(fs, 0, "move <id> <status>")
			if err != nil {
				return err
			}
			status, err := argAt(fs, 1, "move <id> <status>")
			if err != nil {
				return err
			}
			return s.mutate(ctx, func(ctx context.Context) error { return s.vm.MoveTask(ctx, id, status) })
		}
	case "delete":
		action = func(ctx context.Context, s *session) error {
			id, err := argAt(fs, 0, "delete <id>")
			if err != nil {
				return err
			}
			return s.mutate(ctx, func(ctx context.Context) error { return s.vm.DeleteTask(ctx, id) })
		}
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", name)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(log.WarnLevel)
	if cfg.debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := startSession(ctx, cfg, logger)
	return action(ctx, s)
}

func argAt(fs *pflag.FlagSet, i int, usage string) (string, error) {
	if fs.NArg() <= i {
		return "", fmt.Errorf("usage: board-client %s", usage)
	}
	return fs.Arg(i), nil
}

func fileInfos(paths []string) ([]viewmodel.FileInfo, error) {
	files := make([]viewmodel.FileInfo, 0, len(paths))
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		files = append(files, viewmodel.FileInfo{
			Name: filepath.Base(p),
			Type: mime.TypeByExtension(filepath.Ext(p)),
		})
	}
	return files, nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `board-client: terminal client for the collaborative task board.

Usage:
  board-client watch
  board-client create --title TITLE [--description TEXT] [--priority P] [--category C] [--attach FILE]...
  board-client edit <id> [--title TITLE] [--description TEXT] [--priority P] [--category C]
  board-client move <id> <todo|in-progress|done>
  board-client delete <id>

Common flags:
  --endpoint URL        board server (default $BOARD_ENDPOINT or http://localhost:5001)
  --load-timeout DUR    wait for the first snapshot (default 3s)
  --width N             column width
  --debug               debug logging
`)
}
