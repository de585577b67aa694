// Package cmd implements the ppd command line.
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/ppd/internal/config"
	"github.com/agentic-research/ppd/internal/dump"
	"github.com/agentic-research/ppd/internal/logging"
	"github.com/agentic-research/ppd/internal/store"
)

// flagNames maps setting keys to the persistent flags carrying them.
var flagNames = map[string]string{
	config.KeyDatabase:      "database",
	config.KeyDumpDirectory: "dump-dir",
	config.KeyLayout:        "layout",
	config.KeyVerbose:       "verbose",
}

// NewRootCmd builds the ppd command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ppd",
		Short: "Organize pentest output as records, files and a computed filesystem",
		Long: `ppd keeps schema-less records and attached files in a SQLite database.

Records can be imported, queried, dumped into a directory of YAML and
plain files, and mounted as a filesystem whose layout is computed from
the records themselves.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringP("database", "d", config.DefaultDatabase, "database file (env PPD_DATABASE)")
	pf.StringP("dump-dir", "D", "", "directory to dump to; needs --layout (env PPD_DUMP_DIRECTORY)")
	pf.StringP("layout", "L", "", "YAML dump rules file (env PPD_LAYOUT)")
	pf.BoolP("verbose", "v", false, "verbose logging")

	root.AddCommand(
		newImportCmd(),
		newListCmd(),
		newAddCmd(),
		newGetCmd(),
		newUpdateCmd(),
		newRmCmd(),
		newAttachCmd(),
		newCatCmd(),
		newDumpCmd(),
		newFSCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return fang.Execute(ctx, NewRootCmd())
}

// session is the per-invocation state shared by the subcommands.
type session struct {
	settings config.Settings
	log      *zap.Logger
	store    *store.Store
	dumper   *dump.Dumper
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("close database", zap.Error(err))
		}
	}
	_ = s.log.Sync()
}

// storeContent defers the dumper's content reads to a store opened after
// the dumper itself.
type storeContent struct {
	st *store.Store
}

func (c *storeContent) GetFileContents(ctx context.Context, id int64) ([]byte, error) {
	return c.st.GetFileContents(ctx, id)
}

// openSession resolves settings, builds the logger, and opens the database.
// When both a dump directory and rules are configured the store mirrors
// every mutation to disk, reporting written paths on out.
func openSession(cmd *cobra.Command, out io.Writer) (*session, error) {
	settings, err := config.Resolve(cmd.Flags(), flagNames)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(settings.Verbose)
	if err != nil {
		return nil, err
	}
	s := &session{settings: settings, log: log}

	opts := []store.Option{store.WithLogger(log)}
	content := &storeContent{}
	if settings.Layout != "" {
		rules, err := config.LoadDumpConfig(settings.Layout)
		if err != nil {
			return nil, err
		}
		s.dumper, err = dump.New(settings.DumpDirectory, rules.Rules,
			dump.WithContent(content),
			dump.WithLogger(log),
			dump.WithReporter(func(p string) { _, _ = fmt.Fprintln(out, p) }),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", settings.Layout, err)
		}
		opts = append(opts, store.WithDumper(s.dumper), store.WithAutoDump(settings.AutoDump()))
	}

	st, err := store.Open(settings.Database, opts...)
	if err != nil {
		return nil, err
	}
	content.st = st
	s.store = st
	log.Debug("opened database", zap.String("path", settings.Database), zap.Bool("auto_dump", settings.AutoDump()))
	return s, nil
}
