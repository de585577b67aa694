package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/glob"
	"github.com/agentic-research/ppd/internal/store"
)

func addFilterFlag(c *cobra.Command, filters *[]string) {
	c.Flags().StringArrayVarP(filters, "filter", "f", nil, "filter as key:glob_pattern (repeatable)")
}

// --------------------------------
// import
// --------------------------------

func newImportCmd() *cobra.Command {
	var selector string
	c := &cobra.Command{
		Use:   "import",
		Short: "Import YAML objects from stdin",
		Long: `Import reads a YAML mapping, or a list of mappings, from stdin and adds
each as a record. With --select, a JSONPath expression picks the objects
out of a larger document first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			var doc any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse stdin: %w", err)
			}
			objs, err := selectObjects(doc, selector)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			for _, obj := range objs {
				id, err := s.store.AddObject(cmd.Context(), obj)
				if err != nil {
					return err
				}
				s.log.Debug("imported object", zap.Int64("id", id))
			}
			return nil
		},
	}
	c.Flags().StringVarP(&selector, "select", "s", "", "JSONPath selecting the objects to import")
	return c
}

// selectObjects flattens doc, or the JSONPath matches within it, into
// records. Lists contribute each element.
func selectObjects(doc any, selector string) ([]store.Record, error) {
	matches := []any{doc}
	if selector != "" {
		x, err := jp.ParseString(selector)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
		}
		matches = x.Get(doc)
	}

	var out []store.Record
	var add func(v any) error
	add = func(v any) error {
		switch t := v.(type) {
		case nil:
			return nil
		case map[string]any:
			out = append(out, store.Record(t))
			return nil
		case []any:
			for _, e := range t {
				if err := add(e); err != nil {
					return err
				}
			}
			return nil
		default:
			return fmt.Errorf("cannot import %T: expected a mapping", v)
		}
	}
	for _, m := range matches {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// --------------------------------
// list
// --------------------------------

func newListCmd() *cobra.Command {
	var (
		filters []string
		idsOnly bool
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List objects matching certain criteria",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := parseFilter(filters)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			recs, err := s.store.ListObjects(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if idsOnly {
				for _, rec := range recs {
					_, _ = fmt.Fprintln(out, rec.ID())
				}
				return nil
			}
			return writeYAML(out, recs)
		},
	}
	addFilterFlag(c, &filters)
	c.Flags().BoolVarP(&idsOnly, "id", "i", false, "print only the object ids, one per line")
	return c
}

func writeYAML(w io.Writer, v any) error {
	data, err := api.MarshalYAML(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// --------------------------------
// add
// --------------------------------

func newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add key:value...",
		Short: "Create an object with the given metadata values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			id, err := s.store.AddObject(cmd.Context(), meta)
			if err != nil {
				return err
			}
			s.log.Debug("added object", zap.Int64("id", id))
			return nil
		},
	}
}

// --------------------------------
// get
// --------------------------------

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get id...",
		Short: "Get objects by their ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			recs := make([]store.Record, 0, ids.GetCardinality())
			it := ids.Iterator()
			for it.HasNext() {
				rec, err := s.store.GetObject(cmd.Context(), int64(it.Next()))
				if err != nil {
					return err
				}
				recs = append(recs, rec)
			}
			return writeYAML(cmd.OutOrStdout(), recs)
		},
	}
}

// --------------------------------
// update
// --------------------------------

func newUpdateCmd() *cobra.Command {
	var filters []string
	c := &cobra.Command{
		Use:   "update key:value...",
		Short: "Merge metadata into every object matching --filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(args)
			if err != nil {
				return err
			}
			pattern, err := parseFilter(filters)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			recs, err := s.store.UpdateObjects(cmd.Context(), meta, pattern)
			if err != nil {
				return err
			}
			s.log.Debug("updated objects", zap.Int("count", len(recs)))
			return nil
		},
	}
	addFilterFlag(c, &filters)
	return c
}

// --------------------------------
// rm
// --------------------------------

var errNothingSelected = errors.New("no ids or --filter given")

func newRmCmd() *cobra.Command {
	var filters []string
	c := &cobra.Command{
		Use:   "rm [id...]",
		Short: "Delete objects by id or by --filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(filters) == 0 {
				return errNothingSelected
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			pattern, err := parseFilter(filters)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			if len(filters) > 0 {
				matched, err := s.store.ListIDs(cmd.Context(), pattern)
				if err != nil {
					return err
				}
				ids.Or(matched)
			}
			it := ids.Iterator()
			for it.HasNext() {
				id := int64(it.Next())
				if err := s.store.DeleteObject(cmd.Context(), id); err != nil {
					return err
				}
				s.log.Debug("deleted object", zap.Int64("id", id))
			}
			return nil
		},
	}
	addFilterFlag(c, &filters)
	return c
}

// --------------------------------
// attach
// --------------------------------

func newAttachCmd() *cobra.Command {
	var files []string
	c := &cobra.Command{
		Use:   "attach [-f file]... [key:value...]",
		Short: "Add a file with some associated metadata",
		Long: `Attach stores each --file with the given metadata. Without --file a single
file is read from stdin, and the metadata must name it (filename:bob.txt).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMetadata(args)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			if len(files) == 0 {
				id, err := s.store.AddFile(cmd.Context(), cmd.InOrStdin(), "", meta)
				if err != nil {
					return err
				}
				s.log.Debug("attached stdin", zap.Int64("id", id))
				return nil
			}
			for _, name := range files {
				if err := attachFile(cmd, s, name, meta); err != nil {
					return err
				}
			}
			return nil
		},
	}
	c.Flags().StringArrayVarP(&files, "file", "f", nil, "file to attach (repeatable); stdin when omitted")
	return c
}

func attachFile(cmd *cobra.Command, s *session, name string, meta store.Record) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	id, err := s.store.AddFile(cmd.Context(), f, name, meta.Clone())
	if err != nil {
		return fmt.Errorf("attach %s: %w", name, err)
	}
	s.log.Debug("attached file", zap.String("file", name), zap.Int64("id", id))
	return nil
}

// --------------------------------
// cat
// --------------------------------

func newCatCmd() *cobra.Command {
	var filters []string
	c := &cobra.Command{
		Use:   "cat [id...]",
		Short: "Print the contents of attached files",
		Long: `Cat prints the content of every file record matching --filter, then of
each id given. Ids are record ids, not _file_id values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && len(filters) == 0 {
				return errNothingSelected
			}
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			pattern, err := parseFilter(filters)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			var order []int64
			if len(filters) > 0 {
				recs, err := s.store.ListObjects(ctx, pattern.With(store.FieldFileID, glob.Wildcard))
				if err != nil {
					return err
				}
				for _, rec := range recs {
					order = append(order, rec.ID())
				}
			}
			for _, id := range ids.ToArray() {
				order = append(order, int64(id))
			}
			for _, id := range order {
				data, err := s.store.GetFileContents(ctx, id)
				if err != nil {
					return fmt.Errorf("object %d: %w", id, err)
				}
				if _, err := out.Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addFilterFlag(c, &filters)
	return c
}

// --------------------------------
// dump
// --------------------------------

var errDumpNotConfigured = errors.New("dump needs both --dump-dir and --layout")

func newDumpCmd() *cobra.Command {
	var filters []string
	c := &cobra.Command{
		Use:   "dump",
		Short: "Dump records to the dump directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, err := parseFilter(filters)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer s.Close()
			if s.dumper == nil || s.settings.DumpDirectory == "" {
				return errDumpNotConfigured
			}
			n, err := s.dumper.DumpAll(cmd.Context(), s.store, pattern)
			s.log.Debug("dumped objects", zap.Int("count", n))
			return err
		},
	}
	addFilterFlag(c, &filters)
	return c
}
