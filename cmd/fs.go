package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/winfsp/cgofuse/fuse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/ppd/api"
	"github.com/agentic-research/ppd/internal/config"
	ppdfs "github.com/agentic-research/ppd/internal/fs"
	"github.com/agentic-research/ppd/internal/nfsmount"
	"github.com/agentic-research/ppd/internal/script"
	"github.com/agentic-research/ppd/internal/tree"
)

type fsOptions struct {
	backend string
	nfsAddr string
	watch   bool
}

func newFSCmd() *cobra.Command {
	var opts fsOptions
	c := &cobra.Command{
		Use:   "fs MOUNTPOINT LAYOUT",
		Short: "Mount the database as a filesystem",
		Long: `fs mounts a filesystem whose directories and files are computed from the
records in the database, arranged by the paths in the LAYOUT file.

The layout can be changed while mounted by writing /_layout.yml, or, with
--watch, by editing LAYOUT itself.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFS(cmd, args[0], args[1], opts)
		},
	}
	c.Flags().StringVar(&opts.backend, "backend", "fuse", "mount backend: fuse or nfs")
	c.Flags().StringVar(&opts.nfsAddr, "nfs-addr", "", "listen address for the nfs backend (default an ephemeral localhost port)")
	c.Flags().BoolVar(&opts.watch, "watch", false, "reload LAYOUT when it changes on disk")
	return c
}

func runFS(cmd *cobra.Command, mountPoint, layoutPath string, opts fsOptions) error {
	if opts.backend != "fuse" && opts.backend != "nfs" {
		return fmt.Errorf("unknown backend %q: want fuse or nfs", opts.backend)
	}
	layout, err := config.LoadLayout(layoutPath)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := tree.New(ctx, s.store,
		tree.WithLayout(layout),
		tree.WithLogger(s.log),
		tree.WithRunner(script.Runner{Logger: s.log}),
	)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return fmt.Errorf("create mountpoint: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if opts.watch {
		g.Go(func() error {
			return config.WatchLayout(ctx, layoutPath, s.log, func(l *api.Layout) error {
				return t.SetLayout(ctx, l)
			})
		})
	}
	g.Go(func() error {
		// Unmounting ends the command, watcher included.
		defer cancel()
		if opts.backend == "nfs" {
			return serveNFS(ctx, t, mountPoint, opts.nfsAddr, s.log)
		}
		return serveFUSE(ctx, t, mountPoint, s.log)
	})
	return g.Wait()
}

// serveFUSE mounts through cgofuse and blocks until the filesystem is
// unmounted, either externally or because ctx ended.
func serveFUSE(ctx context.Context, t *tree.Tree, mountPoint string, log *zap.Logger) error {
	host := fuse.NewFileSystemHost(ppdfs.NewPPDFS(t, log))

	// direct_io: sizes of computed files change between getattr and read.
	// uid/gid ensure we own the mount (critical for fuse-t/NFS).
	mountOpts := []string{
		"-o", "direct_io",
		"-o", fmt.Sprintf("uid=%d", os.Getuid()),
		"-o", fmt.Sprintf("gid=%d", os.Getgid()),
	}
	if runtime.GOOS == "darwin" {
		mountOpts = append(mountOpts, "-o", "volname=ppd")
	}

	unmounted := make(chan struct{})
	defer close(unmounted)
	go func() {
		select {
		case <-ctx.Done():
			host.Unmount()
		case <-unmounted:
		}
	}()

	log.Info("mounting", zap.String("mountpoint", mountPoint), zap.String("backend", "fuse"))
	if !host.Mount(mountPoint, mountOpts) {
		return fmt.Errorf("mount failed")
	}
	return nil
}

// serveNFS runs a local NFS server, mounts it, and unmounts when ctx ends.
func serveNFS(ctx context.Context, t *tree.Tree, mountPoint, addr string, log *zap.Logger) error {
	srv, err := nfsmount.NewServer(nfsmount.NewTreeFS(t, log), addr, log)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	if err := nfsmount.Mount(srv.Port(), mountPoint, true); err != nil {
		return err
	}
	log.Info("mounted", zap.String("mountpoint", mountPoint), zap.String("backend", "nfs"), zap.Int("port", srv.Port()))

	select {
	case <-ctx.Done():
	case err := <-srv.Done():
		if err != nil {
			_ = nfsmount.Unmount(mountPoint)
			return err
		}
	}
	return nfsmount.Unmount(mountPoint)
}
