package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/vslsfs/config"
	"github.com/jmgilman/vslsfs/controller"
	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/guest"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/provider"
	"github.com/jmgilman/vslsfs/session/netsession"
	"github.com/jmgilman/vslsfs/storage/billy"
)

func runGuest(ctx context.Context, args []string) error {
	var (
		c       common
		connect string
	)
	fs := flag.NewFlagSet("guest", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&connect, "connect", "127.0.0.1:7070", "address of the host")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing guest command")
	}

	cfg, logger, err := c.load(ctx)
	if err != nil {
		return err
	}

	sess, err := netsession.Dial(ctx, connect, netsession.WithLogger(logger))
	if err != nil {
		return err
	}
	defer sess.Close()

	registry := provider.NewRegistry()
	// Guests never serve, so the backend is only a placeholder for the
	// host role the controller will not enter.
	ctrl := controller.New(sess, billy.NewMemory(), registry,
		controller.WithLogger(logger),
		controller.WithScheme(cfg.Scheme),
		controller.WithGuestOptions(
			guest.WithServiceName(cfg.ServiceName),
			guest.WithRequestTimeout(cfg.RequestTimeout)))
	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop(context.WithoutCancel(ctx))

	fsp, err := registry.Lookup(cfg.Scheme)
	if err != nil {
		return errors.Wrap(err, errors.CodeSessionUnavailable, "host is not sharing a filesystem")
	}

	cli := &guestCLI{cfg: cfg, fsp: fsp, sess: sess, out: os.Stdout}
	return cli.run(ctx, fs.Arg(0), fs.Args()[1:])
}

type guestCLI struct {
	cfg  config.Config
	fsp  provider.FileSystemProvider
	sess *netsession.Guest
	out  io.Writer
}

// uri builds a virtual URI for a slash-separated path in the shared folder.
func (c *guestCLI) uri(p string) *url.URL {
	return &url.URL{Scheme: c.cfg.Scheme, Path: path.Join("/", p), OmitHost: true}
}

func (c *guestCLI) run(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	recursive := fs.Bool("recursive", false, "apply to directory contents")
	overwrite := fs.Bool("overwrite", false, "replace an existing destination")
	trash := fs.Bool("trash", false, "move to the host's trash instead of deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	want := func(n int) error {
		if fs.NArg() != n {
			return fmt.Errorf("%s expects %d argument(s), got %d", cmd, n, fs.NArg())
		}
		return nil
	}

	switch cmd {
	case "ls":
		if err := want(1); err != nil {
			return err
		}
		entries, err := c.fsp.ReadDirectory(ctx, c.uri(fs.Arg(0)))
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\n", kind(e.Type), e.Name)
		}
		return tw.Flush()
	case "cat":
		if err := want(1); err != nil {
			return err
		}
		data, err := c.fsp.ReadFile(ctx, c.uri(fs.Arg(0)))
		if err != nil {
			return err
		}
		_, err = c.out.Write(data)
		return err
	case "stat":
		if err := want(1); err != nil {
			return err
		}
		st, err := c.fsp.Stat(ctx, c.uri(fs.Arg(0)))
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "type: %s\nsize: %d\nmtime: %s\n", kind(st.Type), st.Size,
			time.UnixMilli(st.Mtime).Format(time.RFC3339))
		return nil
	case "put":
		if err := want(1); err != nil {
			return err
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		return c.fsp.WriteFile(ctx, c.uri(fs.Arg(0)), data, protocol.WriteFileOptions{
			Create: protocol.Bool(true), Overwrite: protocol.Bool(true),
		})
	case "mkdir":
		if err := want(1); err != nil {
			return err
		}
		return c.fsp.CreateDirectory(ctx, c.uri(fs.Arg(0)))
	case "rm":
		if err := want(1); err != nil {
			return err
		}
		return c.fsp.Delete(ctx, c.uri(fs.Arg(0)), protocol.DeleteOptions{
			Recursive: protocol.Bool(*recursive), UseTrash: protocol.Bool(*trash),
		})
	case "mv":
		if err := want(2); err != nil {
			return err
		}
		return c.fsp.Rename(ctx, c.uri(fs.Arg(0)), c.uri(fs.Arg(1)),
			protocol.RenameOptions{Overwrite: protocol.Bool(*overwrite)})
	case "cp":
		if err := want(2); err != nil {
			return err
		}
		return c.fsp.Copy(ctx, c.uri(fs.Arg(0)), c.uri(fs.Arg(1)),
			protocol.CopyOptions{Overwrite: protocol.Bool(*overwrite)})
	case "watch":
		if err := want(1); err != nil {
			return err
		}
		return c.watch(ctx, fs.Arg(0), *recursive)
	default:
		return fmt.Errorf("unknown guest command %q", cmd)
	}
}

// watch prints change events until interrupted or the host leaves.
func (c *guestCLI) watch(ctx context.Context, p string, recursive bool) error {
	events := make(chan provider.FileChangeEvent, 64)
	sub := c.fsp.OnDidChangeFile(func(batch []provider.FileChangeEvent) {
		for _, e := range batch {
			select {
			case events <- e:
			default:
			}
		}
	})
	defer sub.Dispose()

	w, err := c.fsp.Watch(ctx, c.uri(p), protocol.WatchOptions{Recursive: recursive})
	if err != nil {
		return err
	}
	defer w.Dispose()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case e := <-events:
				fmt.Fprintf(c.out, "%s\t%s\n", e.Type, e.URI.Path)
			case <-c.sess.Done():
				return errors.New(errors.CodeSessionUnavailable, "host left the session")
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

func kind(t protocol.FileType) string {
	switch {
	case t.IsSymbolicLink():
		return "link"
	case t.IsDirectory():
		return "dir"
	case t.IsFile():
		return "file"
	default:
		return "unknown"
	}
}
