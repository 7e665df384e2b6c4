package main

import (
	"context"
	"flag"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/vslsfs/config"
	"github.com/jmgilman/vslsfs/controller"
	"github.com/jmgilman/vslsfs/host"
	"github.com/jmgilman/vslsfs/provider"
	"github.com/jmgilman/vslsfs/session/netsession"
	"github.com/jmgilman/vslsfs/storage"
	"github.com/jmgilman/vslsfs/storage/billy"
	"github.com/jmgilman/vslsfs/storage/minio"
	"github.com/jmgilman/vslsfs/translate"
)

func runHost(ctx context.Context, args []string) error {
	var (
		c      common
		listen string
		root   string
	)
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	c.register(fs)
	fs.StringVar(&listen, "listen", "127.0.0.1:7070", "address guests connect to")
	fs.StringVar(&root, "root", ".", "folder to share; with object storage, a path below the bucket prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := c.load(ctx)
	if err != nil {
		return err
	}
	if cfg.WorkspaceRoot != "" && root == "." {
		root = cfg.WorkspaceRoot
	}
	if cfg.Storage.Type == config.StorageObject {
		// Paths name keys inside the bucket prefix.
		root = filepath.ToSlash(filepath.Join("/", root))
	} else if root, err = filepath.Abs(root); err != nil {
		return err
	}

	sess, err := netsession.Listen(ctx, listen, root,
		netsession.WithLogger(logger),
		netsession.WithSessionScheme(cfg.SessionScheme))
	if err != nil {
		return err
	}

	backend, err := openBackend(cfg)
	if err != nil {
		_ = sess.Close()
		return err
	}
	ctrl := controller.New(sess, backend, provider.NewRegistry(),
		controller.WithLogger(logger),
		controller.WithScheme(cfg.Scheme),
		controller.WithHostOptions(
			host.WithServiceName(cfg.ServiceName),
			host.WithWorkspaceRoot(root),
			host.WithWatchPattern(cfg.Watch.Pattern),
			host.WithWatchExcludes(cfg.Watch.Excludes...),
			host.WithTranslatorOptions(
				translate.WithScheme(cfg.Scheme),
				translate.WithSessionScheme(cfg.SessionScheme)),
		))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx := context.WithoutCancel(gctx)
		if err := ctrl.Stop(stopCtx); err != nil {
			return err
		}
		return sess.Close()
	})

	logger.Info(ctx, "sharing folder", "root", root, "addr", sess.Addr().String())
	return g.Wait()
}

// openBackend builds the storage backend the configuration selects.
func openBackend(cfg config.Config) (storage.Backend, error) {
	if cfg.Storage.Type == config.StorageObject {
		b, err := minio.New(minio.Config{
			Endpoint:  cfg.Storage.Endpoint,
			Bucket:    cfg.Storage.Bucket,
			Prefix:    cfg.Storage.Prefix,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return billy.NewLocal(billy.WithTrashDir(cfg.TrashDir)), nil
}
