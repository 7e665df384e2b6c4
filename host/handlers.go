package host

import (
	"context"
	"time"

	"github.com/gobwas/glob"

	"github.com/jmgilman/vslsfs/errors"
	"github.com/jmgilman/vslsfs/protocol"
	"github.com/jmgilman/vslsfs/session"
	"github.com/jmgilman/vslsfs/storage"
)

type opHandler func(ctx context.Context, call *session.Call) (any, error)

func (d *Dispatcher) registerHandlers(svc session.Service) {
	handlers := map[protocol.Op]opHandler{
		protocol.OpCopy:            d.copy,
		protocol.OpCreateDirectory: d.createDirectory,
		protocol.OpDelete:          d.delete,
		protocol.OpReadFile:        d.readFile,
		protocol.OpReadDirectory:   d.readDirectory,
		protocol.OpRename:          d.rename,
		protocol.OpStat:            d.stat,
		protocol.OpWatch:           d.watch,
		protocol.OpWriteFile:       d.writeFile,
	}
	for _, op := range protocol.Ops() {
		svc.OnRequest(string(op), d.serve(op, handlers[op]))
	}
}

// serve wraps a handler with the state check, logging and metrics.
func (d *Dispatcher) serve(op protocol.Op, h opHandler) session.Handler {
	return func(ctx context.Context, call *session.Call) (any, error) {
		if d.State() != StateActive {
			return nil, errors.WithContext(
				errors.New(errors.CodeSessionUnavailable, "host filesystem service is not active"),
				errors.ContextOp, string(op))
		}

		start := time.Now()
		result, err := h(ctx, call)
		elapsed := time.Since(start)
		d.metrics.RecordRequest(string(op), elapsed, err)

		log := d.logger.WithOperation(string(op)).WithPeer(string(call.Peer)).WithDuration(elapsed)
		if err != nil {
			log.Warn(ctx, "request failed", "code", errors.GetCode(err), "error", err)
			return nil, err
		}
		log.Debug(ctx, "request served")
		return result, nil
	}
}

func (d *Dispatcher) resolve(ctx context.Context, uri string) (string, error) {
	return d.translator.Resolve(ctx, uri)
}

// storageError wraps a backend failure with the operation, path and reason.
func storageError(err error, op protocol.Op, path string) error {
	return errors.WithContext(errors.Storage(err, string(op), path), errors.ContextReason, storage.Reason(err))
}

// uriOp decodes and resolves the single URI argument of op.
func (d *Dispatcher) uriOp(ctx context.Context, op protocol.Op, call *session.Call) (string, error) {
	req, err := protocol.DecodeURI(op, call.Args)
	if err != nil {
		return "", err
	}
	return d.resolve(ctx, req.URI)
}

func (d *Dispatcher) copy(ctx context.Context, call *session.Call) (any, error) {
	req, err := protocol.DecodeCopy(call.Args)
	if err != nil {
		return nil, err
	}
	src, err := d.resolve(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	dst, err := d.resolve(ctx, req.Destination)
	if err != nil {
		return nil, err
	}

	opts := storage.DefaultCopyOptions()
	opts.Overwrite = protocol.BoolOr(req.Options.Overwrite, opts.Overwrite)
	if err := d.backend.Copy(ctx, src, dst, opts); err != nil {
		return nil, errors.WithContext(storageError(err, protocol.OpCopy, src), "destination", dst)
	}
	return nil, nil
}

func (d *Dispatcher) createDirectory(ctx context.Context, call *session.Call) (any, error) {
	p, err := d.uriOp(ctx, protocol.OpCreateDirectory, call)
	if err != nil {
		return nil, err
	}
	if err := d.backend.CreateDirectory(ctx, p); err != nil {
		return nil, storageError(err, protocol.OpCreateDirectory, p)
	}
	return nil, nil
}

func (d *Dispatcher) delete(ctx context.Context, call *session.Call) (any, error) {
	req, err := protocol.DecodeDelete(call.Args)
	if err != nil {
		return nil, err
	}
	p, err := d.resolve(ctx, req.URI)
	if err != nil {
		return nil, err
	}

	opts := storage.DefaultDeleteOptions()
	opts.Recursive = protocol.BoolOr(req.Options.Recursive, opts.Recursive)
	opts.UseTrash = protocol.BoolOr(req.Options.UseTrash, opts.UseTrash)
	if err := d.backend.Delete(ctx, p, opts); err != nil {
		return nil, storageError(err, protocol.OpDelete, p)
	}
	return nil, nil
}

func (d *Dispatcher) readFile(ctx context.Context, call *session.Call) (any, error) {
	p, err := d.uriOp(ctx, protocol.OpReadFile, call)
	if err != nil {
		return nil, err
	}
	data, err := d.backend.ReadFile(ctx, p)
	if err != nil {
		return nil, storageError(err, protocol.OpReadFile, p)
	}
	if data == nil {
		data = []byte{}
	}
	d.metrics.RecordRead(len(data))
	return data, nil
}

func (d *Dispatcher) readDirectory(ctx context.Context, call *session.Call) (any, error) {
	p, err := d.uriOp(ctx, protocol.OpReadDirectory, call)
	if err != nil {
		return nil, err
	}
	entries, err := d.backend.ReadDir(ctx, p)
	if err != nil {
		return nil, storageError(err, protocol.OpReadDirectory, p)
	}

	out := make([]protocol.DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.DirEntry{
			Name: e.Name,
			Type: protocol.FileTypeFromMode(e.Mode, e.Symlink),
		})
	}
	return out, nil
}

func (d *Dispatcher) rename(ctx context.Context, call *session.Call) (any, error) {
	req, err := protocol.DecodeRename(call.Args)
	if err != nil {
		return nil, err
	}
	oldPath, err := d.resolve(ctx, req.OldURI)
	if err != nil {
		return nil, err
	}
	newPath, err := d.resolve(ctx, req.NewURI)
	if err != nil {
		return nil, err
	}

	opts := storage.DefaultRenameOptions()
	opts.Overwrite = protocol.BoolOr(req.Options.Overwrite, opts.Overwrite)
	if err := d.backend.Rename(ctx, oldPath, newPath, opts); err != nil {
		return nil, errors.WithContext(storageError(err, protocol.OpRename, oldPath), "destination", newPath)
	}
	return nil, nil
}

func (d *Dispatcher) stat(ctx context.Context, call *session.Call) (any, error) {
	p, err := d.uriOp(ctx, protocol.OpStat, call)
	if err != nil {
		return nil, err
	}
	info, err := d.backend.Stat(ctx, p)
	if err != nil {
		return nil, storageError(err, protocol.OpStat, p)
	}
	return protocol.FileStat{
		Type:  protocol.FileTypeFromMode(info.Mode, info.Symlink),
		Ctime: info.ChangeTime.UnixMilli(),
		Mtime: info.ModTime.UnixMilli(),
		Size:  info.Size,
	}, nil
}

func (d *Dispatcher) writeFile(ctx context.Context, call *session.Call) (any, error) {
	req, err := protocol.DecodeWriteFile(call.Args)
	if err != nil {
		return nil, err
	}
	p, err := d.resolve(ctx, req.URI)
	if err != nil {
		return nil, err
	}

	opts := storage.DefaultWriteOptions()
	opts.Create = protocol.BoolOr(req.Options.Create, opts.Create)
	opts.Overwrite = protocol.BoolOr(req.Options.Overwrite, opts.Overwrite)
	if err := d.backend.WriteFile(ctx, p, req.Content, opts); err != nil {
		return nil, storageError(err, protocol.OpWriteFile, p)
	}
	d.metrics.RecordWrite(len(req.Content))
	return nil, nil
}

func (d *Dispatcher) watch(ctx context.Context, call *session.Call) (any, error) {
	req, err := protocol.DecodeWatch(call.Args)
	if err != nil {
		return nil, err
	}
	base, err := d.translator.Parse(req.URI)
	if err != nil {
		return nil, err
	}
	p, err := d.resolve(ctx, req.URI)
	if err != nil {
		return nil, err
	}
	excludes, err := compileAll(req.Options.Excludes)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidArgument, "invalid exclude pattern"),
			errors.ContextOp, string(protocol.OpWatch))
	}

	d.mu.RLock()
	active := d.watcher != nil
	d.mu.RUnlock()
	if !active {
		return nil, errors.WithContext(
			errors.New(errors.CodeStorage, "workspace watcher is not running"),
			errors.ContextPath, p)
	}

	reg := &registration{
		peer:      call.Peer,
		uri:       req.URI,
		base:      base,
		local:     p,
		recursive: req.Options.Recursive,
		excludes:  excludes,
	}
	if d.watches.add(reg) {
		d.logger.WithPeer(string(call.Peer)).WithPath(p).Debug(ctx, "watch registered",
			"uri", req.URI, "recursive", req.Options.Recursive)
	}
	return nil, nil
}

// pump turns workspace watcher events into change notifications until the
// watcher closes or ctx ends.
func (d *Dispatcher) pump(ctx context.Context, svc session.Service, w storage.Watcher) {
	defer d.wg.Done()
	events, errs := w.Events(), w.Errors()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.notify(ctx, svc, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn(ctx, "workspace watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) notify(ctx context.Context, svc session.Service, ev storage.Event) {
	if d.workspaceExcluded(ev.Path) {
		return
	}

	change := changeType(ev.Op)
	for _, t := range d.watches.match(ev.Path) {
		payload := protocol.ChangeNotification{URI: t.uri, Type: change}
		err := svc.Notify(ctx, t.peer, protocol.NotificationChange, payload)
		d.metrics.RecordNotification(err == nil)

		log := d.logger.WithPeer(string(t.peer))
		if err != nil {
			log.Warn(ctx, "change notification not delivered", "uri", t.uri, "error", err)
			continue
		}
		log.Debug(ctx, "change notified", "uri", t.uri, "type", change.String())
	}
}

func (d *Dispatcher) workspaceExcluded(p string) bool {
	if len(d.excludes) == 0 {
		return false
	}
	rel, ok := storage.RelativeTo(d.root, p)
	if !ok {
		return false
	}
	return matchAny(d.excludes, rel)
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

func changeType(op storage.EventOp) protocol.ChangeType {
	switch op {
	case storage.OpCreated:
		return protocol.ChangeCreated
	case storage.OpDeleted:
		return protocol.ChangeDeleted
	default:
		return protocol.ChangeChanged
	}
}
