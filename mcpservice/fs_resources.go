package mcpservice

import (
	"context"
	"encoding/base64"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/mcp-tasks-go/mcp"
)

// FSResources serves the files below a directory as resources. With an OS
// directory root, reads are confined to the symlink-resolved root; with a
// generic fs.FS, symlinks are skipped and parent traversal is rejected.
//
// Watch signals subscribers whenever a file is created, removed or written,
// which lets the version engine reconcile early instead of waiting for its
// next tick.
type FSResources struct {
	fsys    fs.FS
	osRoot  string
	baseURI string

	log      *slog.Logger
	debounce time.Duration
	notifier ChangeNotifier
}

// FSOption configures FSResources.
type FSOption func(*FSResources)

// WithOSDir serves an OS directory. Symlinks are resolved once at
// construction and reads must stay below the resolved root.
func WithOSDir(root string) FSOption {
	return func(r *FSResources) {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		if real, err := filepath.EvalSymlinks(root); err == nil {
			root = real
		}
		r.osRoot = root
		r.fsys = os.DirFS(root)
	}
}

// WithFS serves a generic fs.FS such as embed.FS. Watch is a no-op for it.
func WithFS(f fs.FS) FSOption { return func(r *FSResources) { r.fsys = f; r.osRoot = "" } }

// WithBaseURI sets the URI prefix, "fs://root" by default.
func WithBaseURI(base string) FSOption {
	return func(r *FSResources) { r.baseURI = strings.TrimRight(base, "/") }
}

// WithUpdateDebounce coalesces bursts of filesystem events. Zero disables it.
func WithUpdateDebounce(d time.Duration) FSOption { return func(r *FSResources) { r.debounce = d } }

func WithFSLogger(l *slog.Logger) FSOption { return func(r *FSResources) { r.log = l } }

func NewFSResources(opts ...FSOption) *FSResources {
	r := &FSResources{baseURI: "fs://root", debounce: 250 * time.Millisecond, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ListResources walks the tree and returns one resource per regular file,
// ordered by URI.
func (r *FSResources) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	if r.fsys == nil {
		return nil, nil
	}
	var out []mcp.Resource
	err := fs.WalkDir(r.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || isSymlink(d) || !validFSPath(p) {
			return nil
		}
		out = append(out, mcp.Resource{
			URI:      r.relToURI(p),
			Name:     path.Base(p),
			MimeType: mime.TypeByExtension(strings.ToLower(path.Ext(p))),
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk resources")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out, nil
}

// ListResourceTemplates returns nothing: a plain directory has no templates.
func (r *FSResources) ListResourceTemplates(context.Context) ([]mcp.ResourceTemplate, error) {
	return nil, nil
}

// ReadResource reads the file behind uri. Unknown URIs, escapes from the
// root and directories all yield ok=false.
func (r *FSResources) ReadResource(_ context.Context, uri string) ([]mcp.ResourceContents, bool, error) {
	if r.fsys == nil {
		return nil, false, nil
	}
	rel, ok := r.uriToRel(uri)
	if !ok {
		return nil, false, nil
	}

	var (
		data []byte
		err  error
	)
	if r.osRoot != "" {
		real, rerr := filepath.EvalSymlinks(filepath.Join(r.osRoot, filepath.FromSlash(rel)))
		if rerr != nil || !within(real, r.osRoot) {
			return nil, false, nil
		}
		if st, serr := os.Stat(real); serr != nil || !st.Mode().IsRegular() {
			return nil, false, nil
		}
		data, err = os.ReadFile(real)
	} else {
		if !validFSPath(rel) {
			return nil, false, nil
		}
		if st, serr := fs.Stat(r.fsys, rel); serr != nil || !st.Mode().IsRegular() {
			return nil, false, nil
		}
		data, err = fs.ReadFile(r.fsys, rel)
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s", uri)
	}
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(rel)))
	return []mcp.ResourceContents{contentsFor(uri, mt, data)}, true, nil
}

func contentsFor(uri, mimeType string, data []byte) mcp.ResourceContents {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if utf8.Valid(data) {
		return mcp.ResourceContents{URI: uri, MimeType: mimeType, Text: string(data)}
	}
	return mcp.ResourceContents{URI: uri, MimeType: mimeType, Blob: base64.StdEncoding.EncodeToString(data)}
}

func (r *FSResources) Subscriber() <-chan struct{} { return r.notifier.Subscriber() }

// Watch follows the OS directory with fsnotify until ctx ends, signalling
// subscribers on every relevant event. It returns immediately for a generic
// fs.FS.
func (r *FSResources) Watch(ctx context.Context) error {
	if r.osRoot == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "start watcher")
	}
	defer func() { _ = w.Close() }()

	err = filepath.WalkDir(r.osRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		return errors.Wrap(err, "watch tree")
	}

	db := &debouncer{interval: r.debounce, fire: r.notifier.Notify}
	defer db.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
				db.trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WarnContext(ctx, "mcpservice.fs.watch.error", slog.Any("err", err))
		}
	}
}

func isSymlink(d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink != 0 {
		return true
	}
	if info, err := d.Info(); err == nil {
		return info.Mode()&fs.ModeSymlink != 0
	}
	return false
}

func validFSPath(p string) bool {
	return fs.ValidPath(p) && !strings.Contains(p, ":")
}

func (r *FSResources) relToURI(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.baseURI + "/" + strings.Join(segs, "/")
}

func (r *FSResources) uriToRel(uri string) (string, bool) {
	p, ok := strings.CutPrefix(uri, r.baseURI+"/")
	if !ok {
		return "", false
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		dec, err := url.PathUnescape(s)
		if err != nil {
			return "", false
		}
		segs[i] = dec
	}
	rel := path.Clean(strings.Join(segs, "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", false
	}
	return rel, true
}

// within reports whether target is root or below it.
func within(target, root string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator)))
}

// debouncer fires once per quiet interval no matter how often it is
// triggered within it.
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	if d.interval <= 0 {
		d.fire()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		return
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		d.fire()
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
