package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
	"github.com/vmihailenco/msgpack"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/value"
)

// Disk is the directory-of-blobs backend.  Dir is the base directory.
// Depth is the number of subdirectory levels under value/sha1/.  We use
// three-character hexadecimal names for the subdirectories, giving us
// a maximum of 4096 subdirs in a parent dir.  Values live in files
// named after their full hash, tags are symlinks replaced atomically,
// and the key graph is an append-only msgpack record log replayed
// into memory at open.
type Disk struct {
	Dir             string // base of tree
	Depth           int    // subdir levels under value/sha1/
	HashWidth       int    // digest width in bytes
	WindowSize      int    // codec window pre-allocation per connection
	MaxPullVertices int    // safety cap on a single pull closure

	index *MemKeyStore // graph index, rebuilt from the log
	logmu sync.Mutex
	logfh *os.File
	tagmu sync.Mutex
}

const (
	defDepth           = 2
	defWindowSize      = 64 * 1024
	defMaxPullVertices = 1000000
)

// Create initializes a database directory and its contents.
func (d Disk) Create() (out *Disk, err error) {
	defer Return(&err)

	dir := d.Dir

	// if directory exists, make sure it's empty
	if canstat(dir) {
		files, err := os.ReadDir(dir)
		if len(files) > 0 {
			return nil, &ExistsError{Dir: dir}
		}
		Ck(err)
	}

	if d.Depth < 1 {
		d.Depth = defDepth
	}
	if d.HashWidth == 0 {
		d.HashWidth = key.Width
	}
	if d.WindowSize == 0 {
		d.WindowSize = defWindowSize
	}
	if d.MaxPullVertices == 0 {
		d.MaxPullVertices = defMaxPullVertices
	}

	err = mkdir(dir)
	Ck(err)

	// hashed value files
	err = mkdir(filepath.Join(dir, "value"))
	Ck(err)

	// mutable tag symlinks
	err = mkdir(filepath.Join(dir, "tag"))
	Ck(err)

	// key graph record log
	err = mkdir(filepath.Join(dir, "graph"))
	Ck(err)

	buf, err := json.Marshal(d)
	Ck(err)
	err = renameio.WriteFile(filepath.Join(dir, "config.json"), buf, 0644)
	Ck(err)

	return OpenDisk(dir)
}

// OpenDisk loads an existing database from dir and replays the graph
// log into memory.
func OpenDisk(dir string) (d *Disk, err error) {
	defer Return(&err)

	dir = filepath.Clean(dir)
	if !canstat(dir) {
		return nil, fmt.Errorf("cannot open: %s", dir)
	}

	buf, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, &NotDbError{Dir: dir}
	}
	d = &Disk{}
	err = json.Unmarshal(buf, d)
	Ck(err)
	d.Dir = dir
	d.index = NewMemKeyStore()

	err = d.replayLog()
	Ck(err)

	d.logfh, err = os.OpenFile(d.logPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	Ck(err)

	return d, nil
}

// Close releases the graph log handle.
func (d *Disk) Close() error {
	if d.logfh == nil {
		return nil
	}
	return d.logfh.Close()
}

// Stores returns the three store views over this database.
func (d *Disk) Stores() Stores {
	return Stores{
		Keys:   &diskKeys{d},
		Values: &diskValues{d},
		Tags:   &diskTags{d},
	}
}

func (d *Disk) logPath() string {
	return filepath.Join(d.Dir, "graph", "edges")
}

// graphRec is one append-only log record.  Op is "key" or "rel".
type graphRec struct {
	Op string
	A  []byte
	B  []byte
}

// XXX snapshot the replayed index periodically so replay cost stays
// proportional to the live graph instead of its full history
func (d *Disk) replayLog() (err error) {
	defer Return(&err)

	fh, err := os.Open(d.logPath())
	if os.IsNotExist(err) {
		return nil
	}
	Ck(err)
	defer fh.Close()

	ctx := context.Background()
	dec := msgpack.NewDecoder(fh)
	for {
		var rec graphRec
		err = dec.Decode(&rec)
		if errors.Cause(err) == io.EOF {
			break
		}
		Ck(err)
		switch rec.Op {
		case "key":
			err = d.index.AddKey(ctx, key.Key(rec.A))
		case "rel":
			err = d.index.AddRelation(ctx, key.Key(rec.A), key.Key(rec.B))
		default:
			return fmt.Errorf("bad graph record op %q", rec.Op)
		}
		Ck(err)
	}
	return nil
}

func (d *Disk) appendLog(rec graphRec) (err error) {
	d.logmu.Lock()
	defer d.logmu.Unlock()
	buf, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	_, err = d.logfh.Write(buf)
	return err
}

// valuePath returns the nested file path for a hash.  We use
// three-character hex subdirs (4096 per level, a sweet spot for ext4)
// and keep the full hash in the final component so UNIX tools stay
// usable, in contrast to git's truncated object names.
func (d *Disk) valuePath(k key.Key) string {
	hash := k.String()
	sub := filepath.Join("value", "sha1")
	for i := 0; i < d.Depth; i++ {
		sub = filepath.Join(sub, hash[3*i:3*i+3])
	}
	return filepath.Join(d.Dir, sub, hash)
}

func (d *Disk) tagPath(t Tag) (string, error) {
	name := string(t)
	if name == "" || strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return "", fmt.Errorf("bad tag name %q", name)
	}
	return filepath.Join(d.Dir, "tag", name), nil
}

type diskKeys struct{ d *Disk }

func (s *diskKeys) AddKey(ctx context.Context, k key.Key) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	if s.d.index.Has(k) {
		return nil
	}
	err = s.d.appendLog(graphRec{Op: "key", A: k})
	if err != nil {
		return err
	}
	return s.d.index.AddKey(ctx, k)
}

func (s *diskKeys) AddRelation(ctx context.Context, pred, succ key.Key) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	succs, err := s.d.index.Succ(ctx, pred)
	if err != nil {
		return err
	}
	if hasKey(succs, succ) {
		return nil
	}
	err = s.d.appendLog(graphRec{Op: "rel", A: pred, B: succ})
	if err != nil {
		return err
	}
	return s.d.index.AddRelation(ctx, pred, succ)
}

func (s *diskKeys) List(ctx context.Context) ([]key.Key, error) {
	return s.d.index.List(ctx)
}

func (s *diskKeys) Pred(ctx context.Context, k key.Key) ([]key.Key, error) {
	return s.d.index.Pred(ctx, k)
}

func (s *diskKeys) Succ(ctx context.Context, k key.Key) ([]key.Key, error) {
	return s.d.index.Succ(ctx, k)
}

type diskValues struct{ d *Disk }

func (s *diskValues) Write(ctx context.Context, v *value.Value) (k key.Key, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	k = v.Key()
	path := s.d.valuePath(k)
	if canstat(path) {
		// content-addressed, so an existing file is the same bytes
		return k, nil
	}
	err = mkdir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	err = renameio.WriteFile(path, v.Encode(), 0444)
	if err != nil {
		return nil, err
	}
	log.Debugf("disk value write %s", k)
	return k, nil
}

func (s *diskValues) Read(ctx context.Context, k key.Key) (v *value.Value, ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return nil, false, err
	}
	buf, err := os.ReadFile(s.d.valuePath(k))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, _, err = value.Decode(buf)
	if err != nil {
		return nil, false, err
	}
	if !v.Key().Equal(k) {
		return nil, false, &IntegrityError{Want: k, Got: v.Key()}
	}
	return v, true, nil
}

type diskTags struct{ d *Disk }

func (s *diskTags) Update(ctx context.Context, t Tag, k key.Key) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	link, err := s.d.tagPath(t)
	if err != nil {
		return err
	}
	// target is relative so the db dir stays relocatable; it may
	// dangle until the value arrives via sync
	target, err := filepath.Rel(filepath.Dir(link), s.d.valuePath(k))
	if err != nil {
		return err
	}
	s.d.tagmu.Lock()
	defer s.d.tagmu.Unlock()
	return renameio.Symlink(target, link)
}

func (s *diskTags) Remove(ctx context.Context, t Tag) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	link, err := s.d.tagPath(t)
	if err != nil {
		return err
	}
	s.d.tagmu.Lock()
	defer s.d.tagmu.Unlock()
	err = os.Remove(link)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *diskTags) Read(ctx context.Context, t Tag) (k key.Key, ok bool, err error) {
	if err = ctx.Err(); err != nil {
		return nil, false, err
	}
	link, err := s.d.tagPath(t)
	if err != nil {
		return nil, false, err
	}
	target, err := os.Readlink(link)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	k, err = key.FromHex(filepath.Base(target))
	if err != nil {
		return nil, false, errors.Wrapf(err, "tag %s", t)
	}
	return k, true, nil
}

func (s *diskTags) List(ctx context.Context) (tags []Tag, err error) {
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(filepath.Join(s.d.Dir, "tag"))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		tags = append(tags, Tag(f.Name()))
	}
	return tags, nil
}

// WatchTags watches the tag directory with fsnotify and translates
// filesystem events into tag mutations.
func (s *diskTags) WatchTags(ctx context.Context) (<-chan TagEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Join(s.d.Dir, "tag"))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	ch := make(chan TagEvent, 16)
	go func() {
		defer close(ch)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Debugf("tag watcher error: %v", werr)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				t := Tag(filepath.Base(ev.Name))
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					// renameio replaces links via rename; re-read to
					// distinguish replace from removal
					k, present, rerr := s.Read(ctx, t)
					if rerr != nil || !present {
						ch <- TagEvent{Tag: t}
						continue
					}
					ch <- TagEvent{Tag: t, Key: k}
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					k, present, rerr := s.Read(ctx, t)
					if rerr != nil || !present {
						continue
					}
					ch <- TagEvent{Tag: t, Key: k}
				}
			}
		}
	}()
	return ch, nil
}

func canstat(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func mkdir(path string) error {
	return os.MkdirAll(path, 0755)
}
