package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"

	"github.com/nymote/irminsule/key"
	"github.com/nymote/irminsule/proto"
	"github.com/nymote/irminsule/store"
	"github.com/nymote/irminsule/stream"
	isync "github.com/nymote/irminsule/sync"
	"github.com/nymote/irminsule/value"
)

func init() {
	var debug string
	debug = os.Getenv("DEBUG")
	if debug == "1" {
		log.SetLevel(log.DebugLevel)
	}
	logrus.SetReportCaller(true)
	formatter := &logrus.TextFormatter{
		CallerPrettyfier: caller(),
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyFile: "caller",
		},
	}
	formatter.TimestampFormat = "15:04:05.999999999"
	logrus.SetFormatter(formatter)
}

// caller returns string presentation of log caller which is formatted as
// `/path/to/file.go:line_number`. e.g. `/internal/app/api.go:25`
func caller() func(*runtime.Frame) (function string, file string) {
	return func(f *runtime.Frame) (function string, file string) {
		p, _ := os.Getwd()
		return "", fmt.Sprintf("%s:%d", strings.TrimPrefix(f.File, p), f.Line)
	}
}

type Opts struct {
	Init      bool
	Serve     bool
	Putblob   bool
	Getvalue  bool
	Pred      bool
	Succ      bool
	Tag       bool
	Update    bool
	Remove    bool
	Read      bool
	List      bool
	Pull      bool
	Push      bool
	Watch     bool
	Import    bool
	Cat       bool
	Name      string
	Hash      string
	Names     []string
	Addr      string `docopt:"-l"`
	Metrics   string `docopt:"--metrics"`
	Dir       string `docopt:"-d"`
	Network   string `docopt:"-n"`
	RemoteRaw string `docopt:"-r"`
}

func main() {
	os.Exit(run())
}

func run() (rc int) {

	usage := `irminsule

Usage:
  irmin init [-d <dir>]
  irmin serve [-d <dir>] [-l <addr>] [-n <network>] [--metrics <addr>]
  irmin putblob [-d <dir>]
  irmin getvalue [-d <dir>] <hash>
  irmin pred [-d <dir>] <hash>
  irmin succ [-d <dir>] <hash>
  irmin tag update [-d <dir>] <name> <hash>
  irmin tag remove [-d <dir>] <name>
  irmin tag read [-d <dir>] <name>
  irmin tag list [-d <dir>]
  irmin pull [-d <dir>] [-r <addr>] [-n <network>] <names>...
  irmin push [-d <dir>] [-r <addr>] [-n <network>] <names>...
  irmin watch [-r <addr>] [-n <network>] [<names>...]
  irmin import [-d <dir>] <name>
  irmin cat [-d <dir>] <name>

Options:
  -h --help        Show this screen.
  -d <dir>         Database directory [default: .]
  -l <addr>        Listen address [default: 127.0.0.1:9181]
  -r <addr>        Remote address [default: 127.0.0.1:9181]
  -n <network>     Network, tcp or unix [default: tcp]
  --metrics <addr> Serve prometheus metrics on addr.
  --version        Show version.
`
	parser := &docopt.Parser{OptionsFirst: false}
	o, _ := parser.ParseArgs(usage, os.Args[1:], "0.1")
	var opts Opts
	err := o.Bind(&opts)
	if err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	ctx := context.Background()

	switch true {
	case opts.Init:
		d, err := store.Disk{Dir: opts.Dir}.Create()
		if err != nil {
			log.Error(err)
			return 42
		}
		defer d.Close()
		fmt.Println(d.Dir)
	case opts.Serve:
		err := serve(ctx, opts)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Putblob:
		s, closer, err := open(opts)
		if err != nil {
			log.Error(err)
			return 42
		}
		defer closer()
		buf, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Error(err)
			return 5
		}
		k, err := s.Put(ctx, value.NewBlob(buf))
		if err != nil {
			log.Error(err)
			return 42
		}
		fmt.Println(k)
	case opts.Getvalue:
		s, closer, err := open(opts)
		if err != nil {
			log.Error(err)
			return 42
		}
		defer closer()
		k, err := key.FromHex(opts.Hash)
		if err != nil {
			log.Error(err)
			return 22
		}
		v, ok, err := s.Values.Read(ctx, k)
		if err != nil {
			log.Error(err)
			return 42
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "not found: %s\n", k)
			return 1
		}
		fmt.Println(v.Pretty())
	case opts.Pred, opts.Succ:
		s, closer, err := open(opts)
		if err != nil {
			log.Error(err)
			return 42
		}
		defer closer()
		k, err := key.FromHex(opts.Hash)
		if err != nil {
			log.Error(err)
			return 22
		}
		var keys []key.Key
		if opts.Pred {
			keys, err = s.Keys.Pred(ctx, k)
		} else {
			keys, err = s.Keys.Succ(ctx, k)
		}
		if err != nil {
			log.Error(err)
			return 42
		}
		for _, k := range keys {
			fmt.Println(k)
		}
	case opts.Tag:
		rc = tagCmd(ctx, opts)
	case opts.Pull:
		rc = pullCmd(ctx, opts)
	case opts.Push:
		rc = pushCmd(ctx, opts)
	case opts.Watch:
		rc = watchCmd(ctx, opts)
	case opts.Import:
		rc = importCmd(ctx, opts)
	case opts.Cat:
		rc = catCmd(ctx, opts)
	}
	return rc
}

// open loads the disk database under opts.Dir.
func open(opts Opts) (s store.Stores, closer func(), err error) {
	d, err := store.OpenDisk(opts.Dir)
	if err != nil {
		return s, nil, err
	}
	return d.Stores(), func() { d.Close() }, nil
}

func serve(ctx context.Context, opts Opts) (err error) {
	d, err := store.OpenDisk(opts.Dir)
	if err != nil {
		return err
	}
	defer d.Close()

	var metrics *proto.Metrics
	if opts.Metrics != "" {
		reg := prometheus.NewRegistry()
		metrics = proto.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			merr := http.ListenAndServe(opts.Metrics, mux)
			if merr != nil {
				log.Error(merr)
			}
		}()
	}

	listener, err := net.Listen(opts.Network, opts.Addr)
	if err != nil {
		return err
	}
	log.Infof("listening on %s %s", opts.Network, opts.Addr)

	srv := &proto.Server{
		Stores:          d.Stores(),
		WindowSize:      d.WindowSize,
		MaxPullVertices: d.MaxPullVertices,
		Metrics:         metrics,
	}
	return srv.Serve(ctx, listener)
}

func tagCmd(ctx context.Context, opts Opts) (rc int) {
	s, closer, err := open(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer closer()
	switch true {
	case opts.Update:
		k, err := key.FromHex(opts.Hash)
		if err != nil {
			log.Error(err)
			return 22
		}
		err = s.Tags.Update(ctx, store.Tag(opts.Name), k)
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Remove:
		err = s.Tags.Remove(ctx, store.Tag(opts.Name))
		if err != nil {
			log.Error(err)
			return 42
		}
	case opts.Read:
		k, ok, err := s.Tags.Read(ctx, store.Tag(opts.Name))
		if err != nil {
			log.Error(err)
			return 42
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no such tag: %s\n", opts.Name)
			return 1
		}
		fmt.Println(k)
	case opts.List:
		tags, err := s.Tags.List(ctx)
		if err != nil {
			log.Error(err)
			return 42
		}
		for _, t := range tags {
			fmt.Println(t)
		}
	}
	return 0
}

func dialRemote(opts Opts) (c *proto.Client, err error) {
	return proto.Dial(opts.Network, opts.RemoteRaw)
}

func tagsOf(names []string) (tags []store.Tag) {
	for _, name := range names {
		tags = append(tags, store.Tag(name))
	}
	return
}

func pullCmd(ctx context.Context, opts Opts) (rc int) {
	s, closer, err := open(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer closer()
	c, err := dialRemote(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer c.Close()
	g, err := isync.Pull(ctx, c, s, nil, tagsOf(opts.Names))
	if err != nil {
		log.Error(err)
		return 42
	}
	fmt.Printf("pulled %d vertices\n", g.Len())
	return 0
}

func pushCmd(ctx context.Context, opts Opts) (rc int) {
	s, closer, err := open(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer closer()
	c, err := dialRemote(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer c.Close()
	err = isync.Push(ctx, c, s, tagsOf(opts.Names))
	if err != nil {
		log.Error(err)
		return 42
	}
	return 0
}

func watchCmd(ctx context.Context, opts Opts) (rc int) {
	c, err := dialRemote(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer c.Close()
	events, err := c.Watch(ctx, tagsOf(opts.Names))
	if err != nil {
		log.Error(err)
		return 42
	}
	for ev := range events {
		for _, b := range ev.Tags {
			fmt.Printf("%s -> %s (%d new)\n", b.Tag, b.Key, ev.Delta.Len())
		}
	}
	return 0
}

func importCmd(ctx context.Context, opts Opts) (rc int) {
	s, closer, err := open(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer closer()
	ck, err := stream.Rabin{}.Init()
	if err != nil {
		log.Error(err)
		return 42
	}
	root, err := stream.Import(ctx, s, os.Stdin, ck)
	if err != nil {
		log.Error(err)
		return 42
	}
	err = s.Tags.Update(ctx, store.Tag(opts.Name), root)
	if err != nil {
		log.Error(err)
		return 42
	}
	fmt.Println(root)
	return 0
}

func catCmd(ctx context.Context, opts Opts) (rc int) {
	s, closer, err := open(opts)
	if err != nil {
		log.Error(err)
		return 42
	}
	defer closer()
	k, ok, err := s.Tags.Read(ctx, store.Tag(opts.Name))
	if err != nil {
		log.Error(err)
		return 42
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "no such tag: %s\n", opts.Name)
		return 1
	}
	err = stream.Cat(ctx, s, k, os.Stdout)
	if err != nil {
		log.Error(err)
		return 42
	}
	return 0
}
