package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sammck-go/rmitap/pkg/jrmp"
	"github.com/sammck-go/rmitap/pkg/payload"
	"github.com/sammck-go/rmitap/pkg/rtnet"
	"github.com/sammck-go/rmitap/pkg/svuid"
	rtshare "github.com/sammck-go/rmitap/share"
)

const (
	appName = "rmitap"
	usage   = appName + `
Intercepts Java RMI (JRMP) traffic between a local client and a remote registry
or object endpoint, and helps inspect and splice serialized payloads.

usage:
` + appName + ` [global options] <command> [command options] [args]

commands:
  forward  relay each target unchanged, listening on the target's own port
  capture  relay one target and record the ReplyData it returns
  uidfix   relay one target, rewriting serialVersionUIDs of known classes
  decode   decode a hex-encoded ReplyData capture
  fixrefs  shift back-reference handles in a hex-encoded payload
  compose  build a payload from a yaml template

global options:
`
)

type globals struct {
	opts   *rtshare.Options
	logger rtshare.Logger
	stdin  io.Reader
	stdout io.Writer
}

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", appName, err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	configPath := fs.String("config", "", "yaml options file")
	logLevel := fs.String("log-level", "", "log level (error, warn, info, debug, trace)")
	listenHost := fs.String("listen", "", "address proxies listen on")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts, err := rtshare.LoadOptions(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		if err := opts.LogLevel.FromString(*logLevel); err != nil {
			return err
		}
	}
	if *listenHost != "" {
		opts.ListenHost = *listenHost
	}
	g := &globals{
		opts:   opts,
		logger: rtshare.NewLogger(appName, opts.LogLevel),
		stdin:  stdin,
		stdout: stdout,
	}
	defer g.logger.Sync()

	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "forward":
		return g.forward(cmdArgs)
	case "capture":
		return g.capture(cmdArgs)
	case "uidfix":
		return g.uidfix(cmdArgs)
	case "decode":
		return g.decode(cmdArgs)
	case "fixrefs":
		return g.fixrefs(cmdArgs)
	case "compose":
		return g.compose(cmdArgs)
	}
	fs.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}

// targets collects endpoints from a target list file and/or "host[:port]" arguments
func targets(listPath string, args []string) ([]rtshare.Endpoint, error) {
	var eps []rtshare.Endpoint
	if listPath != "" {
		f, err := os.Open(listPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		eps, err = rtshare.LoadTargets(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", listPath, err)
		}
	}
	for _, a := range args {
		ep, err := rtshare.ParseEndpoint(a, rtshare.DefaultRegistryPort)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	if len(eps) == 0 {
		return nil, errors.New("no targets given")
	}
	return eps, nil
}

func singleTarget(args []string) (rtshare.Endpoint, error) {
	if len(args) != 1 {
		return rtshare.Endpoint{}, errors.New("expected exactly one target")
	}
	return rtshare.ParseEndpoint(args[0], rtshare.DefaultRegistryPort)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (g *globals) forward(args []string) error {
	fs := flag.NewFlagSet("forward", flag.ContinueOnError)
	list := fs.String("targets", "", "file with one \"host\" or \"host port\" per line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	eps, err := targets(*list, fs.Args())
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	var proxies []*rtnet.ProxyServer
	defer func() {
		for _, p := range proxies {
			p.Stop(false)
		}
	}()
	for _, ep := range eps {
		p := rtnet.NewPortForwarder(g.logger, g.opts, ep)
		if err := p.Start(); err != nil {
			return err
		}
		proxies = append(proxies, p)
		local, _ := p.ListenEndpoint()
		g.logger.ILogf("forwarding %s to %s", local, ep)
	}
	<-ctx.Done()
	return nil
}

func (g *globals) capture(args []string) error {
	fs := flag.NewFlagSet("capture", flag.ContinueOnError)
	port := fs.Int("port", 0, "local listen port (0 picks one)")
	out := fs.String("o", "", "write the captured ReplyData as hex to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := singleTarget(fs.Args())
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	p := rtnet.NewReplyCaptureProxy(g.logger, g.opts, target)
	p.SetListenPort(*port)
	if err := p.Start(); err != nil {
		return err
	}
	local, _ := p.ListenEndpoint()
	g.logger.ILogf("capturing replies from %s on %s; interrupt to finish", target, local)
	<-ctx.Done()

	data, ok := p.DataBuffer()
	if p.DidReconnect() {
		g.logger.WLogf("client reconnected during capture; only the last session was kept")
	}
	p.Stop(false)
	if !ok || len(data) == 0 {
		return errors.New("nothing captured")
	}
	w := g.stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	_, err = fmt.Fprintln(w, hex.EncodeToString(data))
	return err
}

func (g *globals) uidfix(args []string) error {
	fs := flag.NewFlagSet("uidfix", flag.ContinueOnError)
	port := fs.Int("port", 0, "local listen port (0 picks one)")
	table := fs.String("table", "", "yaml serialVersionUID table, watched for changes (overrides uid_table)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	target, err := singleTarget(fs.Args())
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	uids := svuid.Default()
	path := g.opts.UIDTable
	if *table != "" {
		path = *table
	}
	if path != "" {
		if err := uids.LoadFile(path); err != nil {
			return err
		}
		if err := uids.Watch(ctx, g.logger, path); err != nil {
			g.logger.WLogf("not watching %s: %s", path, err)
		}
	}

	p := rtnet.NewUIDFixingProxy(g.logger, g.opts, target, uids)
	p.SetListenPort(*port)
	if err := p.Start(); err != nil {
		return err
	}
	defer p.Stop(false)
	local, _ := p.ListenEndpoint()
	g.logger.ILogf("fixing serialVersionUIDs (%d known) from %s on %s", uids.Len(), target, local)
	<-ctx.Done()
	return nil
}

// readHexInput reads hex from the named file, or stdin for "" or "-". Whitespace is ignored.
func (g *globals) readHexInput(path string) ([]byte, error) {
	var r io.Reader = g.stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.Join(strings.Fields(string(text)), ""))
}

func (g *globals) decode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	name := fs.String("name", "", "registry name to report the object under")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := g.readHexInput(fs.Arg(0))
	if err != nil {
		return err
	}
	obj := jrmp.DecodeReplyData(*name, data)
	for _, class := range obj.Classes() {
		fmt.Fprintln(g.stdout, class)
		for _, a := range obj.ClassAnnotations(class) {
			fmt.Fprintf(g.stdout, "  annotation: %s\n", a)
		}
	}
	if ep, ok := obj.Endpoint(); ok {
		fmt.Fprintf(g.stdout, "endpoint: %s\n", ep)
	}
	return obj.ParseErr
}

func (g *globals) fixrefs(args []string) error {
	fs := flag.NewFlagSet("fixrefs", flag.ContinueOnError)
	correction := fs.Int("c", 0, "amount to add to every back-reference handle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := g.readHexInput(fs.Arg(0))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.stdout, hex.EncodeToString(payload.FixReferences(data, *correction)))
	return err
}

func (g *globals) compose(args []string) error {
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	templates := fs.String("templates", "", "yaml payload template file")
	name := fs.String("name", "", "template to use")
	correction := fs.Int("c", 0, "back-reference handle correction")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *templates == "" || fs.NArg() != 1 {
		return errors.New("usage: compose -templates file -name template [-c n] command")
	}
	composers, err := payload.LoadTemplates(*templates)
	if err != nil {
		return err
	}
	for _, c := range composers {
		if c.Name != *name {
			continue
		}
		b, err := c.Compose(fs.Arg(0), *correction)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(g.stdout, hex.EncodeToString(b))
		return err
	}
	return fmt.Errorf("no template named %q in %s", *name, *templates)
}
