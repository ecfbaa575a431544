package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/danmuck/xlloop/internal/client"
	"github.com/danmuck/xlloop/internal/config"
	"github.com/danmuck/xlloop/internal/functions"
	"github.com/danmuck/xlloop/internal/logging"
	"github.com/danmuck/xlloop/internal/protocol"
	"github.com/danmuck/xlloop/internal/protocol/session"
)

type options struct {
	configPath string
	addr       string
	legacy     bool
	sheet      string
	caller     string
	list       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to a client config file")
	flag.StringVar(&opts.addr, "addr", "", "server address (overrides config)")
	flag.BoolVar(&opts.legacy, "legacy", false, "send the header-less call form")
	flag.StringVar(&opts.sheet, "sheet", "", "sheet name sent as call context")
	flag.StringVar(&opts.caller, "caller", "", "calling range sent as context, e.g. R1C1:R3C4")
	flag.BoolVar(&opts.list, "list", false, "list the server's functions")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: xlcall [flags] FUNCTION [ARG...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	logging.ConfigureRuntime()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, opts, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "xlcall: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string, out io.Writer) error {
	cfg := config.DefaultClientConfig()
	if opts.configPath != "" {
		loaded, err := config.LoadClientConfig(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	if opts.legacy {
		cfg.Options.Legacy = true
	}

	name := functions.GetFunctionsName
	if !opts.list {
		if len(args) == 0 {
			return fmt.Errorf("function name required")
		}
		name, args = args[0], args[1:]
	}

	values := make([]protocol.Value, 0, len(args))
	for _, raw := range args {
		v, err := parseArg(raw)
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	fc, err := callContext(opts)
	if err != nil {
		return err
	}

	c, err := client.Dial(ctx, cfg.Addr, cfg.Options)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Call(ctx, fc, name, values...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, formatResult(result))
	return err
}

func callContext(opts options) (*session.FunctionContext, error) {
	if opts.sheet == "" && opts.caller == "" {
		return nil, nil
	}
	fc := &session.FunctionContext{Caller: protocol.Nil{}, SheetName: protocol.Nil{}}
	if opts.sheet != "" {
		fc.SheetName = protocol.Text(opts.sheet)
	}
	if opts.caller != "" {
		ref, err := parseRange(opts.caller)
		if err != nil {
			return nil, err
		}
		fc.Caller = ref
	}
	return fc, nil
}
