package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openlab/harplink/internal/auth"
	"github.com/openlab/harplink/internal/config"
	"github.com/openlab/harplink/internal/logging"
	"github.com/openlab/harplink/internal/protocol"
	"github.com/openlab/harplink/internal/protocol/packet"
	"github.com/openlab/harplink/internal/protocol/param"
	"github.com/openlab/harplink/internal/protocol/session"
	"github.com/openlab/harplink/internal/server"
)

type options struct {
	mode        string
	configPath  string
	targetsPath string
	target      string
	addr        string
	metricsAddr string
	diagToken   string

	dst       string
	iface     uint
	actionID  uint
	args      string
	noReply   bool
	requestID uint
	attempts  int
}

func main() {
	logging.ConfigureRuntime()
	opts := parseFlags()

	cfg, err := resolveInstrument(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := connectWithRetry(ctx, cfg, opts.attempts)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr).Msg("connect")
	}
	defer sess.Close()

	g, ctx := errgroup.WithContext(ctx)
	if opts.metricsAddr != "" {
		var validator auth.Validator
		if opts.diagToken != "" {
			validator = auth.StaticToken{Token: opts.diagToken}
		}
		diag := server.New(opts.metricsAddr, &sessionStatus{sess: sess}, validator)
		g.Go(func() error { return diag.Run(ctx) })
	}
	g.Go(func() error {
		defer stop()
		return runMode(ctx, opts, sess)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("harpctl")
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "probe", "mode: init | discover | invoke | probe")
	flag.StringVar(&opts.configPath, "config", "", "instrument config file (toml)")
	flag.StringVar(&opts.targetsPath, "targets", "", "targets file (toml)")
	flag.StringVar(&opts.target, "target", "", "target name from the targets file")
	flag.StringVar(&opts.addr, "addr", "", "instrument address host:port (overrides config)")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve diagnostics http on this address")
	flag.StringVar(&opts.diagToken, "diag-token", "", "bearer token guarding the diagnostics routes")
	flag.StringVar(&opts.dst, "dst", "", "destination object address module:node:object (invoke)")
	flag.UintVar(&opts.iface, "interface", 1, "interface id (invoke)")
	flag.UintVar(&opts.actionID, "action", 0, "action id (invoke)")
	flag.StringVar(&opts.args, "args", "", "comma-separated typed arguments, e.g. u32:100,bool:true,str:tip")
	flag.BoolVar(&opts.noReply, "no-reply", false, "fire and forget, do not wait for a response (invoke)")
	flag.UintVar(&opts.requestID, "request-id", 1, "discovery request id")
	flag.IntVar(&opts.attempts, "connect-attempts", 3, "dial attempts before giving up")
	flag.Parse()
	return opts
}

// resolveInstrument builds the effective instrument config from, in order
// of precedence, -addr, -config and -targets/-target.
func resolveInstrument(opts options) (config.InstrumentConfig, error) {
	var cfg config.InstrumentConfig
	switch {
	case opts.configPath != "":
		loaded, err := config.LoadInstrumentConfig(opts.configPath)
		if err != nil {
			return config.InstrumentConfig{}, err
		}
		cfg = loaded
	case opts.targetsPath != "":
		targets, err := loadTargets(opts.targetsPath)
		if err != nil {
			return config.InstrumentConfig{}, err
		}
		target, err := findTarget(targets, opts.target)
		if err != nil {
			return config.InstrumentConfig{}, err
		}
		cfg = instrumentFromTarget(target)
	case opts.addr != "":
		cfg = config.InstrumentConfig{Name: "instrument", Addr: opts.addr, InitVersion: 1}
	default:
		return config.InstrumentConfig{}, fmt.Errorf("one of -config, -targets or -addr is required")
	}
	if opts.addr != "" {
		cfg.Addr = opts.addr
	}
	return cfg, config.ValidateInstrumentConfig(cfg)
}

// connectWithRetry dials with backoff between attempts. Only the dial
// retries; requests on an established session never do.
func connectWithRetry(ctx context.Context, cfg config.InstrumentConfig, attempts int) (*session.Session, error) {
	if attempts < 1 {
		attempts = 1
	}
	sessCfg := sessionConfig(cfg)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sess, err := session.Connect(ctx, cfg.Addr, sessCfg, tunnelConfig(cfg))
		if err == nil {
			return sess, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := session.NextBackoffDelay(sessCfg.Backoff, attempt, nil)
		log.Warn().Err(err).Str("addr", cfg.Addr).Dur("retry_in", delay).Msg("dial failed")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func runMode(ctx context.Context, opts options, sess *session.Session) error {
	switch opts.mode {
	case "init":
		_, err := runInit(ctx, sess)
		return err
	case "discover":
		return runDiscover(ctx, opts, sess)
	case "invoke":
		return runInvoke(ctx, opts, sess)
	case "probe":
		if _, err := runInit(ctx, sess); err != nil {
			return err
		}
		return runDiscover(ctx, opts, sess)
	default:
		return fmt.Errorf("unknown mode %q (supported: init, discover, invoke, probe)", opts.mode)
	}
}

func runInit(ctx context.Context, sess *session.Session) (protocol.Address, error) {
	addr, err := sess.Init(ctx)
	if err != nil {
		return protocol.Address{}, fmt.Errorf("init: %w", err)
	}
	fmt.Printf("client address: %s\n", addr)
	return addr, nil
}

func runDiscover(ctx context.Context, opts options, sess *session.Session) error {
	if _, err := sess.ClientAddress(); err != nil {
		if _, err := runInit(ctx, sess); err != nil {
			return err
		}
	}
	objects, err := sess.Discover(ctx, packet.HarpProtoHoi, uint8(opts.requestID))
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	fmt.Printf("discovered %d object(s)\n", len(objects))
	for _, obj := range objects {
		fmt.Printf("  %s\n", obj)
	}
	return nil
}

func runInvoke(ctx context.Context, opts options, sess *session.Session) error {
	if opts.dst == "" {
		return fmt.Errorf("invoke requires -dst")
	}
	dst, err := parseAddress(opts.dst)
	if err != nil {
		return err
	}
	args, err := parseArgs(opts.args)
	if err != nil {
		return err
	}
	if _, err := sess.ClientAddress(); err != nil {
		if _, err := runInit(ctx, sess); err != nil {
			return err
		}
	}
	values, err := sess.Invoke(ctx, dst, uint8(opts.iface), uint16(opts.actionID), args, !opts.noReply)
	if err != nil {
		return fmt.Errorf("invoke %s action=%d: %w", dst, opts.actionID, err)
	}
	if opts.noReply {
		fmt.Println("sent")
		return nil
	}
	fmt.Printf("%d result value(s)\n", len(values))
	for i, v := range values {
		fmt.Printf("  [%d] %s\n", i, formatValue(v))
	}
	return nil
}

// parseAddress reads "module:node:object" with decimal components.
func parseAddress(s string) (protocol.Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return protocol.Address{}, fmt.Errorf("bad address %q: want module:node:object", s)
	}
	var fields [3]uint16
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 16)
		if err != nil {
			return protocol.Address{}, fmt.Errorf("bad address %q: %w", s, err)
		}
		fields[i] = uint16(v)
	}
	return protocol.Address{Module: fields[0], Node: fields[1], Object: fields[2]}, nil
}

// parseArgs reads a comma-separated list of type:value tokens.
func parseArgs(s string) ([]param.Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]param.Value, 0, len(parts))
	for _, part := range parts {
		v, err := parseValue(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// parseValue reads one "type:value" token. String values may contain
// further colons; only the first one splits.
func parseValue(token string) (param.Value, error) {
	kind, raw, ok := strings.Cut(token, ":")
	if !ok {
		return param.Value{}, fmt.Errorf("bad argument %q: want type:value", token)
	}
	switch kind {
	case "i8":
		v, err := strconv.ParseInt(raw, 10, 8)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad i8 %q: %w", raw, err)
		}
		return param.Int8(int8(v)), nil
	case "u8":
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad u8 %q: %w", raw, err)
		}
		return param.Uint8(uint8(v)), nil
	case "i16":
		v, err := strconv.ParseInt(raw, 10, 16)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad i16 %q: %w", raw, err)
		}
		return param.Int16(int16(v)), nil
	case "u16":
		v, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad u16 %q: %w", raw, err)
		}
		return param.Uint16(uint16(v)), nil
	case "i32":
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad i32 %q: %w", raw, err)
		}
		return param.Int32(int32(v)), nil
	case "u32":
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad u32 %q: %w", raw, err)
		}
		return param.Uint32(uint32(v)), nil
	case "bool":
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return param.Value{}, fmt.Errorf("bad bool %q: %w", raw, err)
		}
		return param.Bool(v), nil
	case "str":
		return param.String(raw), nil
	default:
		return param.Value{}, fmt.Errorf("unknown argument type %q (supported: i8 u8 i16 u16 i32 u32 bool str)", kind)
	}
}

func formatValue(v param.Value) string {
	if v.IsArray {
		parts := make([]string, 0, len(v.Elems))
		for _, e := range v.Elems {
			parts = append(parts, formatValue(e))
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	switch v.Kind {
	case param.KindInt8:
		return fmt.Sprintf("i8:%d", v.I8)
	case param.KindUint8:
		return fmt.Sprintf("u8:%d", v.U8)
	case param.KindInt16:
		return fmt.Sprintf("i16:%d", v.I16)
	case param.KindUint16:
		return fmt.Sprintf("u16:%d", v.U16)
	case param.KindInt32:
		return fmt.Sprintf("i32:%d", v.I32)
	case param.KindUint32:
		return fmt.Sprintf("u32:%d", v.U32)
	case param.KindBool:
		return fmt.Sprintf("bool:%t", v.B)
	case param.KindString:
		return fmt.Sprintf("str:%s", v.S)
	default:
		return fmt.Sprintf("kind(%d)", v.Kind)
	}
}

// sessionStatus adapts the live session to the diagnostics status view.
type sessionStatus struct {
	sess *session.Session
}

func (s *sessionStatus) State() string {
	return s.sess.State().String()
}

func (s *sessionStatus) ClientAddress() (protocol.Address, bool) {
	addr, err := s.sess.ClientAddress()
	return addr, err == nil
}

func (s *sessionStatus) DiscoveredObjects() []protocol.Address {
	return s.sess.DiscoveredObjects()
}

func (s *sessionStatus) UnsolicitedCount() uint64 {
	return s.sess.UnsolicitedCount()
}
