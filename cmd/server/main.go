package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"proxywaf/bodyparsing"
	"proxywaf/config"
	"proxywaf/customrule"
	"proxywaf/firewall"
	"proxywaf/geodb"
	"proxywaf/ipaddresses"
	"proxywaf/logging"
	"proxywaf/waf"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

// Dependency injection composition root
func main() {
	configFiles := flag.String("config", "", "comma separated list of YAML config files. Routes are read from all of them")
	listen := flag.String("listen", ":8080", "address the proxy listens on")
	logLevel := flag.String("loglevel", "error", "sets log level. Can be one of: debug, info, warn, error, fatal, panic.")
	profiling := flag.Bool("profiling", false, "whether to enable the :6060/debug/pprof/ endpoint")
	forwardedHeader := flag.String("forwardedheader", ipaddresses.DefaultForwardedHeader, "header the client address is taken from. Empty means the socket address is the client address")
	pollInterval := flag.Duration("pollinterval", firewall.DefaultPollInterval, "how often config sources that cannot signal changes are polled")
	maxConns := flag.Int("maxconns", 1000, "maximum number of simultaneous client connections")
	auditLog := flag.String("auditlog", "", "if set, firewall audit records are also appended as JSON lines to this file")
	limitsArg := flag.String("bodylimits", "", fmt.Sprintf("if set, use these request body length limits. Unit is bytes. This parameter takes three integer values: max length of any single field, max length of request bodies excluding file fields in multipart/form-data bodies, and max total request body length. Example (these are the defaults): -bodylimits=%v,%v,%v ", waf.DefaultLengthLimits.MaxLengthField, waf.DefaultLengthLimits.MaxLengthPausable, waf.DefaultLengthLimits.MaxLengthTotal))
	flag.Parse()

	if *profiling {
		go func() {
			http.ListenAndServe(":6060", nil)
		}()
	}

	loglevel, _ := zerolog.ParseLevel(*logLevel)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(loglevel).With().Timestamp().Caller().Logger()

	lengthLimits, err := parseLengthLimitsArgOrDefault(*limitsArg, waf.DefaultLengthLimits)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid bodylimits arg")
	}

	paths := splitList(*configFiles)
	if len(paths) == 0 {
		logger.Fatal().Msg("At least one config file must be given with -config")
	}

	var sources []waf.ConfigProvider
	var routeSources config.MultiRouteSource
	for _, path := range paths {
		p, err := config.NewFileProvider(logger, path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("Error while opening config file")
		}
		defer p.Close()
		sources = append(sources, p)
		routeSources = append(routeSources, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	geoDBs := geodb.NewFactory(logger, nil, *pollInterval, sources...)
	defer geoDBs.Close()

	builder := customrule.NewEvaluatorBuilder(bodyparsing.NewFormParser(lengthLimits), *forwardedHeader, customrule.DefaultConditionFactories(geoDBs)...)
	manager := firewall.NewManager(logger, builder, routeSources, *pollInterval, sources...)

	rl := logging.MultiResultsLogger{logging.NewZerologResultsLogger(logger)}
	if *auditLog != "" {
		frl, err := logging.NewFileResultsLogger(logging.NewLogFileSystem(), *auditLog, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Error while opening audit log")
		}
		defer frl.Close()
		rl = append(rl, frl)
	}

	router := newProxyRouter(logger, firewall.NewServer(logger, manager, rl), lengthLimits)
	manager.OnReload(func(err error) {
		if err != nil {
			return
		}
		routes, _ := routeSources.Routes()
		router.update(routes)
	})

	if err := geoDBs.Reload(); err != nil && !errors.Is(err, geodb.ErrNoDatabaseConfigured) {
		logger.Warn().Err(err).Msg("GeoIP database not available yet, GeoIP conditions will not match")
	}
	if err := manager.Reload(); err != nil {
		logger.Fatal().Err(err).Msg("Error while loading firewall config")
	}

	go geoDBs.Run(ctx)
	go manager.Run(ctx)

	l, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Fatal().Err(err).Str("address", *listen).Msg("Error while opening listener")
	}

	s := &http.Server{Handler: router, ReadHeaderTimeout: 30 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("address", l.Addr().String()).Msg("Starting WAF proxy")
	if err := s.Serve(netutil.LimitListener(l, *maxConns)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Error while running WAF proxy")
	}
}

func parseLengthLimitsArgOrDefault(limitsArg string, defaults waf.LengthLimits) (lengthLimits waf.LengthLimits, err error) {
	lengthLimits = defaults
	if limitsArg == "" {
		return
	}

	nn := strings.Split(limitsArg, ",")
	if len(nn) != 3 {
		err = errors.New("the limits arg must contain exactly 3 comma separated integer values")
		return
	}

	var n [3]int
	for i, s := range nn {
		n[i], err = strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			err = fmt.Errorf("error while parsing limits arg %v: %w", i+1, err)
			return
		}
		if n[i] <= 0 {
			err = fmt.Errorf("limits arg %v must be positive", i+1)
			return
		}
	}

	lengthLimits.MaxLengthField = n[0]
	lengthLimits.MaxLengthPausable = n[1]
	lengthLimits.MaxLengthTotal = n[2]
	return
}

func splitList(arg string) (items []string) {
	for _, s := range strings.Split(arg, ",") {
		if s = strings.TrimSpace(s); s != "" {
			items = append(items, s)
		}
	}
	return
}
