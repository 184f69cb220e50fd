package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/streadway/handy/report"

	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs"
	"github.com/Ratio1/webhdfs_sdk_go/pkg/webhdfs/fake"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	nnAddr := flag.String("nn-addr", ":50070", "namenode listen address")
	dnAddr := flag.String("dn-addr", ":50075", "datanode listen address")
	advertise := flag.String("dn-advertise", "", "datanode host:port placed in redirects (default localhost:<dn port>)")
	seed := flag.String("seed", "", "path to JSON seed for the namespace")
	latency := flag.Duration("latency", 0, "artificial latency to inject per request")
	fail := flag.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Str("program", program).Logger()

	fs := fake.NewFS()
	if *seed != "" {
		entries, err := loadSeed(*seed)
		if err != nil {
			logger.Fatal().Err(err).Str("seed", *seed).Msg("load seed")
		}
		if err := fs.Seed(entries); err != nil {
			logger.Fatal().Err(err).Str("seed", *seed).Msg("apply seed")
		}
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse fail flag")
	}

	dnAdvertise := *advertise
	if dnAdvertise == "" {
		_, port, err := net.SplitHostPort(*dnAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", *dnAddr).Msg("parse datanode address")
		}
		dnAdvertise = "localhost:" + port
	}
	cluster := fake.NewCluster(fs)
	cluster.SetDataNodeAddr(dnAdvertise)

	registerMetrics()

	nnMux := http.NewServeMux()
	nnMux.Handle("/metrics", promhttp.Handler())
	nnMux.Handle(webhdfs.ContextRoot+"/", report.JSON(os.Stdout,
		withMiddleware(logger, "namenode", *latency, failCfg, cluster.NameNode())))

	dnMux := http.NewServeMux()
	dnMux.Handle(webhdfs.ContextRoot+"/", report.JSON(os.Stdout,
		withMiddleware(logger, "datanode", *latency, failCfg, cluster.DataNode())))

	errc := make(chan error, 2)
	go func() { errc <- serve(*nnAddr, nnMux) }()
	go func() { errc <- serve(*dnAddr, dnMux) }()

	logger.Info().Str("namenode", *nnAddr).Str("datanode", *dnAddr).Str("advertise", dnAdvertise).Msg("webhdfs sandbox listening")
	nnHost := *nnAddr
	if strings.HasPrefix(nnHost, ":") {
		nnHost = "localhost" + nnHost
	}
	host, port, _ := net.SplitHostPort(nnHost)
	fmt.Println()
	fmt.Printf("export WEBHDFS_HOST=%s\n", host)
	fmt.Printf("export WEBHDFS_PORT=%s\n", port)
	fmt.Printf("export WEBHDFS_USER=%s\n", "sandbox")
	fmt.Println()

	if err := <-errc; err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func serve(addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func withMiddleware(logger zerolog.Logger, node string, delay time.Duration, failCfg failConfig, next http.Handler) http.Handler {
	return metrics(node, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug().Str("node", node).Str("method", r.Method).Str("path", r.URL.Path).Str("op", r.URL.Query().Get("op")).Msg("exec request")
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			http.Error(w, "failure injected", status)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func loadSeed(path string) ([]fake.SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []fake.SeedEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return entries, nil
}

// parseFailConfig reads "rate=<0..1>[,code=<4xx|5xx>]". The code defaults to
// 500.
func parseFailConfig(raw string) (failConfig, error) {
	cfg := failConfig{code: http.StatusInternalServerError}
	if strings.TrimSpace(raw) == "" {
		return failConfig{}, nil
	}
	for _, field := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return failConfig{}, errors.Errorf("fail: expected key=value, got %q", field)
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "rate":
			rate, err := strconv.ParseFloat(value, 64)
			if err != nil || rate < 0 || rate > 1 {
				return failConfig{}, errors.Errorf("fail: rate must be within [0,1], got %q", value)
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(value)
			if err != nil || code < 400 || code > 599 {
				return failConfig{}, errors.Errorf("fail: code must be an HTTP error status, got %q", value)
			}
			cfg.code = code
		default:
			return failConfig{}, errors.Errorf("fail: unknown key %q", key)
		}
	}
	return cfg, nil
}
