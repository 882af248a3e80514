package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/RobertWHurst/jamn"
	"github.com/RobertWHurst/jamn/command"
	natsconnection "github.com/RobertWHurst/jamn/nats-connection"
	"github.com/RobertWHurst/jamn/preprocess"
	"github.com/RobertWHurst/jamn/webservice"
	"github.com/RobertWHurst/jamn/wso"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	serviceProviderID = "WebServiceProvider"
	metricsProviderID = "MetricsProvider"
)

func main() {
	config := jamn.DefaultConfig()
	flag.StringVar(&config.Host, "host", config.Host, "interface to listen on")
	flag.IntVar(&config.Port, "port", config.Port, "port to listen on")
	flag.IntVar(&config.Workers, "workers", config.Workers, "number of worker goroutines")
	flag.BoolVar(&config.AllowAllCORS, "cors", config.AllowAllCORS, "allow all cross origin requests")
	natsURL := flag.String("nats", "", "NATS server linking several instances")
	jwtKey := flag.String("jwt-key", "", "HS256 key guarding /api; empty disables the check")
	debug := flag.Bool("debug", false, "log frames and request cycles")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !*debug {
		logger = logger.Level(zerolog.InfoLevel)
	}
	config.Logger = logger

	registry := prometheus.NewRegistry()
	config.MetricsRegisterer = registry

	server := jamn.NewServer(config)

	wsoProvider := wso.NewProvider(config)
	commands := command.New(wsoProvider, logger)
	must(logger, commands.Register("echo", func(call *command.Call) (string, error) {
		return strings.Join(call.Args, " "), nil
	}))
	must(logger, commands.Register("time", func(call *command.Call) (string, error) {
		count := 5
		if len(call.Args) > 0 {
			n, err := strconv.Atoi(call.Args[0])
			if err != nil {
				return "", err
			}
			count = n
		}
		for i := 0; i < count; i++ {
			if err := call.Print(time.Now().Format(time.RFC3339)); err != nil {
				return "", err
			}
			time.Sleep(time.Second)
		}
		return "time stopped", nil
	}))
	must(logger, wsoProvider.AddMessageProcessor(commands))

	if *natsURL != "" {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			logger.Fatal().Err(err).Str("url", *natsURL).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		must(logger, wsoProvider.Registry().SetInterconnect(natsconnection.New(nc)))
	}

	services := webservice.New(logger)
	must(logger, services.Handle("/api/time", webservice.JSON(func(ctx context.Context, _ struct{}) (map[string]int64, error) {
		return map[string]int64{"time": time.Now().Unix()}, nil
	})))
	must(logger, services.Handle("/api/send", webservice.JSON(func(ctx context.Context, in struct {
		Connection string `json:"connection"`
		Message    string `json:"message"`
	}) (struct{}, error) {
		if !wsoProvider.IsConnectionAvailable(in.Connection) {
			return struct{}{}, webservice.Errorf(jamn.StatusNotFound, "no connection [%s]", in.Connection)
		}
		return struct{}{}, wsoProvider.SendMessageTo(in.Connection, []byte(in.Message))
	}), "POST"))

	dispatcher := jamn.NewPatternDispatcher("")
	must(logger, dispatcher.Route("/api/**", serviceProviderID))
	must(logger, dispatcher.Route("/metrics", metricsProviderID))
	server.SetContentProviderDispatcher(dispatcher)

	must(logger, server.AddContentProvider(jamn.WebSocketProviderID, wsoProvider))
	must(logger, server.AddContentProvider(serviceProviderID, services))
	must(logger, server.AddContentProvider(metricsProviderID, jamn.MetricsProvider(registry)))

	preprocessors := []jamn.MessagePreprocessor{
		preprocess.CORS("*"),
		preprocess.SessionCookie("JAMNSESSION"),
	}
	if *jwtKey != "" {
		preprocessors = append(preprocessors, preprocess.BearerAuth([]byte(*jwtKey), "/api"))
	}
	must(logger, server.SetMessagePreprocessor(preprocess.Chain(preprocessors...)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("addr", config.Address()).Msg("starting server")
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error().Err(err).Msg("server failed")
	}
}

func must(logger zerolog.Logger, err error) {
	if err != nil {
		logger.Fatal().Err(err).Msg("setup failed")
	}
}
