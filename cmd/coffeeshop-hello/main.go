package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/denwong47/coffeeshop/go/shop"
)

// Config is the top-level configuration object of the hello-world shop.
var Config = new(struct {
	Shop shop.Config `group:"Shop" namespace:"shop" env-namespace:"SHOP"`

	Log struct {
		Level string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	if level, err := log.ParseLevel(Config.Log.Level); err == nil {
		log.SetLevel(level)
	}
	log.WithField("config", Config).Info("coffeeshop-hello configuration")

	var s, err = shop.New[HelloQuery, HelloPayload, HelloResult](
		"hello-world", NewHelloMachine(), Config.Shop)
	if err != nil {
		return fmt.Errorf("building shop: %w", err)
	}
	s.AdditionalRoutes = map[string]http.Handler{
		"/metrics": promhttp.Handler(),
	}

	var tasks = task.NewGroup(context.Background())
	s.QueueTasks(tasks)

	// Install signal handler & start shop tasks.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.GoRun()

	// Block until all tasks complete.
	if err = tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}

	log.Info("goodbye")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the hello-world shop", `
Serve a hello-world coffeeshop with the provided configuration, until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
