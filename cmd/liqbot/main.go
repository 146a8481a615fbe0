// liqbot runs the collateral-vault liquidation bot: per-chain monitors,
// factory scanners and the HTTP snapshot/metrics API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/twynelabs/liqbot/internal/api"
	"github.com/twynelabs/liqbot/internal/config"
	"github.com/twynelabs/liqbot/internal/manager"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chainsFlag := flag.String("chains", "", "comma-separated chain ids to run (default: all configured)")
	notify := flag.Bool("notify", true, "send operator notifications")
	execute := flag.Bool("execute", true, "broadcast liquidation transactions")
	flag.Parse()

	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	file, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	chainIDs, err := selectChains(file, *chainsFlag)
	if err != nil {
		log.Fatalf("select chains: %v", err)
	}

	mgr, err := manager.New(file, chainIDs, manager.Options{Notify: *notify, Execute: *execute}, log)
	if err != nil {
		log.Fatalf("build chain stacks: %v", err)
	}

	sources := make(map[int64]api.PositionSource, len(chainIDs))
	for _, id := range chainIDs {
		stack, _ := mgr.Stack(id)
		sources[id] = stack.Monitor
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", file.Global.APIPort),
		Handler: api.NewServer(sources, logrus.NewEntry(log)).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr.Start(ctx)
	go func() {
		log.Infof("api listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("api server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	mgr.Stop()
}

func selectChains(file *config.File, flagValue string) ([]int64, error) {
	if flagValue == "" {
		ids := make([]int64, 0, len(file.Chains))
		for id := range file.Chains {
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("no chains configured")
		}
		return ids, nil
	}

	var ids []int64
	for _, part := range strings.Split(flagValue, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
