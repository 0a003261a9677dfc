package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ash2k/stager/wait"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atlassian/nodedispatch"
	"github.com/atlassian/nodedispatch/pkg/dispatch"
	"github.com/atlassian/nodedispatch/pkg/nodes"
	"github.com/atlassian/nodedispatch/pkg/stats"
	"github.com/atlassian/nodedispatch/pkg/transport"
	"github.com/atlassian/nodedispatch/pkg/util"
	"github.com/atlassian/nodedispatch/pkg/web"
)

var (
	// BuildDate is the date when the binary was built.
	BuildDate string
	// GitCommit is the commit hash that built the binary.
	GitCommit string
	// Version is the version.
	Version string
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamProfile enables profiler endpoint on the specified address and port.
	ParamProfile = "profile"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
	// ParamRedisAddr enables tracking cluster membership through redis.
	ParamRedisAddr = "redis-addr"
	// ParamRedisNamespace is the redis channel membership is announced on.
	ParamRedisNamespace = "redis-namespace"
	// ParamAdvertise is the node announced to the cluster, empty to only observe.
	ParamAdvertise = "advertise"
	// ParamClusterUpdateInterval is how often this node announces itself.
	ParamClusterUpdateInterval = "cluster-update-interval"
	// ParamClusterExpiryInterval is how long a silent node stays in the cluster.
	ParamClusterExpiryInterval = "cluster-expiry-interval"
)

func main() {
	rand.Seed(time.Now().UnixNano())
	v, version, err := setupConfiguration()
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", Version, GitCommit, BuildDate)
		return
	}
	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logrus.Info("Starting dispatcher")
	runnables, err := constructRunnables(v)
	if err != nil {
		return err
	}

	profileAddr := v.GetString(ParamProfile)
	if profileAddr != "" {
		go func() {
			logrus.Errorf("Profiler server failed: %v", http.ListenAndServe(profileAddr, nil))
		}()
	}

	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	var wg wait.Group
	for _, runnable := range runnables {
		wg.StartWithContext(ctx, runnable)
	}
	wg.Wait()
	logrus.Info("Stopped dispatcher")
	return nil
}

// constructRunnables wires the transport, selector, dispatcher, and servers together,
// and returns everything which needs a goroutine.
func constructRunnables(v *viper.Viper) ([]nodedispatch.Runnable, error) {
	var runnables []nodedispatch.Runnable
	logger := logrus.StandardLogger()

	// Internal metrics
	registry := prometheus.NewRegistry()
	statserType := v.GetString(nodedispatch.ParamStatserType)
	tags := nodedispatch.Tags(v.GetStringSlice(nodedispatch.ParamInternalTags)).Concat(nodedispatch.Tags{
		fmt.Sprintf("version:%s", Version),
		fmt.Sprintf("commit:%s", GitCommit),
	})
	statser, err := stats.NewStatser(statserType, logger, v.GetString(nodedispatch.ParamInternalNamespace), tags, registry)
	if err != nil {
		return nil, err
	}
	if statserType != nodedispatch.StatserPrometheus {
		registry = nil
	}

	// Transport
	pool := transport.NewTransportPool(logger, v)
	client, err := pool.Get(v.GetString(nodedispatch.ParamTransport))
	if err != nil {
		return nil, err
	}

	// Selector
	selector, err := nodes.NewSelectorFromViper(v, logger, client, statser)
	if err != nil {
		return nil, err
	}
	runnables = nodedispatch.MaybeAppendRunnable(runnables, selector)

	// Membership
	if redisAddr := v.GetString(ParamRedisAddr); redisAddr != "" {
		tracker, err := newRedisNodeTrackerFromViper(v, logger, selector, redisAddr)
		if err != nil {
			return nil, err
		}
		runnables = append(runnables, tracker.Run)
	}

	// Dispatcher and servers
	dispatcher := dispatch.NewDispatcherFromViper(v, logger, selector, client, statser)
	var gatherer prometheus.Gatherer
	if registry != nil {
		gatherer = registry
	}
	servers, err := web.NewHttpServersFromViper(v, logger, dispatcher, gatherer)
	if err != nil {
		return nil, err
	}
	for _, server := range servers {
		runnables = append(runnables, server.Run)
	}
	return runnables, nil
}

func newRedisNodeTrackerFromViper(
	v *viper.Viper,
	logger logrus.FieldLogger,
	selector nodedispatch.NodeSelector,
	redisAddr string,
) (*nodes.RedisNodeTracker, error) {
	updater, ok := selector.(nodedispatch.NodeUpdater)
	if !ok {
		return nil, fmt.Errorf("%s (%s) can not be updated from redis", nodedispatch.ParamSelector, v.GetString(nodedispatch.ParamSelector))
	}

	var self nodedispatch.Node
	if advertise := v.GetString(ParamAdvertise); advertise != "" {
		var err error
		if self, err = nodedispatch.ParseNode(advertise); err != nil {
			return nil, fmt.Errorf("%s: %w", ParamAdvertise, err)
		}
	}

	updateInterval := v.GetDuration(ParamClusterUpdateInterval)
	expiryInterval := v.GetDuration(ParamClusterExpiryInterval)
	if updateInterval <= 0 || expiryInterval <= updateInterval {
		return nil, fmt.Errorf("%s must be positive and less than %s", ParamClusterUpdateInterval, ParamClusterExpiryInterval)
	}

	logger.WithFields(logrus.Fields{
		ParamRedisAddr:      redisAddr,
		ParamRedisNamespace: v.GetString(ParamRedisNamespace),
		ParamAdvertise:      v.GetString(ParamAdvertise),
	}).Info("Tracking cluster membership through redis")

	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   0,
	})
	return nodes.NewRedisNodeTracker(
		logger,
		updater,
		redisClient,
		v.GetString(ParamRedisNamespace),
		self,
		updateInterval,
		expiryInterval,
	), nil
}

func setupConfiguration() (*viper.Viper, bool, error) {
	v := viper.New()
	defer setupLogger(v) // Apply logging configuration in case of early exit
	util.InitViper(v, "")

	var version bool

	cmd := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	cmd.Bool(ParamVerbose, false, "Verbose")
	cmd.Bool(ParamJSON, false, "Log in JSON format")
	cmd.String(ParamProfile, "", "Enable profiler endpoint on the specified address and port")
	cmd.String(ParamConfigPath, "", "Path to the configuration file")
	cmd.String(ParamRedisAddr, "", "Redis address to track cluster membership through, empty to disable")
	cmd.String(ParamRedisNamespace, "nodedispatch", "Redis channel cluster membership is announced on")
	cmd.String(ParamAdvertise, "", "Node to announce to the cluster, empty to only observe")
	cmd.Duration(ParamClusterUpdateInterval, time.Second, "How often to announce this node to the cluster")
	cmd.Duration(ParamClusterExpiryInterval, 4*time.Second, "How long a silent node stays in the cluster")

	nodedispatch.AddFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(os.Args[1:]); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func setupLogger(v *viper.Viper) {
	if v.GetBool(ParamVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
