// Command shopqueue runs the storefront background job workers.
package main

import (
	"fmt"
	"os"

	"github.com/DoNewsCode/core"
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/di"
	"github.com/DoNewsCode/core/otredis"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-redis/redis/v8"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/settings"
)

func main() {
	os.Exit(run())
}

func run() int {
	s, err := settings.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	c, err := bootstrap(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer c.Shutdown()

	root := &cobra.Command{
		Use:          "shopqueue",
		Short:        "Storefront background job workers",
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCommand(s))
	c.ApplyRootCommand(root)

	var app *workers
	defer func() {
		if app != nil {
			app.Close()
		}
	}()
	err = beforeServe(root, func() (err error) {
		app, err = wire(c, s)
		return err
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

// beforeServe runs hook ahead of the serve command only, so one-shot
// commands such as migrate or queue counts do not attach processors.
func beforeServe(root *cobra.Command, hook func() error) error {
	serve, _, err := root.Find([]string{"serve"})
	if err != nil || serve == root {
		return errors.New("serve command is not registered")
	}
	prev := serve.PersistentPreRunE
	serve.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if prev != nil {
			if err := prev(cmd, args); err != nil {
				return err
			}
		}
		return hook()
	}
	return nil
}

// bootstrap builds the container. Queues are durable when REDIS_URL is set
// and run inline otherwise.
func bootstrap(s settings.Settings) (*core.C, error) {
	options := []core.CoreOption{
		core.WithInline("name", "shopqueue"),
		core.WithInline("env", s.Environment),
		core.WithInline("log.level", s.LogLevel),
		core.WithInline("log.format", "logfmt"),
	}
	if s.ConfigFile != "" {
		options = append(options, core.WithConfigStack(file.Provider(s.ConfigFile), json.Parser()))
	}
	var redisOpt *redis.Options
	if s.Durable() {
		opt, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_URL")
		}
		redisOpt = opt
		options = append(options,
			core.WithInline("redis.default.addrs", []string{opt.Addr}),
			core.WithInline("redis.default.username", opt.Username),
			core.WithInline("redis.default.password", opt.Password),
			core.WithInline("redis.default.db", opt.DB),
		)
	}

	c := core.New(options...)
	c.ProvideEssentials()
	if redisOpt != nil {
		c.Provide(otredis.Providers(otredis.WithConfigInterceptor(redisInterceptor(redisOpt))))
	}
	c.Provide(queue.Providers())
	c.Provide(di.Deps{provideGauge})
	c.AddModuleFunc(core.NewServeModule)
	return c, nil
}

// redisInterceptor carries what the text config cannot hold, such as the TLS
// settings of a rediss:// URL, into the default connection.
func redisInterceptor(opt *redis.Options) otredis.RedisConfigurationInterceptor {
	return func(name string, conf *redis.UniversalOptions) {
		if name != "default" {
			return
		}
		conf.Addrs = []string{opt.Addr}
		conf.Username = opt.Username
		conf.Password = opt.Password
		conf.DB = opt.DB
		conf.TLSConfig = opt.TLSConfig
	}
}

func provideGauge(appName contract.AppName, env contract.Env) queue.Gauge {
	return prometheus.NewGaugeFrom(
		stdprometheus.GaugeOpts{
			Namespace: appName.String(),
			Subsystem: env.String(),
			Name:      "queue_length",
			Help:      "The gauge of queue length",
		}, []string{"queue", "channel"},
	)
}
