package queue

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/DoNewsCode/core/config"
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/di"
	"github.com/DoNewsCode/core/otredis"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
)

/*
Providers returns a set of dependencies related to queue. It includes the
*Registry and the exported configs.
	Depends On:
		contract.ConfigAccessor
		log.Logger
		contract.AppName
		contract.Env
		otredis.Maker `optional:"true"`
		Gauge         `optional:"true"`
	Provides:
		*Registry
*/
func Providers(optionFunc ...ProvidersOptionFunc) di.Deps {
	option := &providersOption{}
	for _, f := range optionFunc {
		f(option)
	}
	return []interface{}{
		provideRegistry(option),
		provideConfig,
	}
}

// Gauge is an alias used for dependency injection
type Gauge metrics.Gauge

// Configuration is the struct for queue configs. Entries other than "default"
// override the default per queue name.
type Configuration struct {
	RedisName                      string `yaml:"redisName" json:"redisName"`
	Parallelism                    int    `yaml:"parallelism" json:"parallelism"`
	CheckQueueLengthIntervalSecond int    `yaml:"checkQueueLengthIntervalSecond" json:"checkQueueLengthIntervalSecond"`
	HandleTimeoutSecond            int    `yaml:"handleTimeoutSecond" json:"handleTimeoutSecond"`
	StalledCheckIntervalSecond     int    `yaml:"stalledCheckIntervalSecond" json:"stalledCheckIntervalSecond"`
}

func (c Configuration) merge(o Configuration) Configuration {
	if o.RedisName != "" {
		c.RedisName = o.RedisName
	}
	if o.Parallelism != 0 {
		c.Parallelism = o.Parallelism
	}
	if o.CheckQueueLengthIntervalSecond != 0 {
		c.CheckQueueLengthIntervalSecond = o.CheckQueueLengthIntervalSecond
	}
	if o.HandleTimeoutSecond != 0 {
		c.HandleTimeoutSecond = o.HandleTimeoutSecond
	}
	if o.StalledCheckIntervalSecond != 0 {
		c.StalledCheckIntervalSecond = o.StalledCheckIntervalSecond
	}
	return c
}

// stalledRecoveryDisabled lists queues whose jobs must not run twice. A stalled
// email job may already have sent its mail.
var stalledRecoveryDisabled = map[string]bool{
	Email: true,
}

// makerIn is the injection parameters for provideRegistry
type makerIn struct {
	di.In

	Conf       contract.ConfigAccessor
	Logger     log.Logger
	AppName    contract.AppName
	Env        contract.Env
	RedisMaker otredis.Maker `optional:"true"`
	Gauge      Gauge         `optional:"true"`
}

// makerOut is the di output of provideRegistry
type makerOut struct {
	di.Out

	Registry *Registry
}

func (m makerOut) ModuleSentinel() {}

func (m makerOut) Module() interface{} { return m }

// provideRegistry builds every queue. Queues are durable when a redis client
// or a driver constructor is available and fall back to inline dispatch
// otherwise.
func provideRegistry(option *providersOption) func(p makerIn) (makerOut, error) {
	construct := option.driverConstructor
	if construct == nil {
		construct = newDefaultDriver
	}
	return func(p makerIn) (makerOut, error) {
		var queueConfs map[string]Configuration
		if err := p.Conf.Unmarshal("queue", &queueConfs); err != nil {
			_ = level.Warn(p.Logger).Log("err", err)
		}
		base := Configuration{Parallelism: runtime.NumCPU()}.merge(queueConfs["default"])

		durable := option.driverConstructor != nil || p.RedisMaker != nil
		if !durable {
			_ = level.Warn(p.Logger).Log("msg", "no broker configured, jobs run inline")
			return makerOut{Registry: NewFallbackRegistry(p.Logger)}, nil
		}

		registry, err := NewRegistry(func(name string) (Queue, error) {
			conf := base.merge(queueConfs[name])
			driver, err := construct(DriverConstructorArgs{
				Name:       name,
				Conf:       conf,
				Logger:     p.Logger,
				AppName:    p.AppName,
				Env:        p.Env,
				RedisMaker: p.RedisMaker,
			})
			if err != nil {
				return nil, err
			}
			opts := []func(*BrokerQueue){
				UseLogger(p.Logger),
				UseParallelism(conf.Parallelism),
				UseHandleTimeout(time.Duration(conf.HandleTimeoutSecond) * time.Second),
			}
			if conf.StalledCheckIntervalSecond > 0 {
				opts = append(opts, UseStalledCheckInterval(time.Duration(conf.StalledCheckIntervalSecond)*time.Second))
			}
			if p.Gauge != nil {
				opts = append(opts, UseGauge(p.Gauge.With("queue", name), time.Duration(conf.CheckQueueLengthIntervalSecond)*time.Second))
			}
			if stalledRecoveryDisabled[name] {
				opts = append(opts, DisableStalledRecovery())
			}
			return NewBrokerQueue(name, driver, opts...), nil
		})
		if err != nil {
			return makerOut{}, err
		}
		return makerOut{Registry: registry}, nil
	}
}

// ProvideRunGroup implements container.RunProvider.
func (m makerOut) ProvideRunGroup(group *run.Group) {
	for _, q := range m.Registry.Brokers() {
		consumer := q
		ctx, cancel := context.WithCancel(context.Background())
		group.Add(func() error {
			return consumer.Consume(ctx)
		}, func(err error) {
			cancel()
		})
	}
}

// ProvideCommand implements container.CommandProvider.
func (m makerOut) ProvideCommand(command *cobra.Command) {
	command.AddCommand(NewCommand(m.Registry))
}

func newDefaultDriver(args DriverConstructorArgs) (Driver, error) {
	if args.RedisMaker == nil {
		return nil, fmt.Errorf("the default driver requires an otredis.Maker in DI container")
	}
	client, err := args.RedisMaker.Make(args.Conf.RedisName)
	if err != nil {
		return nil, fmt.Errorf("the default driver requires the redis client called %s: %w", args.Conf.RedisName, err)
	}
	return &RedisDriver{
		Logger:               args.Logger,
		RedisClient:          client,
		ChannelConfig:        NewChannelConfig(fmt.Sprintf("%s:%s", args.AppName.String(), args.Env.String()), args.Name),
		DefaultHandleTimeout: time.Duration(args.Conf.HandleTimeoutSecond) * time.Second,
	}, nil
}

type configOut struct {
	di.Out

	Config []config.ExportedConfig `group:"config,flatten"`
}

func provideConfig() configOut {
	configs := []config.ExportedConfig{{
		Owner: "queue",
		Data: map[string]interface{}{
			"queue": map[string]Configuration{
				"default": {
					RedisName:                      "default",
					Parallelism:                    runtime.NumCPU(),
					CheckQueueLengthIntervalSecond: 15,
					HandleTimeoutSecond:            3600,
					StalledCheckIntervalSecond:     30,
				},
			},
		},
	}}
	return configOut{Config: configs}
}
