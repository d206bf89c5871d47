package queue

import (
	"github.com/DoNewsCode/core/contract"
	"github.com/DoNewsCode/core/otredis"
	"github.com/go-kit/kit/log"
)

type providersOption struct {
	driverConstructor func(args DriverConstructorArgs) (Driver, error)
}

// ProvidersOptionFunc is the type of functional providersOption for Providers. Use this type to change how Providers work.
type ProvidersOptionFunc func(options *providersOption)

// WithDriverConstructor instructs the Providers to accept an alternative
// constructor for queue driver. It is called once per queue name. Setting it
// makes every queue durable even without a redis client.
func WithDriverConstructor(f func(args DriverConstructorArgs) (Driver, error)) ProvidersOptionFunc {
	return func(options *providersOption) {
		options.driverConstructor = f
	}
}

// WithInProcessDriver backs every queue with its own InProcessDriver.
func WithInProcessDriver() ProvidersOptionFunc {
	return WithDriverConstructor(func(args DriverConstructorArgs) (Driver, error) {
		return NewInProcessDriver(), nil
	})
}

// DriverConstructorArgs are arguments to construct the driver. See WithDriverConstructor.
type DriverConstructorArgs struct {
	Name       string
	Conf       Configuration
	Logger     log.Logger
	AppName    contract.AppName
	Env        contract.Env
	RedisMaker otredis.Maker
}
