//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/qsynth/cmd/api/api"
	"github.com/onkernel/qsynth/cmd/api/config"
	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/otel"
	"github.com/onkernel/qsynth/lib/paths"
	"github.com/onkernel/qsynth/lib/providers"
	"github.com/onkernel/qsynth/lib/synth"
)

// application struct to hold initialized components
type application struct {
	Ctx          context.Context
	Logger       *slog.Logger
	Config       *config.Config
	Paths        *paths.Paths
	Capabilities *caps.Set
	SynthManager synth.Manager
	ApiService   *api.ApiService
}

// initializeApp is the injector function
func initializeApp(cfg *config.Config, otelProvider *otel.Provider) (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvidePaths,
		providers.ProvideCapabilities,
		providers.ProvideHostResources,
		providers.ProvideSynthConfig,
		providers.ProvideSynthManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
