//go:build wireinject

package app

import (
	"context"

	"ictbt/internal/config"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, opts []AppBuilderOption) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appAssembler), new(*AppBuilder)),
		provideApp,
	)
	return nil, nil
}
