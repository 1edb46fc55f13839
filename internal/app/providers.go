package app

import (
	"context"
	"fmt"

	"ictbt/internal/config"
)

// appAssembler 完成一次性装配，wire 通过它拿到最终的 App。
type appAssembler interface {
	Build(context.Context) (*App, error)
}

// provideAppBuilder 把调用方传入的选项（数据源、推送替身等）交给构建器。
func provideAppBuilder(cfg *config.Config, opts []AppBuilderOption) *AppBuilder {
	return NewAppBuilder(cfg, opts...)
}

func provideApp(ctx context.Context, a appAssembler) (*App, error) {
	app, err := a.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return app, nil
}
