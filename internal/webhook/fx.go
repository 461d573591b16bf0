package webhook

import (
	"github.com/smallbiznis/voxbill/internal/webhook/dispatcher"
	"github.com/smallbiznis/voxbill/internal/webhook/repository"
	"github.com/smallbiznis/voxbill/internal/webhook/retry"
	"github.com/smallbiznis/voxbill/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(dispatcher.New),
	fx.Provide(retry.Provide),
	fx.Provide(service.New),
)
