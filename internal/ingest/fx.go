package ingest

import "go.uber.org/fx"

var Module = fx.Module("ingest.pipeline",
	fx.Provide(New),
)
