package telephony

import (
	"github.com/smallbiznis/voxbill/internal/telephony/normalizer"
	"go.uber.org/fx"
)

var Module = fx.Module("telephony",
	fx.Provide(normalizer.New),
)
