package linking

import (
	"github.com/lanternhq/lantern/services/mail"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(func(m *mail.Service) Mailer { return m }),
	fx.Provide(NewService),
)
