package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// FallbackPrinter prints through a primary printer and emails the ticket to
// the kitchen when that fails or no printer is configured.
type FallbackPrinter struct {
	primary Printer
	mailer  Mailer
	to      string
}

// NewFallbackPrinter creates a FallbackPrinter. primary may be nil, in which
// case every ticket goes by email to kitchenEmail.
func NewFallbackPrinter(primary Printer, mailer Mailer, kitchenEmail string) *FallbackPrinter {
	return &FallbackPrinter{primary: primary, mailer: mailer, to: kitchenEmail}
}

func (p *FallbackPrinter) PrintTicket(ctx context.Context, t Ticket) error {
	var printErr error
	if p.primary != nil {
		printErr = p.primary.PrintTicket(ctx, t)
		if printErr == nil {
			return nil
		}
		zctx.From(ctx).Warn("Kitchen printer failed, falling back to email",
			zap.String("order_id", t.OrderID),
			zap.Error(printErr),
		)
	}

	err := p.mailer.Send(ctx, Email{
		To:           p.to,
		Subject:      "Kitchen " + t.Title,
		Text:         t.Content,
		Preformatted: true,
	})
	if err != nil {
		if printErr != nil {
			return errors.Wrapf(err, "email fallback after print failure (%v)", printErr)
		}
		return errors.Wrap(err, "email ticket")
	}
	return nil
}
