package handler

import (
	"context"
	"fmt"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
)

type notifyParams struct {
	Service string            `mapstructure:"service" validate:"required"`
	Message string            `mapstructure:"message"`
	Params  map[string]string `mapstructure:"params"`
	MaxLen  int               `mapstructure:"maxlen" validate:"min=0"`
}

type notifyHandler struct {
	notifier *notify.Notifier
	params   notifyParams
}

func notifySpec(deps Deps) Spec {
	build := func(p Params) (*notifyHandler, error) {
		var np notifyParams
		if err := decode(p, &np); err != nil {
			return nil, check.Invalidf("notify", "%v", err)
		}
		return &notifyHandler{notifier: deps.Notifier, params: np}, nil
	}
	return Spec{
		Name: "notify",
		Doc:  "Send a message to a configured service (chat, push, SMS gateway). maxlen truncates the message.",
		New: func(p Params) (Handler, error) {
			return build(p)
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return build(p)
		},
	}
}

func (n *notifyHandler) send(ctx context.Context, message string) error {
	message = notify.Truncate(message, n.params.MaxLen)
	return n.notifier.Notify(ctx, n.params.Service, message, n.params.Params)
}

func (n *notifyHandler) Handle(ctx context.Context, env *Env) (Verdict, error) {
	msg := n.params.Message
	if msg == "" {
		r := env.Result
		msg = fmt.Sprintf("%s %s on %s: %s", notify.StatusEmoji(r.Status()), env.Check.Name, r.Target, r.Status())
	}
	if err := n.send(ctx, msg); err != nil {
		return Halt, err
	}
	env.Logger.Debug("notification sent", "service", n.params.Service)
	return Continue, nil
}

func (n *notifyHandler) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	msg := n.params.Message
	if msg == "" {
		msg = notify.Subject(b.Check.Name, b.Status, b.Results)
		if b.MarkedResolved {
			msg = notify.ResolvedBody(b.Check.Name, b.User, b.Results)
		}
	}
	if err := n.send(ctx, msg); err != nil {
		return nil, err
	}
	b.Logger.Debug("notification sent", "service", n.params.Service)
	return nil, nil
}
