package handler

import (
	"context"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/notify"
)

type mailParams struct {
	Subject  string   `mapstructure:"subject"`
	Body     string   `mapstructure:"body"`
	To       []string `mapstructure:"to" validate:"omitempty,dive,email"`
	From     string   `mapstructure:"from" validate:"omitempty,email"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port" validate:"min=0,max=65535"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

func (p mailParams) config(defaults notify.MailConfig) notify.MailConfig {
	return notify.MailConfig{
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
		From:     p.From,
		To:       p.To,
	}.Merge(defaults)
}

type mail struct {
	deps   Deps
	params mailParams
}

func mailSpec(deps Deps) Spec {
	build := func(p Params) (*mail, error) {
		var mp mailParams
		if err := decode(p, &mp); err != nil {
			return nil, check.Invalidf("mail", "%v", err)
		}
		return &mail{deps: deps, params: mp}, nil
	}
	return Spec{
		Name: "mail",
		Doc:  "Send an email. On alert lists subject and body default to a summary of every affected target.",
		New: func(p Params) (Handler, error) {
			m, err := build(p)
			if err != nil {
				return nil, err
			}
			if m.params.Subject == "" || m.params.Body == "" {
				return nil, check.Invalidf("mail", "subject and body are required")
			}
			return m, nil
		},
		NewBatch: func(p Params) (BatchHandler, error) {
			return build(p)
		},
	}
}

func (m *mail) Handle(ctx context.Context, env *Env) (Verdict, error) {
	cfg := m.params.config(m.deps.Mail)
	if err := m.deps.Notifier.Mail(ctx, cfg, m.params.Subject, m.params.Body); err != nil {
		return Halt, err
	}
	env.Logger.Info("mail sent", "to", cfg.To)
	return Continue, nil
}

func (m *mail) HandleBatch(ctx context.Context, b *Batch) ([]*check.Result, error) {
	subject := m.params.Subject
	if subject == "" {
		subject = notify.Subject(b.Check.Name, b.Status, b.Results)
	}
	body := m.params.Body
	if body == "" {
		if b.MarkedResolved {
			body = notify.ResolvedBody(b.Check.Name, b.User, b.Results)
		} else {
			body = notify.Body(b.Check.Name, b.Status, b.Results)
		}
	}

	cfg := m.params.config(m.deps.Mail)
	if err := m.deps.Notifier.Mail(ctx, cfg, subject, body); err != nil {
		return nil, err
	}
	b.Logger.Info("mail sent", "to", cfg.To, "subject", subject)
	return nil, nil
}
