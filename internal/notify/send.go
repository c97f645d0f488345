package notify

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"sync"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"
)

// Service is a named notification destination.
type Service struct {
	URL    string            `yaml:"url" validate:"required"`
	Params map[string]string `yaml:"params"`
	// RatePerMinute caps deliveries to the service; 0 means unlimited.
	RatePerMinute int `yaml:"rate_per_minute" validate:"min=0"`
}

// Sender delivers one message to a shoutrrr service URL.
type Sender interface {
	Send(rawURL, message string, params map[string]string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(rawURL, message string, params map[string]string) error

func (f SenderFunc) Send(rawURL, message string, params map[string]string) error {
	return f(rawURL, message, params)
}

// Shoutrrr sends through github.com/nicholas-fedor/shoutrrr.
type Shoutrrr struct{}

func (Shoutrrr) Send(rawURL, message string, params map[string]string) error {
	sender, err := shoutrrr.CreateSender(rawURL)
	if err != nil {
		return fmt.Errorf("creating sender: %w", err)
	}

	p := types.Params(params)
	if p == nil {
		p = types.Params{}
	}
	errs := sender.Send(message, &p)
	for _, e := range errs {
		if e != nil {
			return fmt.Errorf("sending: %w", e)
		}
	}

	return nil
}

// Notifier resolves named services and delivers messages to them.
type Notifier struct {
	services map[string]Service
	sender   Sender

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewNotifier creates a Notifier. A nil sender uses Shoutrrr.
func NewNotifier(services map[string]Service, sender Sender) *Notifier {
	if sender == nil {
		sender = Shoutrrr{}
	}
	return &Notifier{
		services: services,
		sender:   sender,
		limiters: make(map[string]*rate.Limiter),
	}
}

// HasService reports whether name is configured.
func (n *Notifier) HasService(name string) bool {
	_, ok := n.services[name]
	return ok
}

// Notify sends message to the named service. Service params are folded into
// the URL; params are passed to the service per message.
func (n *Notifier) Notify(ctx context.Context, service, message string, params map[string]string) error {
	svc, ok := n.services[service]
	if !ok {
		return fmt.Errorf("unknown service %q", service)
	}

	rawURL, err := applyParams(svc.URL, svc.Params)
	if err != nil {
		return fmt.Errorf("service %s: %w", service, err)
	}

	if lim := n.limiter(service, svc.RatePerMinute); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return fmt.Errorf("service %s: rate limit: %w", service, err)
		}
	}

	if err := n.sender.Send(rawURL, message, maps.Clone(params)); err != nil {
		return fmt.Errorf("service %s: %w", service, err)
	}
	return nil
}

// Mail sends a message through the SMTP settings in cfg.
func (n *Notifier) Mail(ctx context.Context, cfg MailConfig, subject, body string) error {
	rawURL, err := cfg.URL()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.sender.Send(rawURL, body, map[string]string{"subject": subject}); err != nil {
		return fmt.Errorf("mail to %v: %w", cfg.To, err)
	}
	return nil
}

func (n *Notifier) limiter(service string, perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	lim, ok := n.limiters[service]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		n.limiters[service] = lim
	}
	return lim
}

// applyParams merges params into the query string of rawURL.
func applyParams(rawURL string, params map[string]string) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
