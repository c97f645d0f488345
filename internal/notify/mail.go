package notify

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// MailConfig holds SMTP delivery settings.
type MailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Merge returns c with empty fields filled from defaults.
func (c MailConfig) Merge(defaults MailConfig) MailConfig {
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.Username == "" {
		c.Username = defaults.Username
	}
	if c.Password == "" {
		c.Password = defaults.Password
	}
	if c.From == "" {
		c.From = defaults.From
	}
	if len(c.To) == 0 {
		c.To = defaults.To
	}
	return c
}

// URL renders the settings as a shoutrrr smtp:// URL.
func (c MailConfig) URL() (string, error) {
	if c.Host == "" {
		return "", fmt.Errorf("mail: no smtp host configured")
	}
	if c.From == "" {
		return "", fmt.Errorf("mail: no sender address configured")
	}
	if len(c.To) == 0 {
		return "", fmt.Errorf("mail: no recipients")
	}
	port := c.Port
	if port == 0 {
		port = 25
	}

	u := url.URL{
		Scheme: "smtp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/",
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	q := url.Values{}
	q.Set("from", c.From)
	q.Set("to", strings.Join(c.To, ","))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
