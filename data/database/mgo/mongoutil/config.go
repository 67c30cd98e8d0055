package mongoutil

import (
	"net/url"
	"strconv"
	"strings"

	"PPMall/tools/errs"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// Config Uri 与 Address 二选一；都给时以 Uri 为准
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
	MaxRetry    int
}

// normalize 校验并补默认值；只给了 Address 时拼出 Uri
func (c *Config) normalize() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.ErrArgs.WrapMsg("mongo uri or address is required")
	}
	if c.Database == "" {
		return errs.ErrArgs.WrapMsg("mongo database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		c.Uri = c.addressURI()
	}
	return nil
}

func (c *Config) addressURI() string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(c.Address, ","),
		Path:   "/" + c.Database,
	}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	authSource := c.AuthSource
	if authSource == "" {
		authSource = c.Database
	}
	q := url.Values{}
	q.Set("authSource", authSource)
	q.Set("maxPoolSize", strconv.Itoa(c.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}
