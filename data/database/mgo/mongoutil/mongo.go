package mongoutil

import (
	"context"
	"time"

	"PPMall/logger"
	"PPMall/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type Client struct {
	cli *mongo.Client
	db  *mongo.Database
}

func (c *Client) GetDB() *mongo.Database { return c.db }

func (c *Client) Close(ctx context.Context) error {
	return c.cli.Disconnect(ctx)
}

// Ping 就绪检查用
func (c *Client) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx, nil)
}

func clientOptions(c *Config) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(c.Uri).
		SetMaxPoolSize(uint64(c.MaxPoolSize)).
		SetServerSelectionTimeout(10 * time.Second).
		SetAppName("PPMall")
	// 单独配置的账号覆盖 URI 里的认证
	if c.Username != "" && len(c.Address) == 0 {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}
	return opts
}

// NewMongoDB 连接并 Ping，失败按 MaxRetry 退避重试
func NewMongoDB(ctx context.Context, c *Config) (*Client, error) {
	if err := c.normalize(); err != nil {
		return nil, err
	}
	opts := clientOptions(c)

	var (
		cli *mongo.Client
		err error
	)
	for attempt := 1; attempt <= c.MaxRetry; attempt++ {
		cli, err = connect(ctx, opts)
		if err == nil || !retryable(ctx, err) || attempt == c.MaxRetry {
			break
		}
		logger.Warn("mongo connect failed, retrying",
			zap.Int("attempt", attempt), zap.String("db", c.Database), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, errs.WrapMsg(ctx.Err(), "connect mongo", "db", c.Database)
		case <-time.After(retryDelay(attempt)):
		}
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "connect mongo", "db", c.Database)
	}
	return &Client{cli: cli, db: cli.Database(c.Database)}, nil
}

func connect(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}
