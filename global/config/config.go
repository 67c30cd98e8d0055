package config

import (
	"context"
	"time"

	"PPMall/data/database/mgo/mongoutil"
	"PPMall/data/database/pg"
	"PPMall/logger"
	"PPMall/service/bus"
	"PPMall/service/kafka"
	redisSrv "PPMall/service/storage/redis"
	"PPMall/tools/errs"
	"PPMall/tools/ids"

	"github.com/Shopify/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps 进程级外部依赖；按节点角色按需初始化，未用到的为 nil
type Deps struct {
	Cfg *AppConfig

	Redis         *redis.Client
	PG            *pgxpool.Pool
	Mongo         *mongoutil.Client
	Bus           bus.Bus
	Kafka         sarama.Client
	KafkaProducer sarama.SyncProducer
}

// ConfigAll 按角色初始化依赖；任一步失败会关闭已打开的依赖
func ConfigAll(ctx context.Context, cfg *AppConfig) (d *Deps, err error) {
	d = &Deps{Cfg: cfg}
	defer func() {
		if err != nil {
			d.Close()
			d = nil
		}
	}()

	if err = ConfigLogger(cfg); err != nil {
		return
	}
	if err = ConfigIds(cfg); err != nil {
		return
	}
	if err = d.ConfigRedis(ctx); err != nil {
		return
	}
	if cfg.UsesMongo() {
		if err = d.ConfigMgo(ctx); err != nil {
			return
		}
	}
	if cfg.Has(NodeTypeApiNode) || cfg.Has(NodeTypeGateway) {
		if err = d.ConfigBus(); err != nil {
			return
		}
	}
	if cfg.Has(NodeTypeApiNode) || cfg.Has(NodeTypeReconciler) {
		if err = d.ConfigPostgres(ctx); err != nil {
			return
		}
	}
	if cfg.Reconcile.DeadLetter == DeadLetterKafka {
		if err = d.ConfigKafka(); err != nil {
			return
		}
	}
	return d, nil
}

func ConfigLogger(cfg *AppConfig) error {
	return logger.Setup(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func ConfigIds(cfg *AppConfig) error {
	logger.Info("配置id生成", zap.Int64("snowflake_node", cfg.SnowflakeNode))
	return ids.SetNodeID(cfg.SnowflakeNode)
}

func (d *Deps) ConfigRedis(ctx context.Context) error {
	c := d.Cfg.Redis
	err := redisSrv.InitRedis(ctx, redisSrv.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	if err != nil {
		return err
	}
	d.Redis = redisSrv.GetRedis()
	logger.Info("redis ready", zap.String("addr", c.Addr))
	return nil
}

func (d *Deps) ConfigPostgres(ctx context.Context) error {
	pool, err := pg.NewPool(ctx, pg.Config{DSN: d.Cfg.Postgres.DSN, MaxConns: d.Cfg.Postgres.MaxConns})
	if err != nil {
		return err
	}
	d.PG = pool
	logger.Info("postgres ready")
	return nil
}

func (d *Deps) ConfigMgo(ctx context.Context) error {
	c := d.Cfg.Mongo
	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:         c.Uri,
		Database:    c.Database,
		Username:    c.Username,
		Password:    c.Password,
		MaxPoolSize: c.MaxPoolSize,
		MaxRetry:    c.MaxRetry,
	})
	if err != nil {
		return err
	}
	d.Mongo = cli
	logger.Info("mongo ready", zap.String("db", c.Database))
	return nil
}

// ConfigBus 所有进程订阅同一 subject/channel，不用队列组
func (d *Deps) ConfigBus() error {
	c := d.Cfg.Bus
	idem := bus.IdemMiddleware(bus.NewMemIdem(c.IdemTTL), c.IdemTTL)
	switch c.Driver {
	case BusDriverRedis:
		d.Bus = bus.NewRedisBus(d.Redis, c.Subject, idem)
	case BusDriverNats:
		b, err := bus.NewNatsBus(bus.NatsConfig{
			Servers:  d.Cfg.Nats.Servers,
			Name:     d.Cfg.NodeId,
			User:     d.Cfg.Nats.User,
			Password: d.Cfg.Nats.Password,
			Subject:  c.Subject,
		}, idem)
		if err != nil {
			return err
		}
		d.Bus = b
	default:
		return errs.ErrArgs.WrapMsg("unknown bus driver", "driver", c.Driver)
	}
	logger.Info("bus ready", zap.String("driver", c.Driver), zap.String("subject", c.Subject))
	return nil
}

// ConfigKafka 死信镜像用的 producer；启动时确保 topic 存在
func (d *Deps) ConfigKafka() error {
	c := d.Cfg.Kafka
	kc := kafka.DefaultConfig(c.Brokers)
	kc.PartitionsPerTopic = c.Partitions
	kc.ReplicationFactor = c.ReplicationFactor

	admin, err := sarama.NewClusterAdmin(c.Brokers, kafka.BuildBaseConfig(kc))
	if err != nil {
		return errs.WrapMsg(err, "kafka cluster admin", "brokers", c.Brokers)
	}
	err = kafka.EnsureTopics(admin, []string{c.DeadLetterTopic}, kc)
	_ = admin.Close()
	if err != nil {
		return err
	}

	client, err := kafka.NewClient(kc)
	if err != nil {
		return err
	}
	producer, err := kafka.NewSyncProducer(client)
	if err != nil {
		_ = client.Close()
		return err
	}
	d.Kafka, d.KafkaProducer = client, producer
	logger.Info("kafka ready", zap.Strings("brokers", c.Brokers), zap.String("topic", c.DeadLetterTopic))
	return nil
}

// Ready 健康检查：探测已初始化的存储
func (d *Deps) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return errs.WrapMsg(err, "redis")
		}
	}
	if d.PG != nil {
		if err := d.PG.Ping(ctx); err != nil {
			return errs.WrapMsg(err, "postgres")
		}
	}
	if d.Mongo != nil {
		if err := d.Mongo.Ping(ctx); err != nil {
			return errs.WrapMsg(err, "mongo")
		}
	}
	return nil
}

// Close 逆序关闭
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.KafkaProducer != nil {
		_ = d.KafkaProducer.Close()
	}
	if d.Kafka != nil {
		_ = d.Kafka.Close()
	}
	if d.Bus != nil {
		_ = d.Bus.Close()
	}
	if d.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = d.Mongo.Close(ctx)
		cancel()
	}
	if d.PG != nil {
		d.PG.Close()
	}
	if d.Redis != nil {
		_ = redisSrv.CloseRedis()
	}
	logger.Sync()
}
