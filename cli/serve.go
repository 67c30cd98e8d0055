package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PPMall/global/config"
	"PPMall/logger"
	midsec "PPMall/middleware/security"
	"PPMall/module/api"
	"PPMall/module/notify"
	"PPMall/module/order"
	"PPMall/service/cache"
	"PPMall/service/chat"
	"PPMall/service/reconcile"
	"PPMall/service/stock"
	"PPMall/tools/safe"
	"PPMall/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node roles listed in NODE_TYPES (api, gateway, reconciler)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// node 一个进程内装配好的组件
type node struct {
	deps   *config.Deps
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	conns  *chat.ConnManager
	worker *reconcile.Worker
	sched  *cache.Scheduler
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	deps, err := config.ConfigAll(ctx, cfg)
	if err != nil {
		return err
	}
	n, err := assemble(ctx, deps)
	if err != nil {
		return err
	}
	defer n.shutdown()

	errCh := make(chan error, 3)
	if n.worker != nil {
		safe.Go("reconcile.worker", func() { errCh <- n.worker.Run(ctx) })
	}
	safe.Go("grpc.health", func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GrpcPort))
		if err != nil {
			errCh <- err
			return
		}
		logger.Info("[gRPC] listening", zap.Int("port", cfg.GrpcPort))
		if err := n.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	})
	if n.http != nil {
		safe.Go("http", func() {
			logger.Info("[HTTP] listening", zap.String("addr", n.http.Addr))
			if err := n.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		})
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.String("node", cfg.NodeId))
		return nil
	case err := <-errCh:
		return err
	}
}

// assemble 按节点角色装配组件；失败时释放已创建的部分（含 deps）
func assemble(ctx context.Context, deps *config.Deps) (_ *node, err error) {
	cfg := deps.Cfg
	n := &node{deps: deps, grpc: grpc.NewServer(), health: health.NewServer()}
	defer func() {
		if err != nil {
			n.shutdown()
		}
	}()
	healthpb.RegisterHealthServer(n.grpc, n.health)

	engine := stock.NewEngine(deps.Redis)
	engine.DeltaStream = cfg.Reconcile.Stream

	var (
		ledger *reconcile.PgLedger
		dead   reconcile.DeadLetterStore
	)
	if deps.PG != nil {
		ledger = reconcile.NewPgLedger(deps.PG)
		if err = ledger.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		rd := reconcile.NewRedisDeadLetters(deps.Redis)
		rd.Stream, rd.DeltaStream = cfg.Reconcile.DeadStream, cfg.Reconcile.Stream
		dead = rd
		if deps.KafkaProducer != nil {
			dead = &reconcile.KafkaDeadLetters{Producer: deps.KafkaProducer, Topic: cfg.Kafka.DeadLetterTopic, Next: rd}
		}
	}

	if cfg.Has(config.NodeTypeReconciler) {
		n.worker = reconcile.NewWorker(deps.Redis, ledger, dead, reconcile.Options{
			Stream:      cfg.Reconcile.Stream,
			Group:       cfg.Reconcile.Group,
			Consumer:    cfg.NodeId,
			Batch:       cfg.Reconcile.Batch,
			Block:       cfg.Reconcile.Block,
			MaxAttempts: cfg.Reconcile.MaxAttempts,
			BaseBackoff: cfg.Reconcile.BaseBackoff,
			MaxBackoff:  cfg.Reconcile.MaxBackoff,
			ClaimIdle:   cfg.Reconcile.ClaimIdle,
			ClaimEvery:  cfg.Reconcile.ClaimEvery,
		})
		n.health.SetServingStatus("ppmall.reconciler", healthpb.HealthCheckResponse_SERVING)
	}

	if !cfg.Has(config.NodeTypeApiNode) && !cfg.Has(config.NodeTypeGateway) {
		return n, nil
	}

	auth := midsec.NewAuthenticator(midsec.DefaultOptions(security.Options{
		Secret: []byte(cfg.JWT.Secret),
		Alg:    cfg.JWT.Alg,
		TTL:    cfg.JWT.TTL,
	}))
	srv := &api.Server{Auth: auth, Ready: deps.Ready, AllowedOrigins: cfg.Gateway.AllowedOrigins}

	// 网关节点经由 ConnManager 发布；纯 API 节点直接发到总线
	var pub notify.Publisher = deps.Bus
	if cfg.Has(config.NodeTypeGateway) {
		n.conns = chat.NewConnManager(cfg.NodeId, deps.Bus, chat.ManagerConf{
			MaxPerPrincipal: cfg.Gateway.MaxPerPrincipal,
			EvictOldest:     cfg.Gateway.EvictOldest,
			IdleTTL:         cfg.Gateway.PongWait * 2,
		})
		if err = n.conns.Start(ctx); err != nil {
			return nil, err
		}
		srv.Gateway = chat.NewGateway(n.conns, auth, chat.GatewayConf{
			SendQueue:    cfg.Gateway.SendQueue,
			PingInterval: cfg.Gateway.PingInterval,
			PongWait:     cfg.Gateway.PongWait,
			WriteWait:    cfg.Gateway.WriteWait,
			ReadLimit:    cfg.Gateway.ReadLimit,
		})
		pub = n.conns
		n.health.SetServingStatus("ppmall.gateway", healthpb.HealthCheckResponse_SERVING)
	}

	if cfg.Has(config.NodeTypeApiNode) {
		var store notify.Store
		if store, err = notifyStore(ctx, deps); err != nil {
			return nil, err
		}
		srv.Notify = store
		srv.Chat = notify.NewChatService(store, pub)
		srv.Dead = dead
		srv.Stock = &stock.Admin{Engine: engine, Ledger: ledger}

		if n.sched, err = cache.NewScheduler(cfg.Cache.MaxPending); err != nil {
			return nil, err
		}
		repo := order.NewPgRepo(deps.PG)
		if err = repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		srv.Orders = &api.Orders{
			Service: order.NewService(engine, stock.NewReseeder(engine, ledger),
				cache.NewInvalidator(deps.Redis, n.sched, cfg.Cache.SecondDeleteDelay),
				notify.NewNotifier(store, pub)),
			Store:        repo,
			Cache:        deps.Redis,
			DashboardTTL: cfg.Cache.DashboardTTL,
		}
		n.health.SetServingStatus("ppmall.api", healthpb.HealthCheckResponse_SERVING)
	}

	gin.SetMode(gin.ReleaseMode)
	n.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return n, nil
}

// shutdown 先摘流量，再停后台任务，最后关依赖
func (n *node) shutdown() {
	n.health.Shutdown()
	if n.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := n.http.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		cancel()
	}
	n.grpc.GracefulStop()
	if n.conns != nil {
		n.conns.Close()
	}
	if n.sched != nil {
		n.sched.Close()
	}
	n.deps.Close()
}

// notifyStore api 节点的通知/聊天存储；memory 仅用于单节点开发
func notifyStore(ctx context.Context, deps *config.Deps) (notify.Store, error) {
	cfg := deps.Cfg
	if !cfg.UsesMongo() {
		logger.Warn("notify store is in-memory, records are lost on restart")
		return notify.NewMemStore(), nil
	}
	store := notify.NewMongoStore(deps.Mongo.GetDB(), cfg.Notify.Retention)
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
