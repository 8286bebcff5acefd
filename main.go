package main

import (
	"context"
	"time"

	"LiveDesk/global"
	"LiveDesk/logger"
	"LiveDesk/module/support/api"
	"LiveDesk/module/support/handler"
	"LiveDesk/module/support/service"
	"LiveDesk/module/support/store"
	"LiveDesk/service/chat"
	"LiveDesk/service/kafka"
	"LiveDesk/service/storage/pg"
	rds "LiveDesk/service/storage/redis"
	"LiveDesk/tools/ids"
	"LiveDesk/tools/safe"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := global.ConfigAll()
	ids.SetNodeID(cfg.SnowNodeID)

	// ===== 存储 =====
	if err := pg.InitPg(pg.Config{URL: cfg.PgURL}); err != nil {
		logger.Errorf("postgres init failed: %v", err)
		return
	}
	st := store.NewPgStore(pg.GetPool())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.EnsureSchema(ctx); err != nil {
		cancel()
		logger.Errorf("schema init failed: %v", err)
		return
	}
	cancel()

	// redis 挂了只影响输入状态和报表缓存，服务照常起
	if err := rds.InitRedis(rds.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 64,
	}); err != nil {
		logger.Warnf("redis init failed, typing indicators degraded: %v", err)
	}

	// kafka 可选：没配 broker 就不开报表旁路
	if len(cfg.KafkaBrokers) > 0 {
		if err := kafka.InitKafkaClient(cfg.KafkaBrokers); err != nil {
			logger.Warnf("kafka init failed, lifecycle export disabled: %v", err)
		} else if err := kafka.InitAsyncProducerFromClient(); err != nil {
			logger.Warnf("kafka producer init failed: %v", err)
		}
	}

	// ===== 网关 + 状态机 =====
	connMgr := chat.NewConnManager(chat.ManagerConf{})
	srv := chat.NewServer(connMgr, cfg.JwtOptions())
	desk := service.NewDesk(st, service.NewChatNotifier(srv), cfg.TenantID)
	handler.Register(srv, desk)

	// ===== 路由 =====
	if safe.GetEnvBool("DESK_DEBUG", false) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", srv.HandleWS)
	api.New(st, cfg.JwtOptions(), cfg.TenantID).Mount(r)

	logger.Infof("livedesk listening on %s tenant=%s", cfg.HTTPAddr, cfg.TenantID)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Errorf("http server exited: %v", err)
	}
}
