package route

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/client"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/router"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/server"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/wsconn"
)

func routeCmd(configPath string, debug, bridge bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if len(cfg.Routes) == 0 {
		return errors.New("no targets in route_config; nothing to route")
	}

	connOpts := wsconn.Options{
		QueueSize:         cfg.Transport.QueueSize,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval(),
		DrainTimeout:      cfg.Transport.DrainTimeout(),
	}
	rt := router.New(cfg.RouteConfig(), router.Options{Client: client.Options{
		BackoffMin: cfg.Transport.BackoffMin(),
		BackoffMax: cfg.Transport.BackoffMax(),
		Conn:       connOpts,
	}})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *server.Server
	if bridge {
		srv = server.New(server.Config{
			Host:  cfg.Server.Host,
			Port:  cfg.Server.Port,
			Path:  cfg.Server.Path,
			Token: cfg.Server.Token,
			Conn:  connOpts,
		})

		// Accepted peer -> routed target, by the message's platform tag.
		srv.OnMessage(func(connID string, m *message.Message) {
			if err := rt.Send(m); err != nil {
				logger.WarnCF("route", "relay to target failed", map[string]any{
					"conn":     connID,
					"platform": m.Info.Platform,
					"error":    err.Error(),
				})
			}
		})
		// Routed target -> the accepted peer that announced the platform.
		rt.RegisterHandler(func(m *message.Message) {
			if err := srv.SendToPlatform(m.Info.Platform, m); err != nil {
				logger.WarnCF("route", "relay to peer failed", map[string]any{
					"platform": m.Info.Platform,
					"error":    err.Error(),
				})
			}
		})

		if err := srv.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("maimconn bridging on %s%s\n", srv.Addr(), cfg.Server.Path)
	} else {
		rt.RegisterHandler(func(m *message.Message) {
			logger.InfoCF("route", "message received", map[string]any{
				"platform": m.Info.Platform,
				"user":     m.Info.UserInfo.UserID,
			})
		})
	}

	if err := rt.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("maimconn routing %d platform(s)\n", len(cfg.Routes))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		srv.Stop(shutdownCtx)
	}
	return rt.Stop(shutdownCtx)
}
