package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zizhongfeiyang/MaiM-Connect/cmd/maimconn/internal"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/logger"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/message"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/server"
	"github.com/zizhongfeiyang/MaiM-Connect/pkg/wsconn"
)

func serveCmd(configPath string, debug, echo bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	srv := server.New(server.Config{
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Path:  cfg.Server.Path,
		Token: cfg.Server.Token,
		Conn: wsconn.Options{
			QueueSize:         cfg.Transport.QueueSize,
			HeartbeatInterval: cfg.Transport.HeartbeatInterval(),
			DrainTimeout:      cfg.Transport.DrainTimeout(),
		},
	})

	srv.OnMessage(func(connID string, m *message.Message) {
		logger.InfoCF("serve", "message received", map[string]any{
			"conn":     connID,
			"platform": m.Info.Platform,
			"user":     m.Info.UserInfo.UserID,
			"kinds":    len(m.Segment.Kinds()),
		})
		if echo {
			if err := srv.SendTo(connID, m); err != nil {
				logger.WarnCF("serve", "echo failed", map[string]any{
					"conn":  connID,
					"error": err.Error(),
				})
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("maimconn serving on %s%s\n", srv.Addr(), cfg.Server.Path)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
